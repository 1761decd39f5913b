package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"harmonia/internal/database"
	"harmonia/internal/llm"
)

// Scheduler runs the recurring background jobs: the LLM health probe and a
// storage usage report.
type Scheduler struct {
	scheduler gocron.Scheduler
	client    *llm.Client
	router    *database.Router
}

// NewScheduler creates the background job scheduler. probeInterval controls
// how often the LLM is probed; reportInterval how often storage is surveyed.
func NewScheduler(client *llm.Client, router *database.Router, probeInterval, reportInterval time.Duration) (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create job scheduler: %w", err)
	}

	s := &Scheduler{scheduler: scheduler, client: client, router: router}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(probeInterval),
		gocron.NewTask(s.probeLLM),
		gocron.WithName("llm_health_probe"),
	); err != nil {
		return nil, fmt.Errorf("failed to schedule LLM health probe: %w", err)
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(reportInterval),
		gocron.NewTask(s.reportStorage),
		gocron.WithName("storage_report"),
	); err != nil {
		return nil, fmt.Errorf("failed to schedule storage report: %w", err)
	}

	return s, nil
}

// Start begins running the jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	log.Printf("🚀 [SCHEDULER] Background jobs started (%d jobs)", len(s.scheduler.Jobs()))
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() {
	if err := s.scheduler.Shutdown(); err != nil {
		log.Printf("⚠️ [SCHEDULER] Shutdown error: %v", err)
		return
	}
	log.Println("✅ [SCHEDULER] Background jobs stopped")
}

func (s *Scheduler) probeLLM() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := s.client.Health(ctx)
	switch report.Status {
	case "healthy":
		log.Printf("💚 [SCHEDULER] LLM healthy (%s, %.0fms)", report.Host, report.ResponseTimeMS)
	default:
		log.Printf("⚠️ [SCHEDULER] LLM %s: %v", report.Status, report.Errors)
	}
}

func (s *Scheduler) reportStorage() {
	stats, err := s.router.Stats()
	if err != nil {
		log.Printf("⚠️ [SCHEDULER] Storage report failed: %v", err)
		return
	}

	var total int64
	for _, u := range stats {
		total += u.DiskBytes
	}
	log.Printf("📊 [SCHEDULER] Storage: %d users, %.1f MB on disk, %d open handles",
		len(stats), float64(total)/(1024*1024), s.router.OpenHandles())
}
