package search

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"harmonia/internal/models"
)

// Format selects the export rendering.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// ParseFormat validates an export format string.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON, FormatCSV, FormatMarkdown, FormatText:
		return Format(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("%w: unsupported export format %q", ErrInvalidQuery, s)
	}
}

// Export is a rendered memory dump plus bookkeeping.
type Export struct {
	Data            string  `json:"data"`
	Format          Format  `json:"format"`
	MemoryCount     int     `json:"memory_count"`
	ExportDate      string  `json:"export_date"`
	ExecutionTimeMS float64 `json:"execution_time_ms"`
	IncludeMetadata bool    `json:"include_metadata"`
}

// Export renders every memory matching the filter in the requested format.
func (e *Engine) Export(ctx context.Context, userID string, format Format, filter *Filter, includeMetadata bool) (*Export, error) {
	start := time.Now()

	store, err := e.router.Store(userID)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &Filter{}
	}

	// Exports are unpaginated; fetch everything matching the filter.
	memories, err := e.executeListing(ctx, store, filter, &Options{SortBy: SortCreatedAt, SortOrder: OrderAsc})
	if err != nil {
		return nil, fmt.Errorf("export listing failed: %w", err)
	}

	var data string
	switch format {
	case FormatJSON:
		data, err = exportJSON(memories, includeMetadata)
	case FormatCSV:
		data, err = exportCSV(memories, includeMetadata)
	case FormatMarkdown:
		data = exportMarkdown(memories, includeMetadata)
	case FormatText:
		data = exportText(memories, includeMetadata)
	default:
		return nil, fmt.Errorf("%w: unsupported export format %q", ErrInvalidQuery, format)
	}
	if err != nil {
		return nil, fmt.Errorf("export failed: %w", err)
	}

	log.Printf("📤 Exported %d memories for user %s as %s", len(memories), userID, format)
	return &Export{
		Data:            data,
		Format:          format,
		MemoryCount:     len(memories),
		ExportDate:      time.Now().UTC().Format(time.RFC3339),
		ExecutionTimeMS: msSince(start),
		IncludeMetadata: includeMetadata,
	}, nil
}

func exportJSON(memories []*models.Memory, includeMetadata bool) (string, error) {
	out := make([]map[string]interface{}, 0, len(memories))
	for _, m := range memories {
		entry := map[string]interface{}{
			"memory_id":        m.MemoryID,
			"content":          m.Content,
			"category":         m.Category,
			"confidence_score": m.ConfidenceScore,
			"created_at":       m.CreatedAt.Format(time.RFC3339),
			"updated_at":       m.UpdatedAt.Format(time.RFC3339),
			"is_active":        m.IsActive,
		}
		if m.Timestamp != nil {
			entry["timestamp"] = m.Timestamp.Format(time.RFC3339)
		}
		if includeMetadata {
			entry["user_id"] = m.UserID
			entry["original_message"] = m.OriginalMessage
			entry["metadata"] = m.Metadata
		}
		out = append(out, entry)
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func exportCSV(memories []*models.Memory, includeMetadata bool) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	header := []string{"memory_id", "content", "category", "confidence_score",
		"created_at", "updated_at", "timestamp", "is_active"}
	if includeMetadata {
		header = append(header, "user_id", "original_message", "metadata")
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	for _, m := range memories {
		timestamp := ""
		if m.Timestamp != nil {
			timestamp = m.Timestamp.Format(time.RFC3339)
		}
		row := []string{
			m.MemoryID, m.Content, string(m.Category),
			strconv.FormatFloat(m.ConfidenceScore, 'f', -1, 64),
			m.CreatedAt.Format(time.RFC3339), m.UpdatedAt.Format(time.RFC3339),
			timestamp, strconv.FormatBool(m.IsActive),
		}
		if includeMetadata {
			metadata, err := m.MetadataJSON()
			if err != nil {
				return "", err
			}
			row = append(row, m.UserID, m.OriginalMessage, metadata)
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	w.Flush()
	return sb.String(), w.Error()
}

func exportMarkdown(memories []*models.Memory, includeMetadata bool) string {
	var sb strings.Builder
	sb.WriteString("# Memory Export\n\n")
	sb.WriteString(fmt.Sprintf("**Export Date:** %s\n", time.Now().Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("**Total Memories:** %d\n\n---\n\n", len(memories)))

	if len(memories) == 0 {
		sb.WriteString("No memories found.\n")
		return sb.String()
	}

	for i, m := range memories {
		sb.WriteString(fmt.Sprintf("## Memory %d\n\n", i+1))
		sb.WriteString(fmt.Sprintf("**Content:** %s\n", m.Content))
		sb.WriteString(fmt.Sprintf("**Category:** %s\n", m.Category))
		sb.WriteString(fmt.Sprintf("**Confidence:** %.2f\n", m.ConfidenceScore))
		if !m.CreatedAt.IsZero() {
			sb.WriteString(fmt.Sprintf("**Created:** %s\n", m.CreatedAt.Format("2006-01-02 15:04:05")))
		}
		if includeMetadata {
			sb.WriteString(fmt.Sprintf("**ID:** %s\n", m.MemoryID))
			sb.WriteString(fmt.Sprintf("**User ID:** %s\n", m.UserID))
			if m.OriginalMessage != "" {
				sb.WriteString(fmt.Sprintf("**Original Message:** %s\n", m.OriginalMessage))
			}
			if len(m.Metadata) > 0 {
				if metadata, err := json.MarshalIndent(m.Metadata, "", "  "); err == nil {
					sb.WriteString(fmt.Sprintf("**Metadata:**\n```json\n%s\n```\n", metadata))
				}
			}
		}
		sb.WriteString("\n---\n\n")
	}
	return sb.String()
}

func exportText(memories []*models.Memory, includeMetadata bool) string {
	var sb strings.Builder
	sb.WriteString("Memory Export\n=============\n\n")
	sb.WriteString(fmt.Sprintf("Export Date: %s\n", time.Now().Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Total Memories: %d\n\n", len(memories)))
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")

	if len(memories) == 0 {
		sb.WriteString("No memories found.\n")
		return sb.String()
	}

	for i, m := range memories {
		title := fmt.Sprintf("Memory %d", i+1)
		sb.WriteString(title + "\n")
		sb.WriteString(strings.Repeat("-", len(title)) + "\n")
		sb.WriteString(fmt.Sprintf("Content: %s\n", m.Content))
		sb.WriteString(fmt.Sprintf("Category: %s\n", m.Category))
		sb.WriteString(fmt.Sprintf("Confidence: %.2f\n", m.ConfidenceScore))
		if !m.CreatedAt.IsZero() {
			sb.WriteString(fmt.Sprintf("Created: %s\n", m.CreatedAt.Format("2006-01-02 15:04:05")))
		}
		if includeMetadata {
			sb.WriteString(fmt.Sprintf("ID: %s\n", m.MemoryID))
			sb.WriteString(fmt.Sprintf("User ID: %s\n", m.UserID))
			if m.OriginalMessage != "" {
				sb.WriteString(fmt.Sprintf("Original Message: %s\n", m.OriginalMessage))
			}
			if len(m.Metadata) > 0 {
				if metadata, err := json.Marshal(m.Metadata); err == nil {
					sb.WriteString(fmt.Sprintf("Metadata: %s\n", metadata))
				}
			}
		}
		sb.WriteString("\n" + strings.Repeat("-", 30) + "\n\n")
	}
	return sb.String()
}
