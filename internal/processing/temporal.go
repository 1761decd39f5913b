package processing

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// TemporalType classifies a temporal expression.
type TemporalType string

const (
	TemporalAbsolute  TemporalType = "absolute"
	TemporalRelative  TemporalType = "relative"
	TemporalRecurring TemporalType = "recurring"
	TemporalDuration  TemporalType = "duration"
	TemporalRange     TemporalType = "range"
)

// TemporalInfo is one resolved temporal expression.
type TemporalInfo struct {
	OriginalText      string        `json:"original_text"`
	Type              TemporalType  `json:"temporal_type"`
	Start             *time.Time    `json:"start_datetime,omitempty"`
	End               *time.Time    `json:"end_datetime,omitempty"`
	Duration          time.Duration `json:"duration,omitempty"`
	Confidence        float64       `json:"confidence"`
	IsRecurring       bool          `json:"is_recurring"`
	RecurrencePattern string        `json:"recurrence_pattern,omitempty"`
}

var temporalCandidatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:tomorrow|yesterday|today|tonight)\b`),
	regexp.MustCompile(`(?i)\b(?:next|last|this)\s+(?:week|month|year|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
	regexp.MustCompile(`(?i)\b(?:in|after)\s+\d+\s+(?:minutes?|hours?|days?|weeks?|months?|years?)\b`),
	regexp.MustCompile(`(?i)\b\d+\s+(?:minutes?|hours?|days?|weeks?|months?|years?)\s+(?:ago|from now)\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}(?::\d{2})?\s*(?:am|pm)?\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}\s*(?:am|pm)\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(?:,\s*\d{4})?\b`),
	regexp.MustCompile(`(?i)\b(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
	regexp.MustCompile(`(?i)\bevery\s+(?:day|week|month|year|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
	regexp.MustCompile(`(?i)\b(?:daily|weekly|monthly|yearly|annually)\b`),
	regexp.MustCompile(`(?i)\bfor\s+\d+\s+(?:minutes?|hours?|days?|weeks?|months?|years?)\b`),
	regexp.MustCompile(`(?i)\bfrom\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?\s+to\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?\b`),
	regexp.MustCompile(`(?i)\bbetween\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?\s+and\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?\b`),
}

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sunday": time.Sunday,
}

var monthNames = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
}

// TemporalResolver converts relative and absolute time references into
// concrete timestamps against a reference time.
type TemporalResolver struct {
	reference time.Time
	parser    *when.Parser
}

// NewTemporalResolver builds a resolver; a zero reference means now.
func NewTemporalResolver(reference time.Time) *TemporalResolver {
	if reference.IsZero() {
		reference = time.Now()
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &TemporalResolver{reference: reference, parser: w}
}

// ParseAll finds every temporal expression in text, preferring the longest
// match where candidates overlap.
func (r *TemporalResolver) ParseAll(text string) []TemporalInfo {
	type span struct {
		text       string
		start, end int
	}
	var candidates []span
	for _, pattern := range temporalCandidatePatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			candidates = append(candidates, span{text[loc[0]:loc[1]], loc[0], loc[1]})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].start < candidates[j].start })

	var selected []span
	for _, c := range candidates {
		overlaps := false
		for i := 0; i < len(selected); i++ {
			prev := selected[i]
			if c.start < prev.end && c.end > prev.start {
				if c.end-c.start > prev.end-prev.start {
					selected = append(selected[:i], selected[i+1:]...)
					i--
					continue
				}
				overlaps = true
				break
			}
		}
		if !overlaps {
			selected = append(selected, c)
		}
	}

	var out []TemporalInfo
	for _, s := range selected {
		if info := r.Parse(s.text); info != nil {
			out = append(out, *info)
		}
	}
	return out
}

// Parse resolves a single expression, trying the specialized parsers in
// order and finally the general natural-language parser.
func (r *TemporalResolver) Parse(expr string) *TemporalInfo {
	expr = strings.ToLower(strings.TrimSpace(expr))
	if expr == "" {
		return nil
	}

	parsers := []func(string) *TemporalInfo{
		r.parseRelative,
		r.parseAbsolute,
		r.parseRecurring,
		r.parseDuration,
		r.parseRange,
	}
	for _, parse := range parsers {
		if info := parse(expr); info != nil {
			if info.Start != nil && !r.ValidRange(*info.Start) {
				continue
			}
			return info
		}
	}

	// General fallback for phrasings the explicit patterns miss.
	if result, err := r.parser.Parse(expr, r.reference); err == nil && result != nil {
		t := result.Time
		if r.ValidRange(t) {
			return &TemporalInfo{
				OriginalText: expr,
				Type:         TemporalRelative,
				Start:        &t,
				Confidence:   0.7,
			}
		}
	}
	return nil
}

func (r *TemporalResolver) parseRelative(expr string) *TemporalInfo {
	relative := func(t time.Time, conf float64) *TemporalInfo {
		return &TemporalInfo{OriginalText: expr, Type: TemporalRelative, Start: &t, Confidence: conf}
	}

	switch expr {
	case "tomorrow":
		return relative(r.reference.AddDate(0, 0, 1), 0.9)
	case "yesterday":
		return relative(r.reference.AddDate(0, 0, -1), 0.9)
	case "today":
		return relative(r.reference, 0.9)
	case "tonight":
		y, m, d := r.reference.Date()
		return relative(time.Date(y, m, d, 20, 0, 0, 0, r.reference.Location()), 0.9)
	case "next week":
		return relative(r.reference.AddDate(0, 0, 7), 0.9)
	case "last week":
		return relative(r.reference.AddDate(0, 0, -7), 0.9)
	case "this week", "this month", "this year":
		return relative(r.reference, 0.9)
	case "next month":
		return relative(addMonths(r.reference, 1), 0.9)
	case "last month":
		return relative(addMonths(r.reference, -1), 0.9)
	case "next year":
		return relative(r.reference.AddDate(1, 0, 0), 0.9)
	case "last year":
		return relative(r.reference.AddDate(-1, 0, 0), 0.9)
	}

	if m := regexp.MustCompile(`^(?:in|after)\s+(\d+)\s+(minutes?|hours?|days?|weeks?|months?|years?)$`).FindStringSubmatch(expr); m != nil {
		amount, _ := strconv.Atoi(m[1])
		return relative(addUnit(r.reference, amount, m[2]), 0.85)
	}
	if m := regexp.MustCompile(`^(\d+)\s+(minutes?|hours?|days?|weeks?|months?|years?)\s+ago$`).FindStringSubmatch(expr); m != nil {
		amount, _ := strconv.Atoi(m[1])
		return relative(addUnit(r.reference, -amount, m[2]), 0.85)
	}
	if m := regexp.MustCompile(`^(\d+)\s+(minutes?|hours?|days?|weeks?|months?|years?)\s+from\s+now$`).FindStringSubmatch(expr); m != nil {
		amount, _ := strconv.Atoi(m[1])
		return relative(addUnit(r.reference, amount, m[2]), 0.85)
	}

	if m := regexp.MustCompile(`^(next|last|this)\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)$`).FindStringSubmatch(expr); m != nil {
		target := weekdays[m[2]]
		delta := int(target) - int(r.reference.Weekday())
		switch m[1] {
		case "next":
			if delta <= 0 {
				delta += 7
			}
		case "last":
			if delta >= 0 {
				delta -= 7
			}
		}
		return relative(r.reference.AddDate(0, 0, delta), 0.85)
	}

	if target, ok := weekdays[expr]; ok {
		delta := int(target) - int(r.reference.Weekday())
		if delta <= 0 {
			delta += 7
		}
		return relative(r.reference.AddDate(0, 0, delta), 0.8)
	}

	return nil
}

func (r *TemporalResolver) parseAbsolute(expr string) *TemporalInfo {
	absolute := func(t time.Time, conf float64) *TemporalInfo {
		return &TemporalInfo{OriginalText: expr, Type: TemporalAbsolute, Start: &t, Confidence: conf}
	}

	if m := regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?\s*(am|pm)?$`).FindStringSubmatch(expr); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		second := 0
		if m[3] != "" {
			second, _ = strconv.Atoi(m[3])
		}
		hour = to24Hour(hour, m[4])
		if validClock(hour, minute, second) {
			t := r.atTime(hour, minute, second)
			return absolute(t, 0.9)
		}
	}
	if m := regexp.MustCompile(`^(\d{1,2})\s*(am|pm)$`).FindStringSubmatch(expr); m != nil {
		hour, _ := strconv.Atoi(m[1])
		hour = to24Hour(hour, m[2])
		if validClock(hour, 0, 0) {
			return absolute(r.atTime(hour, 0, 0), 0.9)
		}
	}

	if m := regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2,4})$`).FindStringSubmatch(expr); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if t, ok := r.buildDate(year, month, day); ok {
			return absolute(t, 0.95)
		}
	}
	if m := regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`).FindStringSubmatch(expr); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if t, ok := r.buildDate(year, month, day); ok {
			return absolute(t, 0.95)
		}
	}
	if m := regexp.MustCompile(`^(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2})(?:,\s*(\d{4}))?$`).FindStringSubmatch(expr); m != nil {
		month := monthNames[m[1]]
		day, _ := strconv.Atoi(m[2])
		year := r.reference.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		if t, ok := r.buildDate(year, int(month), day); ok {
			return absolute(t, 0.95)
		}
	}

	return nil
}

func (r *TemporalResolver) parseRecurring(expr string) *TemporalInfo {
	recurring := func(pattern string) *TemporalInfo {
		start := r.reference
		return &TemporalInfo{
			OriginalText:      expr,
			Type:              TemporalRecurring,
			Start:             &start,
			Confidence:        0.85,
			IsRecurring:       true,
			RecurrencePattern: pattern,
		}
	}

	switch expr {
	case "every day", "daily":
		return recurring("daily")
	case "every week", "weekly":
		return recurring("weekly")
	case "every month", "monthly":
		return recurring("monthly")
	case "every year", "yearly", "annually":
		return recurring("yearly")
	}

	if m := regexp.MustCompile(`^every\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)$`).FindStringSubmatch(expr); m != nil {
		return recurring("weekly_" + m[1])
	}
	return nil
}

func (r *TemporalResolver) parseDuration(expr string) *TemporalInfo {
	m := regexp.MustCompile(`^for\s+(\d+)\s+(minutes?|hours?|days?|weeks?|months?|years?)$`).FindStringSubmatch(expr)
	if m == nil {
		return nil
	}
	amount, _ := strconv.Atoi(m[1])
	d := unitDuration(amount, m[2])
	start := r.reference
	end := start.Add(d)
	return &TemporalInfo{
		OriginalText: expr,
		Type:         TemporalDuration,
		Start:        &start,
		End:          &end,
		Duration:     d,
		Confidence:   0.8,
	}
}

func (r *TemporalResolver) parseRange(expr string) *TemporalInfo {
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`^from\s+(\d{1,2}):(\d{2})\s*(am|pm)?\s+to\s+(\d{1,2}):(\d{2})\s*(am|pm)?$`),
		regexp.MustCompile(`^between\s+(\d{1,2}):(\d{2})\s*(am|pm)?\s+and\s+(\d{1,2}):(\d{2})\s*(am|pm)?$`),
		regexp.MustCompile(`^from\s+(\d{1,2})\s*(am|pm)?\s+to\s+(\d{1,2})\s*(am|pm)?$`),
		regexp.MustCompile(`^between\s+(\d{1,2})\s*(am|pm)?\s+and\s+(\d{1,2})\s*(am|pm)?$`),
	}

	var m []string
	for _, p := range patterns {
		if m = p.FindStringSubmatch(expr); m != nil {
			break
		}
	}
	if m == nil {
		return nil
	}

	var startHour, startMinute, endHour, endMinute int
	var startAmPm, endAmPm string
	if len(m) == 7 {
		startHour, _ = strconv.Atoi(m[1])
		startMinute, _ = strconv.Atoi(m[2])
		startAmPm = m[3]
		endHour, _ = strconv.Atoi(m[4])
		endMinute, _ = strconv.Atoi(m[5])
		endAmPm = m[6]
	} else {
		startHour, _ = strconv.Atoi(m[1])
		startAmPm = m[2]
		endHour, _ = strconv.Atoi(m[3])
		endAmPm = m[4]
	}

	startHour = to24Hour(startHour, startAmPm)
	endHour = to24Hour(endHour, endAmPm)
	if !validClock(startHour, startMinute, 0) || !validClock(endHour, endMinute, 0) {
		return nil
	}

	y, mo, d := r.reference.Date()
	start := time.Date(y, mo, d, startHour, startMinute, 0, 0, r.reference.Location())
	end := time.Date(y, mo, d, endHour, endMinute, 0, 0, r.reference.Location())
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}

	return &TemporalInfo{
		OriginalText: expr,
		Type:         TemporalRange,
		Start:        &start,
		End:          &end,
		Duration:     end.Sub(start),
		Confidence:   0.9,
	}
}

// ValidRange rejects timestamps outside a sane historical window.
func (r *TemporalResolver) ValidRange(t time.Time) bool {
	return t.Year() >= 1900 && t.Year() <= 2100
}

// NextOccurrence computes the next fire time of a recurring expression.
func (r *TemporalResolver) NextOccurrence(info *TemporalInfo) *time.Time {
	if info == nil || !info.IsRecurring || info.RecurrencePattern == "" {
		return nil
	}
	base := r.reference
	if info.Start != nil {
		base = *info.Start
	}

	var next time.Time
	switch {
	case info.RecurrencePattern == "daily":
		next = base.AddDate(0, 0, 1)
	case info.RecurrencePattern == "weekly":
		next = base.AddDate(0, 0, 7)
	case info.RecurrencePattern == "monthly":
		next = addMonths(base, 1)
	case info.RecurrencePattern == "yearly":
		next = base.AddDate(1, 0, 0)
	case strings.HasPrefix(info.RecurrencePattern, "weekly_"):
		name := strings.TrimPrefix(info.RecurrencePattern, "weekly_")
		target, ok := weekdays[name]
		if !ok {
			return nil
		}
		delta := (int(target) - int(base.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		next = base.AddDate(0, 0, delta)
	default:
		return nil
	}
	return &next
}

func (r *TemporalResolver) atTime(hour, minute, second int) time.Time {
	y, m, d := r.reference.Date()
	t := time.Date(y, m, d, hour, minute, second, 0, r.reference.Location())
	// A clock time that already passed today means tomorrow.
	if !t.After(r.reference) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func (r *TemporalResolver) buildDate(year, month, day int) (time.Time, bool) {
	if year < 100 {
		if year < 50 {
			year += 2000
		} else {
			year += 1900
		}
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	if day > daysInMonth(year, time.Month(month)) {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, r.reference.Location())
	if !r.ValidRange(t) {
		return time.Time{}, false
	}
	return t, true
}

func to24Hour(hour int, ampm string) int {
	switch strings.ToLower(ampm) {
	case "pm":
		if hour != 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	return hour
}

func validClock(hour, minute, second int) bool {
	return hour >= 0 && hour <= 23 && minute >= 0 && minute <= 59 && second >= 0 && second <= 59
}

func addMonths(t time.Time, months int) time.Time {
	month := int(t.Month()) - 1 + months
	year := t.Year() + month/12
	month = month % 12
	if month < 0 {
		month += 12
		year--
	}
	m := time.Month(month + 1)
	day := t.Day()
	if max := daysInMonth(year, m); day > max {
		day = max
	}
	return time.Date(year, m, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func addUnit(t time.Time, amount int, unit string) time.Time {
	unit = strings.TrimSuffix(unit, "s")
	switch unit {
	case "minute":
		return t.Add(time.Duration(amount) * time.Minute)
	case "hour":
		return t.Add(time.Duration(amount) * time.Hour)
	case "day":
		return t.AddDate(0, 0, amount)
	case "week":
		return t.AddDate(0, 0, amount*7)
	case "month":
		return addMonths(t, amount)
	case "year":
		return t.AddDate(amount, 0, 0)
	}
	return t
}

func unitDuration(amount int, unit string) time.Duration {
	unit = strings.TrimSuffix(unit, "s")
	switch unit {
	case "minute":
		return time.Duration(amount) * time.Minute
	case "hour":
		return time.Duration(amount) * time.Hour
	case "day":
		return time.Duration(amount) * 24 * time.Hour
	case "week":
		return time.Duration(amount) * 7 * 24 * time.Hour
	case "month":
		return time.Duration(amount) * 30 * 24 * time.Hour
	case "year":
		return time.Duration(amount) * 365 * 24 * time.Hour
	}
	return 0
}
