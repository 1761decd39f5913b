package processing

import (
	"regexp"
	"sort"
	"strings"
)

// Entity is one span of text matched by a typed pattern.
type Entity struct {
	Text       string  `json:"text"`
	EntityType string  `json:"entity_type"`
	Confidence float64 `json:"confidence"`
	Start      int     `json:"start_position"`
	End        int     `json:"end_position"`
	Context    string  `json:"context"`
}

// Relationship links entities mentioned in the same message.
type Relationship struct {
	Type       string   `json:"type"`
	Entities   []string `json:"entities"`
	Context    string   `json:"context"`
	Confidence float64  `json:"confidence"`
	Method     string   `json:"extraction_method"`
}

type entityPattern struct {
	re   *regexp.Regexp
	conf float64
}

type entityTypeConfig struct {
	patterns []entityPattern
	exclude  map[string]bool
}

func excludeSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

var entityConfigs = map[string]entityTypeConfig{
	"person": {
		patterns: []entityPattern{
			{regexp.MustCompile(`\b[A-Z][a-z]{1,15}(?:\s+[A-Z][a-z]{1,15}){1,3}\b`), 0.8},
			{regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+[A-Z][a-z]+\b`), 0.9},
			{regexp.MustCompile(`\bI'm\s+([A-Z][a-z]+)\b`), 0.95},
			{regexp.MustCompile(`(?i)\bmy name is\s+([A-Z][a-z]+)\b`), 0.95},
			{regexp.MustCompile(`(?i)\bcalled\s+([A-Z][a-z]+)\b`), 0.7},
		},
		exclude: excludeSet("Monday", "Tuesday", "Wednesday", "Thursday", "Friday",
			"Saturday", "Sunday", "January", "February", "March", "April", "May",
			"June", "July", "August", "September", "October", "November", "December",
			"Google", "Microsoft", "Apple"),
	},
	"organization": {
		patterns: []entityPattern{
			{regexp.MustCompile(`\b[A-Z][a-zA-Z\s&]{2,30}(?:Inc|Corp|Corporation|LLC|Ltd|Co|Company)\.?\b`), 0.9},
			{regexp.MustCompile(`\b(?:Google|Microsoft|Apple|Amazon|Facebook|Tesla|Netflix|Uber|Airbnb)\b`), 0.95},
			{regexp.MustCompile(`(?i)\bwork(?:s|ing)?\s+(?:at|for)\s+([A-Z][a-zA-Z\s&]{2,20})\b`), 0.8},
			{regexp.MustCompile(`\b([A-Z][a-zA-Z\s&]{2,20})\s+(?:company|corporation|inc)\b`), 0.7},
		},
	},
	"location": {
		patterns: []entityPattern{
			{regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*,?\s+[A-Z]{2}\b`), 0.9},
			{regexp.MustCompile(`(?i)\blive(?:s)?\s+in\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\b`), 0.85},
			{regexp.MustCompile(`(?i)\bfrom\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\b`), 0.7},
			{regexp.MustCompile(`\b(?:San Francisco|New York|Los Angeles|Chicago|Boston|Seattle|Denver|Austin|Miami|Dallas)\b`), 0.95},
			{regexp.MustCompile(`\b[A-Z][a-z]+\s+(?:Street|St|Avenue|Ave|Road|Rd|Drive|Dr|Boulevard|Blvd)\b`), 0.8},
		},
	},
	"skill": {
		patterns: []entityPattern{
			{regexp.MustCompile(`(?i)\b(?:proficient|skilled|expert|experienced)\s+(?:in|with|at)\s+([A-Za-z\s+#.]{2,20})\b`), 0.9},
			{regexp.MustCompile(`\bknow(?:s)?\s+([A-Z][a-zA-Z\s+#.]{2,15})\b`), 0.6},
			{regexp.MustCompile(`\bcan\s+([a-z\s]{3,20})\b`), 0.5},
			{regexp.MustCompile(`\b(?:Python|JavaScript|Java|C\+\+|React|Angular|Node\.js|SQL|HTML|CSS)\b`), 0.9},
			{regexp.MustCompile(`(?i)\blearning\s+([A-Za-z\s+#.]{2,20})\b`), 0.7},
		},
		exclude: excludeSet("very", "really", "quite", "pretty", "being", "doing", "getting"),
	},
	"temporal": {
		patterns: []entityPattern{
			{regexp.MustCompile(`(?i)\b(?:yesterday|today|tomorrow|tonight)\b`), 0.95},
			{regexp.MustCompile(`(?i)\b(?:last|next|this)\s+(?:week|month|year|weekend|Monday|Tuesday|Wednesday|Thursday|Friday|Saturday|Sunday)\b`), 0.9},
			{regexp.MustCompile(`\b\d{1,2}[:/]\d{1,2}(?:[:/]\d{2,4})?\b`), 0.8},
			{regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}(?:\s?[ap]m)?\b`), 0.85},
			{regexp.MustCompile(`(?i)\b(?:at|on|in)\s+\d{1,2}(?::\d{2})?\s?(?:am|pm)\b`), 0.9},
			{regexp.MustCompile(`(?i)\b\d+\s+(?:days?|weeks?|months?|years?)\s+(?:ago|from now)\b`), 0.85},
		},
	},
	"technology": {
		patterns: []entityPattern{
			{regexp.MustCompile(`\b(?:Python|JavaScript|Java|C\+\+|C#|PHP|Ruby|Go|Rust|Swift|Kotlin)\b`), 0.9},
			{regexp.MustCompile(`\b(?:React|Angular|Vue|Node\.js|Django|Flask|Spring|Laravel)\b`), 0.9},
			{regexp.MustCompile(`\b(?:AWS|Azure|GCP|Docker|Kubernetes|Git|GitHub|GitLab)\b`), 0.9},
			{regexp.MustCompile(`\b(?:SQL|MySQL|PostgreSQL|MongoDB|Redis|Elasticsearch)\b`), 0.9},
			{regexp.MustCompile(`(?i)\b(?:AI|ML|machine learning|deep learning|neural network)\b`), 0.8},
		},
	},
	"food": {
		patterns: []entityPattern{
			{regexp.MustCompile(`(?i)\b(?:pizza|pasta|sushi|burger|sandwich|salad|soup|steak|chicken|fish)\b`), 0.8},
			{regexp.MustCompile(`(?i)\b(?:Italian|Chinese|Japanese|Mexican|Indian|Thai|French|American)\s+food\b`), 0.9},
			{regexp.MustCompile(`(?i)\b(?:restaurant|cafe|diner|bistro|eatery)\b`), 0.7},
			{regexp.MustCompile(`(?i)\b(?:love|like|enjoy|hate|dislike)\s+([a-z\s]{3,15}food|[a-z]{3,15})\b`), 0.6},
		},
		exclude: excludeSet("good", "bad", "great", "terrible", "nice", "awful"),
	},
	"hobby": {
		patterns: []entityPattern{
			{regexp.MustCompile(`(?i)\b(?:reading|writing|drawing|painting|photography|music|guitar|piano|singing)\b`), 0.8},
			{regexp.MustCompile(`(?i)\b(?:hiking|running|cycling|swimming|yoga|dancing|cooking|gardening)\b`), 0.8},
			{regexp.MustCompile(`(?i)\b(?:gaming|games|video games|board games|chess|poker)\b`), 0.7},
			{regexp.MustCompile(`(?i)\bplay(?:s|ing)?\s+([a-z\s]{3,15})\b`), 0.6},
		},
		exclude: excludeSet("music", "games", "video", "board", "very", "really", "quite"),
	},
	"financial": {
		patterns: []entityPattern{
			{regexp.MustCompile(`\$\d{1,3}(?:,\d{3})*(?:\.\d{2})?\b`), 0.9},
			{regexp.MustCompile(`\b\d+(?:\.\d+)?%`), 0.8},
			{regexp.MustCompile(`(?i)\b(?:salary|income|revenue|profit|budget|cost|price|expense)\b`), 0.7},
			{regexp.MustCompile(`(?i)\b(?:million|billion|thousand)\b`), 0.6},
		},
	},
}

var relationshipPatterns = map[string][]*regexp.Regexp{
	"family": {
		regexp.MustCompile(`(?i)\bmy\s+(mother|father|mom|dad|sister|brother|son|daughter|wife|husband|parent|child)\b`),
		regexp.MustCompile(`(?i)\b(mother|father|mom|dad|sister|brother|son|daughter|wife|husband)\s+([A-Z][a-z]+)\b`),
	},
	"friend": {
		regexp.MustCompile(`(?i)\bmy\s+(?:best\s+)?friend\s+([A-Z][a-z]+)\b`),
		regexp.MustCompile(`(?i)\bfriend(?:s)?\s+([A-Z][a-z]+(?:\s+and\s+[A-Z][a-z]+)*)\b`),
	},
	"colleague": {
		regexp.MustCompile(`(?i)\bcolleague\s+([A-Z][a-z]+)\b`),
		regexp.MustCompile(`(?i)\bwork(?:s)?\s+with\s+([A-Z][a-z]+)\b`),
		regexp.MustCompile(`(?i)\bteam(?:mate)?\s+([A-Z][a-z]+)\b`),
	},
	"manager": {
		regexp.MustCompile(`(?i)\bmy\s+(?:manager|boss|supervisor)\s+([A-Z][a-z]+)\b`),
		regexp.MustCompile(`(?i)\bmanager\s+([A-Z][a-z]+)\b`),
	},
}

// EntityExtractor finds typed entities and relationships in message text.
type EntityExtractor struct{}

func NewEntityExtractor() *EntityExtractor {
	return &EntityExtractor{}
}

// Extract finds entities of every type (or only focusTypes when given),
// deduplicates overlapping spans keeping the higher confidence, and returns
// them ordered by position.
func (x *EntityExtractor) Extract(text string, focusTypes ...string) []Entity {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	types := focusTypes
	if len(types) == 0 {
		for t := range entityConfigs {
			types = append(types, t)
		}
	}
	sort.Strings(types)

	var entities []Entity
	for _, entityType := range types {
		config, ok := entityConfigs[entityType]
		if !ok {
			continue
		}
		entities = append(entities, extractTyped(text, entityType, config)...)
	}

	entities = dedupeEntities(entities)
	sort.Slice(entities, func(i, j int) bool { return entities[i].Start < entities[j].Start })
	return entities
}

func extractTyped(text, entityType string, config entityTypeConfig) []Entity {
	var entities []Entity
	for _, ep := range config.patterns {
		for _, loc := range ep.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			// Prefer the capture group when the pattern has one.
			if len(loc) > 2 && loc[2] >= 0 {
				start, end = loc[2], loc[3]
			}
			entityText := strings.TrimSpace(text[start:end])
			if len(entityText) < 2 || config.exclude[entityText] {
				continue
			}

			conf := entityConfidence(entityText, entityType, text, ep.conf)
			if conf < 0.3 {
				continue
			}

			entities = append(entities, Entity{
				Text:       entityText,
				EntityType: entityType,
				Confidence: conf,
				Start:      loc[0],
				End:        loc[1],
				Context:    contextWindow(text, loc[0], loc[1], 20),
			})
		}
	}
	return entities
}

func entityConfidence(entityText, entityType, fullText string, base float64) float64 {
	conf := base

	if len(entityText) < 3 {
		conf *= 0.7
	} else if len(entityText) > 20 {
		conf *= 0.8
	}

	switch entityType {
	case "person", "organization", "location":
		if isTitleCase(entityText) {
			conf *= 1.1
		} else if entityText == strings.ToLower(entityText) {
			conf *= 0.7
		}
	}

	lower := strings.ToLower(fullText)
	switch entityType {
	case "person":
		if containsAny(lower, "my name", "i am", "i'm", "called") {
			conf *= 1.2
		}
	case "organization":
		if containsAny(lower, "work at", "work for", "company", "job") {
			conf *= 1.1
		}
	case "location":
		if containsAny(lower, "live in", "from", "located", "city") {
			conf *= 1.1
		}
	}

	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}

func isTitleCase(s string) bool {
	for _, word := range strings.Fields(s) {
		runes := []rune(word)
		if len(runes) == 0 {
			continue
		}
		if runes[0] < 'A' || runes[0] > 'Z' {
			return false
		}
		for _, r := range runes[1:] {
			if r >= 'A' && r <= 'Z' {
				return false
			}
		}
	}
	return true
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func contextWindow(text string, start, end, window int) string {
	cs := start - window
	if cs < 0 {
		cs = 0
	}
	ce := end + window
	if ce > len(text) {
		ce = len(text)
	}
	context := strings.TrimSpace(text[cs:ce])
	if cs > 0 {
		context = "..." + context
	}
	if ce < len(text) {
		context = context + "..."
	}
	return context
}

func dedupeEntities(entities []Entity) []Entity {
	if len(entities) == 0 {
		return entities
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Start != entities[j].Start {
			return entities[i].Start < entities[j].Start
		}
		return entities[i].End < entities[j].End
	})

	var kept []Entity
	for _, e := range entities {
		replaced := false
		overlaps := false
		for i, existing := range kept {
			if e.End <= existing.Start || existing.End <= e.Start {
				continue
			}
			if e.Confidence > existing.Confidence {
				kept = append(kept[:i], kept[i+1:]...)
				replaced = true
			} else {
				overlaps = true
			}
			break
		}
		if !overlaps || replaced {
			kept = append(kept, e)
		}
	}
	return kept
}

// Relationships finds explicit relationship mentions and pairs of people
// mentioned near each other.
func (x *EntityExtractor) Relationships(text string, entities []Entity) []Relationship {
	var relationships []Relationship

	for relType, patterns := range relationshipPatterns {
		for _, pattern := range patterns {
			for _, loc := range pattern.FindAllStringSubmatchIndex(text, -1) {
				var names []string
				if len(loc) > 2 && loc[2] >= 0 {
					names = append(names, text[loc[2]:loc[3]])
				}
				relationships = append(relationships, Relationship{
					Type:       relType,
					Entities:   names,
					Context:    contextWindow(text, loc[0], loc[1], 20),
					Confidence: 0.8,
					Method:     "pattern",
				})
			}
		}
	}

	var persons []Entity
	for _, e := range entities {
		if e.EntityType == "person" {
			persons = append(persons, e)
		}
	}
	for i, p1 := range persons {
		for _, p2 := range persons[i+1:] {
			distance := p2.Start - p1.Start
			if distance < 0 {
				distance = -distance
			}
			if distance < 50 {
				conf := 0.8 - float64(distance)/100
				if conf < 0.3 {
					conf = 0.3
				}
				relationships = append(relationships, Relationship{
					Type:       "mentioned_together",
					Entities:   []string{p1.Text, p2.Text},
					Context:    "mentioned in close proximity",
					Confidence: conf,
					Method:     "proximity",
				})
			}
		}
	}

	return relationships
}

// Categorize groups entities by type, each group sorted by confidence.
func (x *EntityExtractor) Categorize(entities []Entity) map[string][]Entity {
	categorized := map[string][]Entity{}
	for _, e := range entities {
		categorized[e.EntityType] = append(categorized[e.EntityType], e)
	}
	for t := range categorized {
		group := categorized[t]
		sort.Slice(group, func(i, j int) bool { return group[i].Confidence > group[j].Confidence })
	}
	return categorized
}
