package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mention is one company reference extracted from a newsletter.
type Mention struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Context     string  `json:"context"`
	Sentiment   string  `json:"sentiment"`
	Confidence  float64 `json:"confidence"`
}

// ParseMentions parses the model's reply into a mention list. Models
// routinely wrap JSON in markdown fences or prose, so the parser locates the
// outermost array before unmarshaling. Entries without a name are dropped;
// out-of-range confidences are clamped.
func ParseMentions(content string) ([]Mention, error) {
	raw := extractJSONArray(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON array in extraction reply")
	}

	var mentions []Mention
	if err := json.Unmarshal([]byte(raw), &mentions); err != nil {
		return nil, fmt.Errorf("parse mentions: %w", err)
	}

	out := mentions[:0]
	for _, m := range mentions {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			continue
		}
		switch m.Sentiment {
		case "positive", "neutral", "negative":
		default:
			m.Sentiment = "neutral"
		}
		if m.Confidence < 0 {
			m.Confidence = 0
		} else if m.Confidence > 1 {
			m.Confidence = 1
		}
		out = append(out, m)
	}
	return out, nil
}

// extractJSONArray returns the outermost [...] span, tolerating fenced or
// prose-wrapped replies.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
