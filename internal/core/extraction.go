package core

import (
    "encoding/json"
    "errors"
    "math"
    "strings"

    "github.com/google/uuid"

    "emergency-call-backend/pkg"
)

// Extraction is the result of a structured-extraction stage.  When Degraded
// is set, Items holds the fixed fallback set and Reason says why the model
// output could not be used.  Extraction stages never return an error.
type Extraction[T any] struct {
    Items    []T
    Degraded bool
    Reason   string
}

func degraded[T any](fallback []T, reason string) Extraction[T] {
    return Extraction[T]{
        Items:    append([]T(nil), fallback...),
        Degraded: true,
        Reason:   reason,
    }
}

var fallbackRecommendations = []pkg.Recommendation{
    {
        ID:         "fallback-scene-assessment",
        Type:       "advice",
        Priority:   "high",
        Title:      "Scene Assessment",
        Content:    "Conduct thorough scene safety assessment before approaching.",
        Confidence: 85,
    },
    {
        ID:         "fallback-vital-signs",
        Type:       "protocol",
        Priority:   "high",
        Title:      "Vital Signs Check",
        Content:    "Confirm whether the patient is conscious and breathing normally.",
        Confidence: 80,
    },
    {
        ID:         "fallback-stay-on-line",
        Type:       "advice",
        Priority:   "medium",
        Title:      "Keep Caller On The Line",
        Content:    "Stay connected with the caller and gather updates until help arrives.",
        Confidence: 75,
    },
}

var fallbackAgentSuggestions = []pkg.AgentSuggestion{
    {
        ID:         "fallback-safety",
        Category:   "safety",
        Suggestion: "Is the caller in a safe location?",
        Priority:   10,
        Reasoning:  "Caller safety comes before anything else.",
    },
    {
        ID:         "fallback-location",
        Category:   "location",
        Suggestion: "What is the exact address or nearest landmark?",
        Priority:   9,
        Reasoning:  "Responders need a precise location to dispatch.",
    },
    {
        ID:         "fallback-medical",
        Category:   "medical",
        Suggestion: "Is the patient conscious and breathing?",
        Priority:   9,
        Reasoning:  "Consciousness and breathing decide the urgency.",
    },
}

// FallbackRecommendations returns a copy of the fixed recommendation set.
func FallbackRecommendations() []pkg.Recommendation {
    return append([]pkg.Recommendation(nil), fallbackRecommendations...)
}

// FallbackAgentSuggestions returns a copy of the fixed suggestion set.
func FallbackAgentSuggestions() []pkg.AgentSuggestion {
    return append([]pkg.AgentSuggestion(nil), fallbackAgentSuggestions...)
}

var errNoJSONArray = errors.New("no JSON array in model output")

// decodeJSONArray parses a model reply that should be a JSON array.  Code
// fences are stripped; if the reply still has prose around the array, the
// outermost brackets are tried.
func decodeJSONArray(raw string, v any) error {
    s := stripFences(raw)
    if err := json.Unmarshal([]byte(s), v); err == nil {
        return nil
    }
    start, end := strings.Index(s, "["), strings.LastIndex(s, "]")
    if start < 0 || end <= start {
        return errNoJSONArray
    }
    return json.Unmarshal([]byte(s[start:end+1]), v)
}

func stripFences(s string) string {
    s = strings.TrimSpace(s)
    if !strings.HasPrefix(s, "```") {
        return s
    }
    s = strings.TrimPrefix(s, "```")
    // drop the language tag line, e.g. ```json
    if i := strings.Index(s, "\n"); i >= 0 {
        s = s[i+1:]
    }
    s = strings.TrimSuffix(strings.TrimSpace(s), "```")
    return strings.TrimSpace(s)
}

// rawRecommendation accepts numbers the model may emit as floats.
type rawRecommendation struct {
    ID         string  `json:"id"`
    Type       string  `json:"type"`
    Priority   string  `json:"priority"`
    Title      string  `json:"title"`
    Content    string  `json:"content"`
    Confidence float64 `json:"confidence"`
}

func parseRecommendations(raw string) ([]pkg.Recommendation, error) {
    var items []rawRecommendation
    if err := decodeJSONArray(raw, &items); err != nil {
        return nil, err
    }
    out := make([]pkg.Recommendation, 0, len(items))
    for _, it := range items {
        if strings.TrimSpace(it.Title) == "" && strings.TrimSpace(it.Content) == "" {
            continue
        }
        conf := it.Confidence
        // some models answer on a 0-1 scale
        if conf > 0 && conf <= 1 {
            conf *= 100
        }
        r := pkg.Recommendation{
            ID:         it.ID,
            Type:       oneOf(strings.ToLower(it.Type), "advice", "advice", "warning", "protocol"),
            Priority:   oneOf(strings.ToLower(it.Priority), "medium", "high", "medium", "low"),
            Title:      strings.TrimSpace(it.Title),
            Content:    strings.TrimSpace(it.Content),
            Confidence: int(math.Round(clamp(conf, 0, 100))),
        }
        if r.ID == "" {
            r.ID = uuid.NewString()
        }
        out = append(out, r)
    }
    return out, nil
}

type rawAgentSuggestion struct {
    ID         string  `json:"id"`
    Category   string  `json:"category"`
    Suggestion string  `json:"suggestion"`
    Priority   float64 `json:"priority"`
    Reasoning  string  `json:"reasoning"`
}

func parseAgentSuggestions(raw string) ([]pkg.AgentSuggestion, error) {
    var items []rawAgentSuggestion
    if err := decodeJSONArray(raw, &items); err != nil {
        return nil, err
    }
    out := make([]pkg.AgentSuggestion, 0, len(items))
    for _, it := range items {
        if strings.TrimSpace(it.Suggestion) == "" {
            continue
        }
        s := pkg.AgentSuggestion{
            ID:         it.ID,
            Category:   oneOf(strings.ToLower(it.Category), "details", "location", "medical", "safety", "details", "reassurance"),
            Suggestion: strings.TrimSpace(it.Suggestion),
            Priority:   int(math.Round(clamp(it.Priority, 1, 10))),
            Reasoning:  strings.TrimSpace(it.Reasoning),
        }
        if s.ID == "" {
            s.ID = uuid.NewString()
        }
        out = append(out, s)
    }
    return out, nil
}

// oneOf returns v when it is in allowed, def otherwise.
func oneOf(v, def string, allowed ...string) string {
    for _, a := range allowed {
        if v == a {
            return v
        }
    }
    return def
}

func clamp(v, lo, hi float64) float64 {
    return math.Max(lo, math.Min(hi, v))
}

// bulletLines splits a model reply into lines, strips bullet markers and
// drops blank lines.
func bulletLines(text string) []string {
    out := []string{}
    for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
        line = strings.TrimSpace(strings.Trim(line, "-• \t\r"))
        if line != "" {
            out = append(out, line)
        }
    }
    return out
}
