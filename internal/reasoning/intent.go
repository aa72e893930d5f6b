package reasoning

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Intent classes recognised by the router.
const (
	IntentAddSymptom  = "add_symptom"
	IntentQuestion    = "question"
	IntentLogBehavior = "log_behavior"
	IntentSmalltalk   = "smalltalk"
)

// Completer produces raw text for a prompt. *Reasoner satisfies it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, Candidate, error)
}

// SymptomEntry is a symptom report extracted from free text.
type SymptomEntry struct {
	Label      string  `json:"label"`
	Severity   float64 `json:"severity"`
	OnsetDate  string  `json:"onset_date"`
	BodyRegion string  `json:"body_region"`
	Notes      string  `json:"notes,omitempty"`
}

// BehaviorEntry is a logged metric such as water or steps.
type BehaviorEntry struct {
	Metric string `json:"metric"`
	Value  any    `json:"value"`
	Date   string `json:"date,omitempty"`
}

// RoutedIntent is the router's classification of one user message.
type RoutedIntent struct {
	Intent   string         `json:"intent"`
	Symptom  *SymptomEntry  `json:"symptom,omitempty"`
	Behavior *BehaviorEntry `json:"behavior,omitempty"`
}

const routerInstructions = `You are an intent router for a personal health companion named Doc.

Return ONLY valid JSON with this EXACT shape:
{
  "intent": "add_symptom" | "question" | "log_behavior" | "smalltalk",
  "parsed"?: object
}

Rules:
- "add_symptom" when the user reports a feeling/pain/discomfort.
  parsed must include:
  { "label": string, "severity": 0-10, "onset_date": "YYYY-MM-DD", "body_region": string, "notes"?: string }
- If onset is vague ("today", "yesterday", "since Wednesday"), convert it to ISO date using "Today".
- Use concise anatomical regions only: abdomen, left_knee, left_wrist, spine, pelvis, head.
- "log_behavior" for metrics (water_oz, sleep_min, steps, exercise_min, protein_g, etc.):
  parsed must include:
  { "metric": string, "value": number|string, "date"?: "YYYY-MM-DD" }
- "question" when the user asks for guidance/explanations.
- Otherwise "smalltalk".

Return JSON ONLY. No prose. No explanations.

Examples (do not copy text, just follow format):
User: "my stomach has been hurting today"
→ { "intent": "add_symptom",
     "parsed": { "label": "stomach pain", "severity": 5, "onset_date": "YYYY-MM-DD", "body_region": "abdomen" } }

User: "i drank 70 oz of water"
→ { "intent": "log_behavior", "parsed": { "metric": "water_oz", "value": 70 } }

User: "why does my knee still hurt?"
→ { "intent": "question" }`

var (
	isoDateRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	anyFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	objectRe   = regexp.MustCompile(`(?s)\{.*\}`)
	spacesRe   = regexp.MustCompile(`\s+`)
)

var regionSynonyms = map[string]string{
	"stomach": "abdomen",
	"tummy":   "abdomen",
	"belly":   "abdomen",
	"abdomen": "abdomen",
	"knee":    "left_knee",
	"wrist":   "left_wrist",
	"back":    "spine",
	"head":    "head",
	"pelvis":  "pelvis",
}

// IntentRouter classifies user messages. It only classifies; nothing is recorded.
type IntentRouter struct {
	completer Completer
	logger    zerolog.Logger
}

// NewIntentRouter creates a router over completer.
func NewIntentRouter(completer Completer, logger zerolog.Logger) *IntentRouter {
	return &IntentRouter{
		completer: completer,
		logger:    logger.With().Str("component", "intent_router").Logger(),
	}
}

// Route classifies text relative to today. Unparseable or invalid replies
// fall back to smalltalk after one stricter retry; provider errors are returned.
func (r *IntentRouter) Route(ctx context.Context, text string, today time.Time) (RoutedIntent, error) {
	day := today.Format(time.DateOnly)

	raw, _, err := r.completer.Complete(ctx, routerPrompt(text, day, "Return JSON only."))
	if err != nil {
		return RoutedIntent{}, err
	}
	obj, ok := repairJSON(raw)
	if !ok {
		r.logger.Debug().Str("raw", raw).Msg("Router reply was not JSON, retrying strictly")
		raw, _, err = r.completer.Complete(ctx, routerPrompt(text, day,
			`Return ONLY a single JSON object. If unsure, return {"intent":"smalltalk"}.`))
		if err != nil {
			return RoutedIntent{}, err
		}
		if obj, ok = repairJSON(raw); !ok {
			return RoutedIntent{Intent: IntentSmalltalk}, nil
		}
	}

	routed, ok := validateIntent(obj)
	if !ok {
		r.logger.Debug().Str("raw", raw).Msg("Router reply failed validation")
		return RoutedIntent{Intent: IntentSmalltalk}, nil
	}
	return routed, nil
}

func routerPrompt(text, day, closing string) string {
	return strings.Join([]string{
		routerInstructions,
		"Today: " + day,
		"User: " + text,
		closing,
	}, "\n")
}

type routedReply struct {
	Intent string          `json:"intent"`
	Parsed json.RawMessage `json:"parsed"`
}

// repairJSON decodes raw directly, or after removing code fences and cutting
// out the first {...} block.
func repairJSON(raw string) (routedReply, bool) {
	var reply routedReply
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reply, false
	}
	if json.Unmarshal([]byte(raw), &reply) == nil {
		return reply, true
	}
	unfenced := anyFenceRe.ReplaceAllString(raw, "$1")
	block := objectRe.FindString(unfenced)
	if block == "" {
		return reply, false
	}
	reply = routedReply{}
	if json.Unmarshal([]byte(block), &reply) != nil {
		return reply, false
	}
	return reply, true
}

func validateIntent(reply routedReply) (RoutedIntent, bool) {
	out := RoutedIntent{Intent: reply.Intent}
	hasParsed := len(reply.Parsed) > 0 && string(reply.Parsed) != "null"

	switch reply.Intent {
	case IntentQuestion, IntentSmalltalk:
		return out, true
	case IntentAddSymptom:
		if !hasParsed {
			return out, true
		}
		var s SymptomEntry
		if json.Unmarshal(reply.Parsed, &s) != nil {
			return out, false
		}
		if s.Label == "" || s.BodyRegion == "" || !isoDateRe.MatchString(s.OnsetDate) {
			return out, false
		}
		s.BodyRegion = NormalizeRegion(s.BodyRegion)
		s.Severity = min(max(s.Severity, 0), 10)
		out.Symptom = &s
		return out, true
	case IntentLogBehavior:
		if !hasParsed {
			return out, true
		}
		var b BehaviorEntry
		if json.Unmarshal(reply.Parsed, &b) != nil || b.Metric == "" {
			return out, false
		}
		switch b.Value.(type) {
		case float64, string:
		default:
			return out, false
		}
		if b.Date != "" && !isoDateRe.MatchString(b.Date) {
			return out, false
		}
		out.Behavior = &b
		return out, true
	}
	return out, false
}

// NormalizeRegion maps common body-region words onto the anatomical regions
// used in patient records.
func NormalizeRegion(region string) string {
	key := strings.ToLower(strings.TrimSpace(region))
	if mapped, ok := regionSynonyms[key]; ok {
		return mapped
	}
	return spacesRe.ReplaceAllString(key, "_")
}
