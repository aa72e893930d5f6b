package reasoning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fenceMarkRe   = regexp.MustCompile("(?i)```(?:json)?")
	fencedBlockRe = regexp.MustCompile("(?s)```(.*?)```")
	bulletRe      = regexp.MustCompile(`^[-•*\d.)\s]+`)
	headerLineRe  = regexp.MustCompile(`^\s*[A-Za-z][A-Za-z '/-]{0,40}:`)
)

// Section labels recognized in free-form replies, in the order they usually appear.
const (
	labelAdvice    = "Advice"
	labelCauses    = "Possible Causes"
	labelSelfCare  = "Self-Care Steps"
	labelRedFlags  = "Red Flags"
	labelFollowUps = "Follow-Up Questions"
)

var sectionRes = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp)
	for _, label := range []string{labelAdvice, labelCauses, labelSelfCare, labelRedFlags, labelFollowUps} {
		out[label] = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(label) + `[ \t]*:[ \t]*`)
	}
	return out
}()

// payload is one of the shapes an upstream reply can take.
type payload interface {
	advice() Advice
}

// currentPayload is the {"speak", "followUp"} object requested by the prompt.
type currentPayload struct {
	speak    string
	followUp string
}

func (p currentPayload) advice() Advice {
	return Advice{Speak: p.speak, FollowUp: p.followUp}
}

// legacyPayload is the older object with advice_text and list fields.
type legacyPayload struct {
	adviceText string
	causes     []string
	selfCare   []string
	redFlags   []string
	followUps  []string
}

func (p legacyPayload) advice() Advice {
	return Advice{
		Speak:    p.adviceText,
		FollowUp: first(p.followUps),
		Causes:   p.causes,
		SelfCare: p.selfCare,
		RedFlags: p.redFlags,
	}
}

// sectionPayload is labeled plain text ("Advice: ...", "Red Flags: ...").
type sectionPayload struct {
	raw       string
	adviceTxt string
	causes    []string
	selfCare  []string
	redFlags  []string
	followUps []string
}

func (p sectionPayload) advice() Advice {
	speak := p.adviceTxt
	if speak == "" {
		speak = p.raw
	}
	return Advice{
		Speak:    speak,
		FollowUp: first(p.followUps),
		Causes:   p.causes,
		SelfCare: p.selfCare,
		RedFlags: p.redFlags,
	}
}

// verbatimPayload is anything else; the whole text is the advice.
type verbatimPayload struct {
	text string
}

func (p verbatimPayload) advice() Advice {
	return Advice{Speak: p.text}
}

// Parse turns raw provider output into Advice. It never fails: malformed JSON
// falls back to section scanning, and unlabeled prose becomes the advice as is.
func Parse(raw string) Advice {
	return classify(raw).advice()
}

func classify(raw string) payload {
	text := strings.TrimSpace(raw)
	if text == "" {
		return verbatimPayload{}
	}
	if obj, ok := extractObject(text); ok {
		if p, ok := decodeCurrent(obj); ok {
			return p
		}
		if p, ok := decodeLegacy(obj); ok {
			return p
		}
	}
	if p, ok := scanSections(text); ok {
		return p
	}
	return verbatimPayload{text: stripFences(text)}
}

// stripFences removes code-fence markers so they are never read aloud.
func stripFences(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(fenceMarkRe.ReplaceAllString(text, "```"), "```", ""))
}

// extractObject finds the outermost {...} in the reply, preferring the first
// fenced block when there is one.
func extractObject(text string) (map[string]json.RawMessage, bool) {
	unfenced := fenceMarkRe.ReplaceAllString(text, "```")
	candidates := make([]string, 0, 2)
	if m := fencedBlockRe.FindStringSubmatch(unfenced); m != nil {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, strings.ReplaceAll(unfenced, "```", ""))

	for _, c := range candidates {
		start := strings.Index(c, "{")
		end := strings.LastIndex(c, "}")
		if start < 0 || end <= start {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(c[start:end+1]), &obj); err != nil {
			continue
		}
		return obj, true
	}
	return nil, false
}

// decodeCurrent matches on key presence, so an object whose values are all
// empty still yields empty advice rather than falling through to prose.
func decodeCurrent(obj map[string]json.RawMessage) (currentPayload, bool) {
	found := false
	for _, key := range []string{"speak", "followUp", "follow_up", "next_q"} {
		if _, ok := obj[key]; ok {
			found = true
			break
		}
	}
	if !found {
		return currentPayload{}, false
	}
	return currentPayload{
		speak:    textOf(obj["speak"]),
		followUp: firstNonEmpty(textOf(obj["followUp"]), textOf(obj["follow_up"]), textOf(obj["next_q"])),
	}, true
}

func decodeLegacy(obj map[string]json.RawMessage) (legacyPayload, bool) {
	found := false
	for _, key := range []string{"advice_text", "likely_causes", "self_care", "red_flags", "follow_up_q"} {
		if _, ok := obj[key]; ok {
			found = true
			break
		}
	}
	if !found {
		return legacyPayload{}, false
	}
	return legacyPayload{
		adviceText: textOf(obj["advice_text"]),
		causes:     listOf(obj["likely_causes"]),
		selfCare:   listOf(obj["self_care"]),
		redFlags:   listOf(obj["red_flags"]),
		followUps:  listOf(obj["follow_up_q"]),
	}, true
}

func scanSections(text string) (sectionPayload, bool) {
	p := sectionPayload{
		raw:       text,
		adviceTxt: strings.Join(toList(sectionBody(text, labelAdvice)), " "),
		causes:    toList(sectionBody(text, labelCauses)),
		selfCare:  toList(sectionBody(text, labelSelfCare)),
		redFlags:  toList(sectionBody(text, labelRedFlags)),
		followUps: toList(sectionBody(text, labelFollowUps)),
	}
	found := p.adviceTxt != "" || len(p.causes) > 0 || len(p.selfCare) > 0 ||
		len(p.redFlags) > 0 || len(p.followUps) > 0
	return p, found
}

// sectionBody returns the text after "<label>:" up to the next header-like
// line or the end of the text.
func sectionBody(text, label string) string {
	loc := sectionRes[label].FindStringIndex(text)
	if loc == nil {
		return ""
	}
	lines := strings.Split(text[loc[1]:], "\n")
	body := []string{lines[0]}
	for _, line := range lines[1:] {
		if headerLineRe.MatchString(line) {
			break
		}
		body = append(body, line)
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}

func toList(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		item := strings.TrimSpace(bulletRe.ReplaceAllString(strings.TrimSpace(line), ""))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// textOf accepts a JSON string or an array of scalars and returns trimmed text.
func textOf(raw json.RawMessage) string {
	return strings.Join(listOf(raw), " ")
}

func listOf(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return []string{s}
		}
		return nil
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	var out []string
	for _, item := range items {
		var v string
		switch t := item.(type) {
		case string:
			v = t
		case float64, bool:
			v = fmt.Sprint(t)
		}
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func first(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[0]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
