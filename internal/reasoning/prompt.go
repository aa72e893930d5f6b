package reasoning

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/medtwin/doc-voice/internal/patient"
)

const (
	recentSymptomLimit = 5
	recentMetricLimit  = 7
)

const docInstructions = `You are "Doc", a calm, conversational AI health guide.
Reply like a human in brief, natural language.
Base ALL reasoning ONLY on the verified patient history below.
Do NOT diagnose.
Offer a likely reason in plain words, and include exactly ONE practical self-care step the user can try today (e.g., rest/ice, hydration, OTC options with dose ranges, posture/stretch, timing/food tweaks), tailored to their context.
Ask exactly ONE short follow-up question to keep the chat moving.
Keep total under ~60 words.

Return ONLY valid JSON (no markdown, no fences, no extra text):
{
  "speak": "1-2 short sentences addressed to the user by name, including ONE concrete action.",
  "next_q": "One short question to ask next."
}`

// BuildPrompt renders the single prompt sent to a provider for one turn. Only
// the most recent symptoms and daily metrics are included.
func BuildPrompt(userText string, snap *patient.Snapshot) string {
	if snap == nil {
		snap = &patient.Snapshot{}
	}
	u := snap.User

	var b strings.Builder
	b.WriteString(docInstructions)
	b.WriteString("\n\n### Patient Summary\n")
	fmt.Fprintf(&b, "Name: %s\n", orUnknown(u.Name))
	fmt.Fprintf(&b, "DOB: %s\n", orUnknown(u.DOB))
	fmt.Fprintf(&b, "Gender: %s\n", orUnknown(u.Gender))
	fmt.Fprintf(&b, "Height: %s cm; Weight: %s kg\n", number(u.HeightCM, 0), number(u.WeightKG, 1))
	fmt.Fprintf(&b, "Allergies: %s\n", joinOrNone(u.Allergies, ", "))
	fmt.Fprintf(&b, "Family History: %s\n", joinOrNone(u.FamilyHistory, "; "))

	b.WriteString("\nActive Conditions:\n")
	lines := make([]string, 0, len(snap.Conditions))
	for _, c := range snap.Conditions {
		lines = append(lines, fmt.Sprintf("- %s (%s)", c.Label, c.Status))
	}
	writeList(&b, lines)

	b.WriteString("\nMedications:\n")
	lines = lines[:0]
	for _, m := range snap.Medications {
		line := strings.Join(nonEmpty("- "+m.Name, m.Dose, m.Frequency), " ")
		if m.Indication != "" {
			line += " (" + m.Indication + ")"
		}
		lines = append(lines, line)
	}
	writeList(&b, lines)

	b.WriteString("\nRecent Symptoms:\n")
	lines = lines[:0]
	for _, s := range snap.RecentSymptoms(recentSymptomLimit) {
		line := fmt.Sprintf("- %s: %s (sev %s) @ %s", s.OnsetDate, s.Label, number(s.Severity, 0), s.BodyRegion)
		if s.Notes != "" {
			line += " - " + s.Notes
		}
		lines = append(lines, line)
	}
	writeList(&b, lines)

	fmt.Fprintf(&b, "\nRecent Metrics (last %d days):\n", recentMetricLimit)
	lines = lines[:0]
	for _, m := range snap.RecentObservations(recentMetricLimit) {
		sleep := "?"
		if m.SleepMin != nil {
			sleep = strconv.FormatFloat(*m.SleepMin/60, 'f', 1, 64)
		}
		steps := "?"
		if m.Steps != nil {
			steps = strconv.Itoa(*m.Steps)
		}
		lines = append(lines, fmt.Sprintf("- %s: sleep %s h, steps %s, water %s oz", m.Date, sleep, steps, number(m.WaterOz, 0)))
	}
	writeList(&b, lines)

	b.WriteString("\n### User Message\n")
	b.WriteString(strings.TrimSpace(userText))
	b.WriteString("\n")
	return b.String()
}

// ComposeTurn threads Doc's previous question into the user's reply so short
// answers like "no I haven't" keep their meaning.
func ComposeTurn(userText, previousQuestion string) string {
	if previousQuestion == "" {
		return userText
	}
	return fmt.Sprintf("Previous question from Doc: %q\nMy answer: %s", previousQuestion, userText)
}

func writeList(b *strings.Builder, lines []string) {
	if len(lines) == 0 {
		b.WriteString("- none\n")
		return
	}
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
}

func joinOrNone(items []string, sep string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, sep)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func number(v *float64, prec int) string {
	if v == nil {
		return "?"
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
