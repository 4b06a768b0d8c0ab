// Package brief writes the operational brief that accompanies each run.
package brief

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"divrecon/internal/domain"
	"divrecon/internal/integrations/llm"
)

const (
	Title       = "# LLM Operational Brief"
	NoBreaks    = "No breaks detected."
	temperature = 0.2
)

const (
	disabledNote = "LLM integration is disabled. Displaying deterministic snapshot instead."
	failedNote   = "LLM summary unavailable. Displaying deterministic snapshot instead."
)

const systemPrompt = "You are an operations chief of staff. Review the dividend reconciliation breaks " +
	"and produce a concise markdown action brief with triage ordering, risk commentary and automation opportunities."

type Writer struct {
	client  llm.StructuredClient
	timeout time.Duration
}

func New(client llm.StructuredClient, timeout time.Duration) *Writer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Writer{client: client, timeout: timeout}
}

// Write returns the brief as markdown. It never fails; model problems fall
// back to the deterministic snapshot.
func (w *Writer) Write(ctx context.Context, breaks []domain.BreakDetail) string {
	if len(breaks) == 0 {
		return Title + "\n\n" + NoBreaks
	}
	if w == nil || w.client == nil {
		return Deterministic(breaks, disabledNote)
	}

	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	resp, err := w.client.Complete(callCtx, llm.Request{
		System:      systemPrompt,
		Payload:     breaks,
		Temperature: llm.Float(temperature),
	})
	if err != nil {
		log.Warn().Err(err).Msg("brief llm call failed")
		return Deterministic(breaks, failedNote)
	}
	text, err := llm.ReplyText(resp)
	if err != nil {
		log.Warn().Err(err).Msg("brief llm reply empty")
		return Deterministic(breaks, failedNote)
	}
	if !strings.HasPrefix(text, "#") {
		text = Title + "\n\n" + text
	}
	return text
}

// Deterministic summarises severity counts and the first action of every
// break.
func Deterministic(breaks []domain.BreakDetail, note string) string {
	if len(breaks) == 0 {
		return Title + "\n\n" + NoBreaks
	}
	title := cases.Title(language.English)

	lines := []string{Title, ""}
	if note != "" {
		lines = append(lines, note, "")
	}

	counts := make(map[string]int)
	for _, b := range breaks {
		counts[string(b.Annotation.Severity)]++
	}
	severities := make([]string, 0, len(counts))
	for s := range counts {
		severities = append(severities, s)
	}
	sort.Strings(severities)

	lines = append(lines, "## Severity counts")
	for _, s := range severities {
		lines = append(lines, fmt.Sprintf("- %s: %d", title.String(s), counts[s]))
	}
	lines = append(lines, "", "## Immediate actions")
	for _, b := range breaks {
		next := "Review break manually."
		if len(b.Annotation.Actions) > 0 {
			next = b.Annotation.Actions[0]
		}
		lines = append(lines, fmt.Sprintf("- %s / %s: %s", b.Key.ISIN, b.Key.Account, next))
	}
	if note == disabledNote {
		lines = append(lines, "", "Configure an LLM provider credential to receive richer narratives and automation insights.")
	}
	return strings.Join(lines, "\n")
}
