// Package slack delivers run summaries and the markdown report to a channel.
package slack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// API is the subset of the Slack client the notifier uses.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

// RunSummary is what gets announced for one reconciliation run.
type RunSummary struct {
	RunID          string
	RunDate        time.Time
	NBIMTotal      int
	CustodianTotal int
	Breaks         int
	Escalations    int
	ByReason       map[string]int
}

type Notifier struct {
	api     API
	channel string
}

func New(token, channel string, opts ...slack.Option) *Notifier {
	return NewWithAPI(slack.New(token, opts...), channel)
}

func NewWithAPI(api API, channel string) *Notifier {
	return &Notifier{api: api, channel: channel}
}

// Publish posts the summary and, when reportPath is non-empty, uploads the
// report file to the same channel.
func (n *Notifier) Publish(ctx context.Context, summary RunSummary, reportPath string) error {
	text := SummaryText(summary)
	if _, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("posting run summary: %w", err)
	}
	log.Info().Str("channel", n.channel).Str("run_id", summary.RunID).Msg("slack summary posted")

	if reportPath == "" {
		return nil
	}
	fi, err := os.Stat(reportPath)
	if err != nil {
		return fmt.Errorf("stating report file: %w", err)
	}
	if fi.Size() <= 0 {
		return fmt.Errorf("report file is empty: %s", reportPath)
	}
	_, err = n.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		File:           reportPath,
		FileSize:       int(fi.Size()),
		Filename:       filepath.Base(reportPath),
		Channel:        n.channel,
		Title:          fmt.Sprintf("Dividend reconciliation %s", summary.RunDate.Format("2006-01-02")),
		InitialComment: fmt.Sprintf("Full report for run %s", summary.RunID),
	})
	if err != nil {
		return fmt.Errorf("uploading report file: %w", err)
	}
	log.Info().Str("channel", n.channel).Str("file", reportPath).Msg("slack report uploaded")
	return nil
}

func SummaryText(s RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Dividend reconciliation %s*\n", s.RunDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Records: %d NBIM / %d custodian\n", s.NBIMTotal, s.CustodianTotal)
	if s.Breaks == 0 {
		b.WriteString("No breaks detected.")
		return b.String()
	}
	fmt.Fprintf(&b, "Breaks: %d (%d need escalation)", s.Breaks, s.Escalations)

	reasons := make([]string, 0, len(s.ByReason))
	for r := range s.ByReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(&b, "\n• %s: %d", r, s.ByReason[r])
	}
	return b.String()
}
