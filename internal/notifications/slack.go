package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harvey-AU/archive-crawler/internal/jobs"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// SlackNotifier posts crawl run summaries to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlackNotifier creates a notifier for webhookURL. An empty URL gives a disabled notifier.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		post:       slack.PostWebhookContext,
	}
}

// Enabled reports whether a webhook is configured
func (n *SlackNotifier) Enabled() bool {
	return n != nil && n.webhookURL != ""
}

// NotifyRunComplete posts the outcome of a crawl run. Delivery failures are logged, never
// returned, so a broken webhook cannot fail a run.
func (n *SlackNotifier) NotifyRunComplete(ctx context.Context, summary *jobs.RunSummary, runErr error) {
	if !n.Enabled() || summary == nil {
		return
	}

	if err := n.SendRunSummary(ctx, summary, runErr); err != nil {
		log.Warn().Err(err).Str("run_id", summary.RunID).Msg("Failed to send Slack run summary")
		return
	}

	log.Info().Str("run_id", summary.RunID).Msg("Slack run summary sent")
}

// SendRunSummary posts the run summary and returns any delivery error
func (n *SlackNotifier) SendRunSummary(ctx context.Context, summary *jobs.RunSummary, runErr error) error {
	if !n.Enabled() {
		return errors.New("slack webhook is not configured")
	}

	blocks := buildRunBlocks(summary, runErr)
	msg := &slack.WebhookMessage{
		Text:   fallbackText(summary, runErr),
		Blocks: &slack.Blocks{BlockSet: blocks},
	}

	if err := n.post(ctx, n.webhookURL, msg); err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	return nil
}

func fallbackText(summary *jobs.RunSummary, runErr error) string {
	if runErr != nil {
		return fmt.Sprintf("Crawl of %s ended with an error: %v", summary.RootHost, runErr)
	}
	return fmt.Sprintf("Crawl of %s complete: %d pages archived in %s",
		summary.RootHost, summary.Succeeded, formatDuration(summary.Duration))
}

func buildRunBlocks(summary *jobs.RunSummary, runErr error) []slack.Block {
	emoji := ":white_check_mark:"
	title := fmt.Sprintf("Crawl complete: %s", summary.RootHost)
	if runErr != nil {
		emoji = ":x:"
		title = fmt.Sprintf("Crawl ended with errors: %s", summary.RootHost)
	} else if summary.Failed > 0 {
		emoji = ":warning:"
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("%s *%s*", emoji, title), false, false),
			nil,
			nil,
		),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Archived*\n%d", summary.Succeeded), false, false),
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Failed*\n%d", summary.Failed), false, false),
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Retrying*\n%d", summary.Retrying), false, false),
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*New links*\n%d", summary.Enqueued), false, false),
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Duration*\n%s", formatDuration(summary.Duration)), false, false),
		}, nil),
	}

	if runErr != nil {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("```%s```", runErr.Error()), false, false),
			nil,
			nil,
		))
	}

	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Run `%s`", summary.RunID), false, false),
	))

	return blocks
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "N/A"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
