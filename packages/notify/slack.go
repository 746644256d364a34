package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SlackNotifier posts to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	channel    string
	username   string
	iconEmoji  string
	now        func() time.Time
}

type SlackOption func(*SlackNotifier)

// WithSlackChannel overrides the channel of the webhook
func WithSlackChannel(channel string) SlackOption {
	return func(s *SlackNotifier) {
		s.channel = channel
	}
}

func WithSlackUsername(username string) SlackOption {
	return func(s *SlackNotifier) {
		s.username = username
	}
}

func NewSlackNotifier(webhookURL string, opts ...SlackOption) *SlackNotifier {
	s := &SlackNotifier{
		webhookURL: webhookURL,
		username:   "hitbatch",
		iconEmoji:  ":zap:",
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) WebhookURL() string { return s.webhookURL }

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	TS     int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (s *SlackNotifier) Message(summary *RunSummary) ([]byte, error) {
	color := "good"
	switch {
	case summary.Cancelled:
		color = "warning"
	case summary.Failed > 0:
		color = "danger"
	}

	var text strings.Builder
	if len(summary.Failures) > 0 {
		text.WriteString("*Failed requests:*\n")
		for _, f := range summary.Failures {
			fmt.Fprintf(&text, "- `%s` (%s)\n", f.Request, f.Batch)
			for _, reason := range f.Reasons {
				fmt.Fprintf(&text, "    %s\n", reason)
			}
		}
	}

	msg := slackMessage{
		Channel:   s.channel,
		Username:  s.username,
		IconEmoji: s.iconEmoji,
		Attachments: []slackAttachment{{
			Color: color,
			Title: title(summary),
			Text:  text.String(),
			Fields: []slackField{
				{Title: "Files", Value: fmt.Sprintf("%d", summary.Files), Short: true},
				{Title: "Requests", Value: fmt.Sprintf("%d", summary.Requests), Short: true},
				{Title: "Passed", Value: fmt.Sprintf("%d", summary.Passed), Short: true},
				{Title: "Failed", Value: fmt.Sprintf("%d", summary.Failed), Short: true},
				{Title: "Duration", Value: summary.Duration.Round(time.Millisecond).String(), Short: true},
			},
			Footer: "hitbatch",
			TS:     s.now().Unix(),
		}},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Slack message: %w", err)
	}
	return data, nil
}
