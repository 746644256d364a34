package notify

import (
	"encoding/json"
	"fmt"
	"time"
)

// TeamsNotifier posts an Adaptive Card to a Microsoft Teams webhook
type TeamsNotifier struct {
	webhookURL string
	now        func() time.Time
}

func NewTeamsNotifier(webhookURL string) *TeamsNotifier {
	return &TeamsNotifier{webhookURL: webhookURL, now: time.Now}
}

func (t *TeamsNotifier) Name() string { return "teams" }

func (t *TeamsNotifier) WebhookURL() string { return t.webhookURL }

type teamsMessage struct {
	Type        string      `json:"type"`
	Attachments []teamsCard `json:"attachments"`
}

type teamsCard struct {
	ContentType string           `json:"contentType"`
	ContentURL  *string          `json:"contentUrl"`
	Content     teamsCardContent `json:"content"`
}

type teamsCardContent struct {
	Schema  string       `json:"$schema"`
	Type    string       `json:"type"`
	Version string       `json:"version"`
	Body    []teamsBlock `json:"body"`
}

type teamsBlock struct {
	Type      string      `json:"type"`
	Size      string      `json:"size,omitempty"`
	Weight    string      `json:"weight,omitempty"`
	Text      string      `json:"text,omitempty"`
	Color     string      `json:"color,omitempty"`
	Wrap      bool        `json:"wrap,omitempty"`
	Facts     []teamsFact `json:"facts,omitempty"`
	Spacing   string      `json:"spacing,omitempty"`
	Separator bool        `json:"separator,omitempty"`
}

type teamsFact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

func (t *TeamsNotifier) Message(summary *RunSummary) ([]byte, error) {
	color := "good"
	if !summary.Success() {
		color = "attention"
	}

	body := []teamsBlock{
		{Type: "TextBlock", Size: "Large", Weight: "Bolder", Text: title(summary), Color: color},
		{
			Type:      "FactSet",
			Separator: true,
			Facts: []teamsFact{
				{Title: "Files", Value: fmt.Sprintf("%d", summary.Files)},
				{Title: "Requests", Value: fmt.Sprintf("%d", summary.Requests)},
				{Title: "Passed", Value: fmt.Sprintf("%d", summary.Passed)},
				{Title: "Failed", Value: fmt.Sprintf("%d", summary.Failed)},
				{Title: "Duration", Value: summary.Duration.Round(time.Millisecond).String()},
			},
		},
	}

	if len(summary.Failures) > 0 {
		body = append(body, teamsBlock{Type: "TextBlock", Text: "**Failed requests:**", Separator: true, Spacing: "Medium"})
		for _, f := range summary.Failures {
			body = append(body, teamsBlock{Type: "TextBlock", Text: fmt.Sprintf("- `%s` (%s)", f.Request, f.Batch), Wrap: true})
			for _, reason := range f.Reasons {
				body = append(body, teamsBlock{Type: "TextBlock", Text: "  " + reason, Wrap: true})
			}
		}
	}

	body = append(body, teamsBlock{
		Type:      "TextBlock",
		Text:      fmt.Sprintf("_hitbatch - %s_", t.now().UTC().Format(time.RFC3339)),
		Separator: true,
		Spacing:   "Medium",
	})

	msg := teamsMessage{
		Type: "message",
		Attachments: []teamsCard{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: teamsCardContent{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.2",
				Body:    body,
			},
		}},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Teams message: %w", err)
	}
	return data, nil
}
