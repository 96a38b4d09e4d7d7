package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// maxFailureAttachments caps per-lake attachments; the rest are summarised.
const maxFailureAttachments = 20

// SlackNotifier posts batch reports to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is the webhook payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment is one coloured block of a message
type SlackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
}

// SlackField is a label/value pair inside an attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a notifier; an empty URL disables it.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SlackColor returns the attachment color for a notification type
func SlackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// BuildSlackMessage renders a summary attachment with one field per final
// state, followed by one attachment per failed lake.
func BuildSlackMessage(n Notification) SlackMessage {
	summary := SlackAttachment{
		Color:  SlackColor(n.Type),
		Text:   n.Message,
		Footer: "lakesim",
	}
	if n.BatchID != "" {
		summary.Title = "batch " + n.BatchID
	}
	if n.BaseName != "" {
		summary.Fields = append(summary.Fields, SlackField{Title: "base", Value: n.BaseName, Short: true})
	}
	if n.Duration > 0 {
		summary.Fields = append(summary.Fields, SlackField{Title: "duration", Value: n.Duration.String(), Short: true})
	}
	for _, c := range n.Counts {
		summary.Fields = append(summary.Fields, SlackField{Title: string(c.State), Value: strconv.Itoa(c.N), Short: true})
	}

	msg := SlackMessage{Text: n.Title, Attachments: []SlackAttachment{summary}}
	for i, f := range n.Failures {
		if i == maxFailureAttachments {
			msg.Attachments = append(msg.Attachments, SlackAttachment{
				Color: SlackColor(NotifyError),
				Text:  fmt.Sprintf("and %d more failed lakes", len(n.Failures)-i),
			})
			break
		}
		msg.Attachments = append(msg.Attachments, SlackAttachment{
			Color: SlackColor(NotifyError),
			Title: f.LakeKey,
			Fields: []SlackField{
				{Title: "kind", Value: string(f.Kind), Short: true},
				{Title: "cause", Value: f.Cause},
			},
		})
	}
	return msg
}

// Send posts the notification to the webhook
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil // Disabled
	}

	payload, err := json.Marshal(BuildSlackMessage(n))
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}
