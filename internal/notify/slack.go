package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// SlackNotifier posts run outcomes to an incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is the webhook payload.
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment carries one run's details.
type SlackAttachment struct {
	Color    string       `json:"color"`
	Fallback string       `json:"fallback,omitempty"`
	Title    string       `json:"title"`
	Text     string       `json:"text"`
	Fields   []SlackField `json:"fields,omitempty"`
	Footer   string       `json:"footer,omitempty"`
}

// SlackField is a key/value row of an attachment.
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier returns a notifier posting to webhookURL. An empty URL
// disables it.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ToJSON converts the message to JSON
func (m *SlackMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SlackColor returns the Slack color for a notification type
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

// BuildSlackMessage lays a run outcome out as one attachment: the message
// as text, role counts, average score and suite folder as fields.
func BuildSlackMessage(n Notification) SlackMessage {
	att := SlackAttachment{
		Color:    SlackColor(n.Type),
		Fallback: n.Title + ": " + n.Message,
		Title:    n.SystemName,
		Text:     n.Message,
		Footer:   "prompt-factory",
	}
	if att.Title == "" {
		att.Title = "Run " + n.RunID
	}

	if n.TotalRoles > 0 {
		att.Fields = append(att.Fields, SlackField{
			Title: "Roles",
			Value: fmt.Sprintf("%d/%d", n.CompletedRoles, n.TotalRoles),
			Short: true,
		})
	}
	if n.CompletedRoles > 0 {
		att.Fields = append(att.Fields, SlackField{
			Title: "Average score",
			Value: strconv.FormatFloat(n.AverageScore, 'f', 1, 64),
			Short: true,
		})
	}
	if n.Type != NotifySuccess && n.Stage != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Stopped at", Value: n.Stage, Short: true})
	}
	if n.RunID != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Run", Value: "`" + n.RunID + "`", Short: true})
	}
	if n.ResultDir != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Suite", Value: n.ResultDir})
	}

	return SlackMessage{Text: n.Title, Attachments: []SlackAttachment{att}}
}

// Send posts the notification. A disabled notifier does nothing.
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	msg := BuildSlackMessage(n)
	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}
