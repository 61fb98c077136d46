package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cfgkeeper/internal/config"
	"cfgkeeper/internal/types"

	"go.uber.org/zap"
)

const slackMaxListed = 10

// SlackNotifier represents Slack notifier
type SlackNotifier struct {
	config *config.SlackConfig
	logger *zap.Logger
	client *http.Client
}

// SlackMessage represents Slack message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents Slack attachment
type SlackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	Text      string       `json:"text"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer"`
	Timestamp int64        `json:"ts"`
}

// SlackField represents Slack field
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates new SlackNotifier
func NewSlackNotifier(cfg *config.SlackConfig, logger *zap.Logger) (*SlackNotifier, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("slack notifier is disabled")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &SlackNotifier{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}, nil
}

// NotifyEntityFailures sends the failed entities of a cycle
func (n *SlackNotifier) NotifyEntityFailures(report *types.CycleReport) error {
	var lines []string
	for _, res := range report.Results {
		if res.Status != types.EntityFailed {
			continue
		}
		if len(lines) == slackMaxListed {
			lines = append(lines, fmt.Sprintf("... and %d more", report.Failed-slackMaxListed))
			break
		}
		lines = append(lines, fmt.Sprintf("`%s` (%s): %s", res.Raw, res.User, res.Error))
	}

	return n.send(SlackMessage{
		Text: fmt.Sprintf("%d configuration change(s) could not be archived", report.Failed),
		Attachments: []SlackAttachment{{
			Color: "danger",
			Title: "Window " + report.Window.String(),
			Text:  strings.Join(lines, "\n"),
			Fields: []SlackField{
				{Title: "Committed", Value: fmt.Sprint(report.Committed), Short: true},
				{Title: "Skipped", Value: fmt.Sprint(report.Skipped), Short: true},
				{Title: "Failed", Value: fmt.Sprint(report.Failed), Short: true},
				{Title: "Run", Value: report.RunID, Short: true},
			},
			Footer:    "cfgkeeper",
			Timestamp: report.FinishedAt.Unix(),
		}},
	})
}

// NotifyCycleError sends an aborted cycle notification
func (n *SlackNotifier) NotifyCycleError(failure *CycleError) error {
	return n.send(SlackMessage{
		Text: "Configuration sync cycle failed",
		Attachments: []SlackAttachment{{
			Color:     "warning",
			Title:     "Window " + failure.Window.String(),
			Text:      failure.Error,
			Footer:    "cfgkeeper",
			Timestamp: time.Now().Unix(),
		}},
	})
}

// send sends a slack message
func (n *SlackNotifier) send(msg SlackMessage) error {
	msg.Channel = n.config.Channel
	msg.Username = n.config.Username
	msg.IconEmoji = n.config.IconEmoji

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.WebhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			n.logger.Error("Failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack api error: status code %d", resp.StatusCode)
	}

	return nil
}

// Health checks the health of the notifier
func (n *SlackNotifier) Health(_ context.Context) error {
	return nil
}
