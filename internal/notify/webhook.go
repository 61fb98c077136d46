package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"cfgkeeper/internal/config"
	"cfgkeeper/internal/types"
	"cfgkeeper/internal/version"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebhookNotifier represents webhook notifier
type WebhookNotifier struct {
	config   *config.WebhookConfig
	logger   *zap.Logger
	client   *http.Client
	hostname string
	backoff  func(attempt int) time.Duration
}

// WebhookPayload represents the standard webhook payload structure
type WebhookPayload struct {
	EventType string         `json:"event_type"`
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Hostname  string         `json:"hostname,omitempty"`
	Version   string         `json:"version,omitempty"`
}

// NewWebhookNotifier creates new webhook notifier
func NewWebhookNotifier(cfg *config.WebhookConfig, logger *zap.Logger) (*WebhookNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 2,
		},
	}

	hostname, _ := os.Hostname()

	return &WebhookNotifier{
		config:   cfg,
		logger:   logger,
		client:   client,
		hostname: hostname,
		backoff:  calculateBackoff,
	}, nil
}

// NotifyEntityFailures sends the failed entities of a cycle
func (n *WebhookNotifier) NotifyEntityFailures(report *types.CycleReport) error {
	var failures []map[string]string
	for _, res := range report.Results {
		if res.Status != types.EntityFailed {
			continue
		}
		failures = append(failures, map[string]string{
			"entity": res.Raw,
			"user":   res.User,
			"error":  res.Error,
		})
	}

	return n.sendWebhook(WebhookPayload{
		EventType: EventEntityFailures,
		Data: map[string]any{
			"run_id":    report.RunID,
			"window":    report.Window,
			"entries":   report.Entries,
			"committed": report.Committed,
			"skipped":   report.Skipped,
			"failed":    report.Failed,
			"failures":  failures,
		},
	})
}

// NotifyCycleError sends an aborted cycle notification
func (n *WebhookNotifier) NotifyCycleError(failure *CycleError) error {
	return n.sendWebhook(WebhookPayload{
		EventType: EventCycleError,
		Data: map[string]any{
			"window": failure.Window,
			"error":  failure.Error,
		},
	})
}

// sendWebhook sends a webhook
func (n *WebhookNotifier) sendWebhook(payload WebhookPayload) error {
	payload.EventID = uuid.NewString()
	payload.Timestamp = time.Now()
	payload.Hostname = n.hostname
	payload.Version = version.GetInfo().Version

	// Add common data from config
	for k, v := range n.config.CommonData {
		if _, exists := payload.Data[k]; !exists {
			payload.Data[k] = v
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	signature := ""
	if n.config.Secret != "" {
		signature = calculateSignature(data, []byte(n.config.Secret))
	}

	attempts := max(n.config.MaxRetries, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		status, err := n.post(data, payload, signature)
		switch {
		case err != nil:
			lastErr = err
		case status >= 500:
			lastErr = fmt.Errorf("webhook request failed with status %d", status)
		case status >= 400:
			return fmt.Errorf("webhook request failed with status %d", status)
		default:
			return nil
		}

		if attempt < attempts {
			n.logger.Debug("Retrying webhook",
				zap.String("event_id", payload.EventID),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			time.Sleep(n.backoff(attempt))
		}
	}

	return fmt.Errorf("failed to send webhook after %d attempts: %w", attempts, lastErr)
}

func (n *WebhookNotifier) post(data []byte, payload WebhookPayload, signature string) (int, error) {
	method := n.config.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequest(method, n.config.URL, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cfgkeeper-webhook/"+version.GetInfo().Version)
	req.Header.Set("X-Cfgkeeper-Event", payload.EventType)
	req.Header.Set("X-Cfgkeeper-Delivery", payload.EventID)
	if signature != "" {
		req.Header.Set("X-Cfgkeeper-Signature", signature)
	}

	// Add custom headers from config
	for k, v := range n.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func(Body io.ReadCloser) {
		_, _ = io.Copy(io.Discard, Body)
		if err := Body.Close(); err != nil {
			n.logger.Error("Failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	return resp.StatusCode, nil
}

// calculateSignature calculates the signature
func calculateSignature(payload []byte, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// calculateBackoff calculates the backoff
func calculateBackoff(attempt int) time.Duration {
	backoff := time.Duration(attempt*attempt) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

// Health checks the health of the notifier
func (n *WebhookNotifier) Health(_ context.Context) error {
	if n.config.URL == "" {
		return fmt.Errorf("webhook url not configured")
	}
	return nil
}
