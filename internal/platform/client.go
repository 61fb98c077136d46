// Package platform talks to the monitoring platform API: the audit log used
// to detect changes and the settings objects endpoint that serves the
// current configuration of an entity.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cfgkeeper/internal/httpclient"
	"cfgkeeper/internal/retry"
	"cfgkeeper/internal/types"

	"go.uber.org/zap"
)

const (
	auditLogsPath       = "/api/v2/auditlogs"
	settingsObjectsPath = "/api/v2/settings/objects"

	// AuditFilter selects create and update events only
	AuditFilter = "eventType(CREATE,UPDATE)"
)

// Options configures the platform client
type Options struct {
	URL       string
	APIToken  string
	VerifySSL bool
	Timeout   time.Duration
	Policy    *retry.Policy
}

// Client reads audit logs and settings objects
type Client struct {
	http   *httpclient.Client
	logger *zap.Logger
}

type auditLogPage struct {
	AuditLogs   []types.AuditLogEntry `json:"auditLogs"`
	TotalCount  int                   `json:"totalCount"`
	NextPageKey string                `json:"nextPageKey"`
}

// New creates a platform client
func New(opts Options, logger *zap.Logger) *Client {
	logger = logger.Named("platform")

	header := http.Header{}
	header.Set("Authorization", "Api-Token "+opts.APIToken)

	return &Client{
		http: httpclient.New(httpclient.Options{
			BaseURL:   opts.URL,
			Header:    header,
			VerifySSL: opts.VerifySSL,
			Timeout:   opts.Timeout,
			Policy:    opts.Policy,
		}, logger),
		logger: logger,
	}
}

// AuditLogs returns the create/update events inside window, oldest first.
// An empty slice is a normal outcome.
func (c *Client) AuditLogs(ctx context.Context, window types.SyncWindow) ([]types.AuditLogEntry, error) {
	params := url.Values{}
	params.Set("filter", AuditFilter)
	params.Set("from", strconv.FormatInt(window.Start, 10))
	params.Set("to", strconv.FormatInt(window.End, 10))
	params.Set("sort", "timestamp")

	var entries []types.AuditLogEntry
	for page := 1; ; page++ {
		resp, err := c.http.Request(ctx, http.MethodGet, auditLogsPath, nil, params)
		if err != nil {
			return nil, fmt.Errorf("failed to query audit logs: %w", err)
		}
		if !resp.OK() {
			return nil, fmt.Errorf("audit log query for %s returned status %d: %s",
				window, resp.StatusCode, string(resp.Body))
		}

		var result auditLogPage
		if err := resp.Decode(&result); err != nil {
			return nil, err
		}

		c.logger.Debug("Fetched audit log page",
			zap.Int("page", page),
			zap.Int("entries", len(result.AuditLogs)),
			zap.Int("total", result.TotalCount))

		entries = append(entries, result.AuditLogs...)
		if result.NextPageKey == "" {
			break
		}

		// Follow-up pages accept the page key only
		params = url.Values{}
		params.Set("nextPageKey", result.NextPageKey)
	}

	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			c.logger.Warn("Audit log entry failed validation",
				zap.String("log_id", entries[i].LogID),
				zap.String("entity_id", entries[i].EntityID),
				zap.Error(err))
		}
	}

	return entries, nil
}

// SettingsObjects fetches the current configuration of ref. Every call goes
// to the remote API; nothing is cached.
func (c *Client) SettingsObjects(ctx context.Context, ref types.EntityReference) (types.ConfigSnapshot, error) {
	params := url.Values{}
	params.Set("schemaIds", ref.Type)
	params.Set("scopes", ref.ID)

	resp, err := c.http.Request(ctx, http.MethodGet, settingsObjectsPath, nil, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch settings for %s: %w", ref, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("settings query for %s returned status %d: %s",
			ref, resp.StatusCode, string(resp.Body))
	}
	if !json.Valid(resp.Body) {
		return nil, fmt.Errorf("settings for %s: response is not valid JSON", ref)
	}

	return types.ConfigSnapshot(resp.Body), nil
}

// RateLimitRetries returns how many rate-limited requests were retried
func (c *Client) RateLimitRetries() int64 {
	return c.http.Policy().Retries()
}
