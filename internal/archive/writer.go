// Package archive stores configuration snapshots in a repository exposed
// through a GitHub-compatible contents API.
//
// Every commit is a read-modify-write: the current blob sha at the target
// path is read first and sent back with the update, so the backend rejects
// the write when someone else changed the file in between.
package archive

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"cfgkeeper/internal/entity"
	"cfgkeeper/internal/httpclient"
	"cfgkeeper/internal/retry"
	"cfgkeeper/internal/types"

	"go.uber.org/zap"
)

// MaxMessageLength is the commit message limit in characters
const MaxMessageLength = 40

// Options configures a Writer
type Options struct {
	URL       string // repository API base, e.g. https://api.github.com/repos/org/configs
	User      string
	Token     string
	Committer types.Committer
	VerifySSL bool
	Timeout   time.Duration
	Policy    *retry.Policy
}

// Writer commits snapshots to the archive repository
type Writer struct {
	http      *httpclient.Client
	committer types.Committer
	logger    *zap.Logger
}

type contentInfo struct {
	SHA string `json:"sha"`
}

type putRequest struct {
	Message   string          `json:"message"`
	SHA       string          `json:"sha,omitempty"`
	Committer types.Committer `json:"committer"`
	Content   string          `json:"content"`
}

type putResponse struct {
	Content contentInfo `json:"content"`
}

// NewWriter creates a writer
func NewWriter(opts Options, logger *zap.Logger) *Writer {
	logger = logger.Named("archive")

	header := http.Header{}
	header.Set("Accept", "application/vnd.github.v3+json")

	policy := opts.Policy
	if policy == nil {
		policy = retry.NewPolicy(retry.DefaultArchiveConfig(), nil)
	}

	return &Writer{
		http: httpclient.New(httpclient.Options{
			BaseURL:   opts.URL,
			Header:    header,
			Username:  opts.User,
			Password:  opts.Token,
			VerifySSL: opts.VerifySSL,
			Timeout:   opts.Timeout,
			Policy:    policy,
		}, logger),
		committer: opts.Committer,
		logger:    logger,
	}
}

// RateLimitRetries returns how many rate-limited writes were retried
func (w *Writer) RateLimitRetries() int64 {
	return w.http.Policy().Retries()
}

// RecordPath returns the repository path of ref: {id}/{sanitized type}.json
func RecordPath(ref types.EntityReference) string {
	return entity.SanitizeID(ref.ID) + "/" + entity.SanitizeType(ref.Type) + ".json"
}

// CommitMessage returns "{user} {timestamp}" cut to MaxMessageLength characters
func CommitMessage(user string, timestamp int64) string {
	msg := user + " " + strconv.FormatInt(timestamp, 10)
	if utf8.RuneCountInString(msg) <= MaxMessageLength {
		return msg
	}
	return string([]rune(msg)[:MaxMessageLength])
}

// Commit writes snapshot for ref. A missing record is created; an existing
// one is overwritten only if it still has the sha read here.
func (w *Writer) Commit(ctx context.Context, ref types.EntityReference, snapshot types.ConfigSnapshot, user string, timestamp int64) (*types.ArchiveRecord, error) {
	path := RecordPath(ref)

	prev, err := w.PreviousSHA(ctx, path)
	if err != nil {
		return nil, err
	}

	content, err := encodeSnapshot(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot for %s: %w", ref, err)
	}

	record := &types.ArchiveRecord{
		Path:        path,
		Message:     CommitMessage(user, timestamp),
		PreviousSHA: prev,
		Committer:   w.committer,
	}

	resp, err := w.http.Fetch(ctx, http.MethodPut, contentsPath(path), putRequest{
		Message:   record.Message,
		SHA:       prev,
		Committer: w.committer,
		Content:   content,
	}, nil)
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			w.logger.Warn("Archive rejected stale write",
				zap.String("path", path),
				zap.String("previous_sha", prev))
		}
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}

	var result putResponse
	if len(resp.Body) > 0 {
		if err := resp.Decode(&result); err != nil {
			return nil, err
		}
	}
	record.SHA = result.Content.SHA

	w.logger.Info("Committed snapshot",
		zap.String("path", path),
		zap.String("message", record.Message),
		zap.Bool("created", record.Created()),
		zap.String("sha", record.SHA))

	return record, nil
}

// PreviousSHA returns the blob sha stored at path, or "" if there is none
func (w *Writer) PreviousSHA(ctx context.Context, path string) (string, error) {
	resp, err := w.http.Fetch(ctx, http.MethodGet, contentsPath(path), nil, nil)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return "", nil
		}
		w.logger.Error("Unexpected response reading archive record",
			zap.String("path", path),
			zap.Error(err))
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	var info contentInfo
	if err := resp.Decode(&info); err != nil {
		return "", err
	}
	return info.SHA, nil
}

func contentsPath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/contents/" + strings.Join(segments, "/")
}

// encodeSnapshot pretty-prints the snapshot with two-space indentation and
// returns it base64 encoded
func encodeSnapshot(snapshot types.ConfigSnapshot) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(snapshot), "", "  "); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
