// Package remote is the HTTP client for the CodeMie ingestion API.
//
// It owns retry, timeout, and dry-run behavior. The engine's obligation to
// the remote API is correct payload construction and idempotent
// resubmission semantics, not protocol negotiation.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/codemie-ai/codemie-code/errors"
	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds one request including retries' individual attempts.
const DefaultTimeout = 30 * time.Second

// DefaultMaxRetries bounds retry attempts per request.
const DefaultMaxRetries = 3

// retryBaseDelay is the initial backoff between attempts.
const retryBaseDelay = 500 * time.Millisecond

// Sender submits metric and conversation payloads to the ingestion API.
// In dry-run mode it skips all network I/O while callers still advance
// their local state.
type Sender struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	cookies    string
	clientType string
	version    string
	maxRetries uint64
	dryRun     bool
	logger     *logrus.Entry
}

// Option configures a Sender.
type Option func(*Sender)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Sender) { s.client.Timeout = d }
}

// WithMaxRetries overrides the retry bound.
func WithMaxRetries(n int) Option {
	return func(s *Sender) { s.maxRetries = uint64(n) }
}

// NewSender creates a Sender from a processing context handed in by the
// auth/config layer. The engine never acquires credentials itself.
func NewSender(pctx models.ProcessingContext, logger *logrus.Entry, opts ...Option) *Sender {
	s := &Sender{
		client:     &http.Client{Timeout: DefaultTimeout},
		baseURL:    pctx.APIBaseURL,
		apiKey:     pctx.APIKey,
		cookies:    pctx.Cookies,
		clientType: pctx.ClientType,
		version:    pctx.Version,
		maxRetries: DefaultMaxRetries,
		dryRun:     pctx.DryRun,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DryRun reports whether network I/O is suppressed.
func (s *Sender) DryRun() bool {
	return s.dryRun
}

// SendSessionMetric submits one per-branch session metric.
func (s *Sender) SendSessionMetric(ctx context.Context, payload models.SessionMetricPayload) error {
	if s.dryRun {
		s.logger.WithFields(logrus.Fields{
			"branch": payload.Attributes.Branch,
			"metric": payload.MetricName,
		}).Info("Dry run: skipping session metric send")
		return nil
	}
	_, err := s.post(ctx, "/v1/metrics/sessions", payload)
	return err
}

// UpsertConversation submits a conversation history window. The remote API
// dedupes entries by history_index, so redelivery of the same window is
// safe. Returns the raw response body for the payload log.
func (s *Sender) UpsertConversation(ctx context.Context, payload models.ConversationPayload) (string, error) {
	if s.dryRun {
		s.logger.WithFields(logrus.Fields{
			"conversation": payload.ConversationID,
			"messages":     len(payload.History),
		}).Info("Dry run: skipping conversation upsert")
		return "", nil
	}
	path := "/v1/conversations/" + payload.ConversationID
	return s.put(ctx, path, payload)
}

func (s *Sender) post(ctx context.Context, path string, body interface{}) (string, error) {
	return s.send(ctx, http.MethodPost, path, body)
}

func (s *Sender) put(ctx context.Context, path string, body interface{}) (string, error) {
	return s.send(ctx, http.MethodPut, path, body)
}

// send performs one request with bounded exponential backoff. Network
// errors and retryable status codes (429, 5xx) are retried; everything
// else fails immediately.
func (s *Sender) send(ctx context.Context, method, path string, body interface{}) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request body: %w", err)
	}

	url := s.baseURL + path
	var responseBody string

	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(retryBaseDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
		if err != nil {
			return err
		}
		s.setHeaders(req)

		resp, err := s.client.Do(req)
		if err != nil {
			s.logger.WithError(err).WithField("url", url).Debug("Request failed, may retry")
			var nerr net.Error
			if stderrors.As(err, &nerr) && nerr.Timeout() {
				return retry.RetryableError(errors.RemoteTimeout(path, err))
			}
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		responseBody = string(raw)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			s.logger.WithFields(logrus.Fields{
				"url":    url,
				"status": resp.StatusCode,
			}).Debug("Retryable status from remote API")
			return retry.RetryableError(errors.RemoteStatus(path, resp.StatusCode))
		default:
			return errors.RemoteStatus(path, resp.StatusCode)
		}
	})
	if err != nil {
		return responseBody, err
	}
	return responseBody, nil
}

func (s *Sender) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	if s.cookies != "" {
		req.Header.Set("Cookie", s.cookies)
	}
	if s.clientType != "" {
		req.Header.Set("X-Client-Type", s.clientType)
	}
	if s.version != "" {
		req.Header.Set("X-Client-Version", s.version)
	}
}
