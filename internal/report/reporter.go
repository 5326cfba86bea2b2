package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/apiarysec/stinger/internal/engine"
)

// Reporter pushes finalized turn results to the external evaluator callback.
// Delivery is strictly best-effort: it runs off the response path, retries on
// its own budget, and swallows whatever is left after that.
type Reporter struct {
	url         string
	client      *http.Client
	logger      *slog.Logger
	maxAttempts int
	backoffBase time.Duration
}

func New(url string, timeout time.Duration, logger *slog.Logger) *Reporter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reporter{
		url:         url,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
		maxAttempts: 3,
		backoffBase: time.Second,
	}
}

type payload struct {
	ReportID               string `json:"reportId"`
	SessionID              string `json:"sessionId"`
	ScamDetected           bool   `json:"scamDetected"`
	TotalMessagesExchanged int    `json:"totalMessagesExchanged"`
	ExtractedIntelligence  any    `json:"extractedIntelligence"`
	AgentNotes             string `json:"agentNotes"`
}

// Deliver sends the result without blocking the caller.
func (r *Reporter) Deliver(res engine.TurnResult) {
	go func() {
		if err := r.send(context.Background(), res); err != nil {
			r.logger.Warn("result callback abandoned",
				"session_id", res.SessionID,
				"error", err,
			)
		}
	}()
}

func (r *Reporter) send(ctx context.Context, res engine.TurnResult) error {
	body, err := json.Marshal(payload{
		ReportID:               uuid.NewString(),
		SessionID:              res.SessionID,
		ScamDetected:           res.ScamDetected,
		TotalMessagesExchanged: res.TotalMessages,
		ExtractedIntelligence:  res.Evidence.Report(),
		AgentNotes:             res.Notes,
	})
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.backoffBase
	eb.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		return r.post(ctx, body)
	}, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.maxAttempts-1)), ctx))
}

func (r *Reporter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Client errors will not improve on retry.
		return backoff.Permanent(fmt.Errorf("callback rejected with %d", resp.StatusCode))
	}
	return nil
}
