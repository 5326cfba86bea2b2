package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/apiarysec/stinger/internal/intel"
)

// ErrUnavailable means the oracle could not produce a usable result within the
// retry and time budget. Callers degrade to fallback behaviour; they never
// fail the turn.
var ErrUnavailable = errors.New("oracle unavailable")

// Message is one conversation message as seen by the oracle.
type Message struct {
	Sender    string
	Text      string
	Timestamp time.Time
}

// TurnContext carries everything the oracle needs for one turn.
type TurnContext struct {
	SessionID   string
	Channel     string
	Language    string
	Locale      string
	History     []Message
	Latest      Message
	Accumulated intel.Set
}

// Result is the oracle's parsed verdict for one turn.
type Result struct {
	ScamDetected    bool
	ScamType        string
	Confidence      float64
	Reply           string
	Notes           string
	Evidence        intel.Set
	TriggerCallback bool
}

// Generator produces raw model output for a system + user prompt pair.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Config bounds the gateway's time and retry budget.
type Config struct {
	AttemptTimeout time.Duration // hard deadline per attempt
	TotalBudget    time.Duration // wall-clock budget across all attempts
	MaxAttempts    int
	InitialBackoff time.Duration // first retry delay, doubled each retry
}

func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 8 * time.Second,
		TotalBudget:    20 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
	}
}

// Gateway wraps oracle calls in a bounded-time, bounded-retry envelope.
type Gateway struct {
	gen    Generator
	cfg    Config
	logger *slog.Logger
}

func NewGateway(gen Generator, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	if cfg.TotalBudget <= 0 {
		cfg.TotalBudget = DefaultConfig().TotalBudget
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	return &Gateway{gen: gen, cfg: cfg, logger: logger}
}

// Invoke calls the oracle with retries and returns its parsed result, or
// ErrUnavailable once the attempt or time budget is exhausted. Each attempt
// runs under its own deadline; an attempt that overruns is cancelled, which
// aborts the in-flight request, so a late response can never surface after the
// caller has moved on.
func (g *Gateway) Invoke(ctx context.Context, tc TurnContext) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.TotalBudget)
	defer cancel()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = g.cfg.InitialBackoff
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0 // the context carries the wall-clock budget

	user := renderConversation(tc)
	attempt := 0

	res, err := backoff.RetryWithData(func() (*Result, error) {
		attempt++
		attemptCtx, cancelAttempt := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		defer cancelAttempt()

		raw, err := g.gen.Generate(attemptCtx, systemPrompt, user)
		if err != nil {
			g.logger.Warn("oracle attempt failed",
				"session_id", tc.SessionID,
				"attempt", attempt,
				"error", err,
			)
			return nil, fmt.Errorf("generate: %w", err)
		}

		payload, err := parsePayload(raw)
		if err != nil {
			g.logger.Warn("oracle payload unusable",
				"session_id", tc.SessionID,
				"attempt", attempt,
				"error", err,
			)
			return nil, fmt.Errorf("parse payload: %w", err)
		}

		return resultFromPayload(payload), nil
	}, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(g.cfg.MaxAttempts-1)), ctx))

	if err != nil {
		g.logger.Warn("oracle unavailable for turn",
			"session_id", tc.SessionID,
			"attempts", attempt,
			"error", err,
		)
		return nil, ErrUnavailable
	}

	g.logger.Info("oracle responded",
		"session_id", tc.SessionID,
		"attempts", attempt,
		"scam_detected", res.ScamDetected,
		"evidence_items", res.Evidence.Len(),
	)
	return res, nil
}

// wirePayload is the JSON shape the oracle is instructed to emit.
type wirePayload struct {
	ScamDetected          bool         `json:"scamDetected"`
	ScamType              string       `json:"scamType"`
	Confidence            float64      `json:"confidence"`
	AgentReply            string       `json:"agentReply"`
	AgentNotes            string       `json:"agentNotes"`
	Intelligence          intel.Report `json:"intelligence"`
	ShouldTriggerCallback bool         `json:"shouldTriggerCallback"`
}

// parsePayload strictly decodes the raw model output, routing through Repair
// when the first decode fails. Repaired output must still satisfy the schema:
// unknown fields or wrongly typed values are rejected either way.
func parsePayload(raw string) (*wirePayload, error) {
	s := stripFences(raw)

	payload, err := decodeStrict(s)
	if err == nil {
		return payload, nil
	}

	repaired, ok := Repair(s)
	if !ok {
		return nil, fmt.Errorf("unrecoverable payload: %w", err)
	}
	payload, rerr := decodeStrict(repaired)
	if rerr != nil {
		return nil, fmt.Errorf("repaired payload failed schema check: %w", rerr)
	}
	return payload, nil
}

func decodeStrict(s string) (*wirePayload, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.DisallowUnknownFields()
	var p wirePayload
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func resultFromPayload(p *wirePayload) *Result {
	conf := p.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return &Result{
		ScamDetected:    p.ScamDetected,
		ScamType:        p.ScamType,
		Confidence:      conf,
		Reply:           p.AgentReply,
		Notes:           p.AgentNotes,
		Evidence:        intel.FromReport(p.Intelligence),
		TriggerCallback: p.ShouldTriggerCallback,
	}
}
