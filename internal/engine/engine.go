package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/apiarysec/stinger/internal/intel"
	"github.com/apiarysec/stinger/internal/oracle"
	"github.com/apiarysec/stinger/internal/session"
)

// Message is one inbound conversation message.
type Message struct {
	Sender    string
	Text      string
	Timestamp time.Time
}

// Turn is a fully decoded incoming turn.
type Turn struct {
	SessionID string
	Message   Message
	History   []Message
	Channel   string
	Language  string
	Locale    string
}

// TurnResult is the externally visible outcome of processing one turn. Every
// turn produces one; there is no failure path out of the engine.
type TurnResult struct {
	SessionID          string
	TurnID             string
	Reply              string
	ScamDetected       bool
	ScamType           string
	Confidence         float64
	Notes              string
	Evidence           intel.Set
	TurnCount          int
	TotalMessages      int
	EngagementDuration time.Duration
	ScamConfirmed      bool
	Degraded           bool
}

// OracleGateway is the bounded envelope around the language model.
type OracleGateway interface {
	Invoke(ctx context.Context, tc oracle.TurnContext) (*oracle.Result, error)
}

// Reporter delivers a finalized turn result to the external evaluator. It
// must do its own retrying and must never block the caller.
type Reporter interface {
	Deliver(res TurnResult)
}

// Archiver persists turn outcomes, best-effort.
type Archiver interface {
	SaveTurn(ctx context.Context, res TurnResult) error
}

// Publisher emits bus events, best-effort.
type Publisher interface {
	Publish(subject string, data any) error
}

// highSignalKinds drive the coarse fallback scam heuristic used when the
// model is unavailable.
var highSignalKinds = []intel.Kind{intel.KindUPIID, intel.KindBankAccount, intel.KindPhishingLink}

// fallbackConfidence is the fixed confidence reported when only the fallback
// heuristic fired.
const fallbackConfidence = 0.5

// fallbackReplies keep the counterpart talking when no model reply is
// available. Indexed by turn count so repeated outages don't repeat the same
// line back to back.
var fallbackReplies = []string{
	"Sorry, I was away from my phone. Can you tell me again what I need to do?",
	"I am a bit confused. Could you explain the steps once more, slowly?",
	"My network keeps dropping. Which number or link should I use exactly?",
	"I want to sort this out today. What details do you need from me?",
}

const fallbackNotes = "model unavailable this turn; reply and verdict produced by deterministic fallback"

// Engine coordinates one turn end to end: eager pattern extraction, a
// best-effort oracle call, evidence merge, session update, and side-channel
// delivery. Reporter, archiver and publisher may be nil.
type Engine struct {
	gateway   OracleGateway
	sessions  *session.Registry
	reporter  Reporter
	archiver  Archiver
	publisher Publisher
	logger    *slog.Logger
	newTurnID func() string
}

func New(gateway OracleGateway, sessions *session.Registry, reporter Reporter, archiver Archiver, publisher Publisher, logger *slog.Logger) *Engine {
	return &Engine{
		gateway:   gateway,
		sessions:  sessions,
		reporter:  reporter,
		archiver:  archiver,
		publisher: publisher,
		logger:    logger,
		newTurnID: newUUID,
	}
}

// ProcessTurn runs the per-turn state machine. It always returns a complete
// result: oracle failure degrades the reply and verdict but never the turn.
func (e *Engine) ProcessTurn(ctx context.Context, turn Turn) TurnResult {
	prev, _ := e.sessions.Snapshot(turn.SessionID)

	var oracleRes *oracle.Result
	var patternSet intel.Set

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := e.gateway.Invoke(gctx, oracle.TurnContext{
			SessionID:   turn.SessionID,
			Channel:     turn.Channel,
			Language:    turn.Language,
			Locale:      turn.Locale,
			History:     toOracleMessages(turn.History),
			Latest:      oracle.Message(turn.Message),
			Accumulated: prev.Evidence,
		})
		if err != nil {
			if !errors.Is(err, oracle.ErrUnavailable) {
				e.logger.Error("unexpected gateway error", "session_id", turn.SessionID, "error", err)
			}
			return nil // degraded mode, never a turn failure
		}
		oracleRes = res
		return nil
	})

	patternSet = intel.Extract(turn.Message.Text)
	_ = g.Wait()

	incoming := patternSet
	scamDetected := patternSet.HasAny(highSignalKinds...)
	scamType := ""
	confidence := 0.0
	reply := fallbackReplies[prev.TurnCount%len(fallbackReplies)]
	notes := fallbackNotes
	if scamDetected {
		confidence = fallbackConfidence
	}

	if oracleRes != nil {
		incoming = intel.Merge(patternSet, oracleRes.Evidence)
		scamDetected = oracleRes.ScamDetected
		scamType = oracleRes.ScamType
		confidence = oracleRes.Confidence
		notes = oracleRes.Notes
		if oracleRes.Reply != "" {
			reply = oracleRes.Reply
		}
	}

	state := e.sessions.ApplyTurn(turn.SessionID, incoming, scamDetected)

	res := TurnResult{
		SessionID:          turn.SessionID,
		TurnID:             e.newTurnID(),
		Reply:              reply,
		ScamDetected:       scamDetected,
		ScamType:           scamType,
		Confidence:         confidence,
		Notes:              notes,
		Evidence:           state.Evidence,
		TurnCount:          state.TurnCount,
		TotalMessages:      len(turn.History) + 1,
		EngagementDuration: state.EngagementDuration(),
		ScamConfirmed:      state.ScamConfirmed,
		Degraded:           oracleRes == nil,
	}

	e.logger.Info("turn processed",
		"session_id", turn.SessionID,
		"turn", state.TurnCount,
		"scam_detected", scamDetected,
		"evidence_items", state.Evidence.Len(),
		"degraded", res.Degraded,
	)

	e.sideEffects(ctx, prev, state, oracleRes, res)

	return res
}

// sideEffects runs everything that must not influence or delay the response
// path: persistence, bus events, and the evaluator callback.
func (e *Engine) sideEffects(ctx context.Context, prev, state session.State, oracleRes *oracle.Result, res TurnResult) {
	if e.archiver != nil {
		if err := e.archiver.SaveTurn(ctx, res); err != nil {
			e.logger.Error("turn persistence failed", "session_id", res.SessionID, "error", err)
		}
	}

	if e.publisher != nil {
		if state.Evidence.Len() > prev.Evidence.Len() {
			if err := e.publisher.Publish("honeypot.intel.updated", map[string]any{
				"session_id":     res.SessionID,
				"turn":           res.TurnCount,
				"evidence_items": state.Evidence.Len(),
				"intelligence":   state.Evidence.Report(),
			}); err != nil {
				e.logger.Error("failed to publish intel update", "error", err)
			}
		}
		if state.ScamConfirmed && !prev.ScamConfirmed {
			if err := e.publisher.Publish("honeypot.scam.confirmed", map[string]any{
				"session_id": res.SessionID,
				"scam_type":  res.ScamType,
				"confidence": res.Confidence,
			}); err != nil {
				e.logger.Error("failed to publish scam confirmation", "error", err)
			}
		}
	}

	if e.reporter != nil && oracleRes != nil && oracleRes.ScamDetected && oracleRes.TriggerCallback {
		e.reporter.Deliver(res)
	}
}

func newUUID() string {
	return uuid.NewString()
}

func toOracleMessages(msgs []Message) []oracle.Message {
	out := make([]oracle.Message, len(msgs))
	for i, m := range msgs {
		out[i] = oracle.Message(m)
	}
	return out
}
