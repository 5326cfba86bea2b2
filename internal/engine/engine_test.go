package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/apiarysec/stinger/internal/intel"
	"github.com/apiarysec/stinger/internal/oracle"
	"github.com/apiarysec/stinger/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubGateway returns a fixed result or unavailability, optionally after a
// delay to simulate a slow model.
type stubGateway struct {
	res   *oracle.Result
	delay time.Duration

	mu      sync.Mutex
	invoked int
	lastTC  oracle.TurnContext
}

func (s *stubGateway) Invoke(ctx context.Context, tc oracle.TurnContext) (*oracle.Result, error) {
	s.mu.Lock()
	s.invoked++
	s.lastTC = tc
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, oracle.ErrUnavailable
		}
	}
	if s.res == nil {
		return nil, oracle.ErrUnavailable
	}
	return s.res, nil
}

type captureReporter struct {
	mu        sync.Mutex
	delivered []TurnResult
}

func (c *captureReporter) Deliver(res TurnResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, res)
}

func (c *captureReporter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delivered)
}

type capturePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (c *capturePublisher) Publish(subject string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	return nil
}

func newTurn(sessionID, text string) Turn {
	return Turn{
		SessionID: sessionID,
		Message:   Message{Sender: "scammer", Text: text, Timestamp: time.Now()},
	}
}

func TestProcessTurn_WithOracle(t *testing.T) {
	gw := &stubGateway{res: &oracle.Result{
		ScamDetected: true,
		ScamType:     "upi_fraud",
		Confidence:   0.9,
		Reply:        "Which app should I open?",
		Notes:        "payment redirection",
		Evidence:     intel.NewSet(intel.Item{Kind: intel.KindUPIID, Value: "fraud@ybl"}),
	}}
	e := New(gw, session.NewRegistry(), nil, nil, nil, discardLogger())

	res := e.ProcessTurn(context.Background(), newTurn("sess-1", "call 9876543210 for your refund"))

	if !res.ScamDetected || res.ScamType != "upi_fraud" || res.Reply != "Which app should I open?" {
		t.Errorf("oracle verdict not used: %+v", res)
	}
	// Merge keeps both oracle and pattern evidence.
	if !res.Evidence.Contains(intel.KindUPIID, "fraud@ybl") {
		t.Error("oracle evidence lost in merge")
	}
	if !res.Evidence.Contains(intel.KindPhone, "9876543210") {
		t.Error("pattern evidence lost in merge")
	}
	if res.Degraded {
		t.Error("turn marked degraded with working oracle")
	}
	if res.TurnCount != 1 || res.TotalMessages != 1 {
		t.Errorf("counters = %d/%d, want 1/1", res.TurnCount, res.TotalMessages)
	}
}

func TestProcessTurn_OracleUnavailable_FallsBack(t *testing.T) {
	e := New(&stubGateway{}, session.NewRegistry(), nil, nil, nil, discardLogger())

	res := e.ProcessTurn(context.Background(), newTurn("sess-1", "pay fraud@ybl immediately"))

	if !res.Degraded {
		t.Error("turn not marked degraded")
	}
	if res.Reply == "" {
		t.Error("fallback reply empty")
	}
	// UPI id is a high-signal kind, so the heuristic must fire.
	if !res.ScamDetected {
		t.Error("fallback heuristic missed high-signal evidence")
	}
	if res.Confidence != fallbackConfidence {
		t.Errorf("confidence = %f, want %f", res.Confidence, fallbackConfidence)
	}
	if !res.Evidence.Contains(intel.KindUPIID, "fraud@ybl") {
		t.Error("pattern evidence lost in degraded mode")
	}
}

func TestProcessTurn_FallbackHeuristicNegative(t *testing.T) {
	e := New(&stubGateway{}, session.NewRegistry(), nil, nil, nil, discardLogger())

	res := e.ProcessTurn(context.Background(), newTurn("sess-1", "hello, are you there?"))

	if res.ScamDetected {
		t.Error("heuristic fired with no high-signal evidence")
	}
	if res.Confidence != 0 {
		t.Errorf("confidence = %f, want 0", res.Confidence)
	}
	if res.Reply == "" {
		t.Error("fallback reply empty")
	}
}

func TestProcessTurn_SlowOracleBoundedByCaller(t *testing.T) {
	gw := &stubGateway{delay: 5 * time.Second}
	e := New(gw, session.NewRegistry(), nil, nil, nil, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := e.ProcessTurn(ctx, newTurn("sess-1", "send money to 987654321012 now"))
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Errorf("turn took %v, should be bounded by caller deadline", elapsed)
	}
	if !res.Degraded || !res.ScamDetected {
		t.Errorf("expected degraded heuristic verdict, got %+v", res)
	}
}

func TestProcessTurn_EvidenceAccumulatesAcrossTurns(t *testing.T) {
	e := New(&stubGateway{}, session.NewRegistry(), nil, nil, nil, discardLogger())
	ctx := context.Background()

	e.ProcessTurn(ctx, newTurn("sess-1", "call 9876543210"))
	res := e.ProcessTurn(ctx, newTurn("sess-1", "or pay fraud@ybl"))

	if !res.Evidence.Contains(intel.KindPhone, "9876543210") {
		t.Error("first-turn evidence missing from second turn")
	}
	if !res.Evidence.Contains(intel.KindUPIID, "fraud@ybl") {
		t.Error("second-turn evidence missing")
	}
	if res.TurnCount != 2 {
		t.Errorf("turn count = %d, want 2", res.TurnCount)
	}
}

func TestProcessTurn_ScamConfirmedSticksAcrossVerdicts(t *testing.T) {
	gw := &stubGateway{res: &oracle.Result{ScamDetected: true, Reply: "ok"}}
	e := New(gw, session.NewRegistry(), nil, nil, nil, discardLogger())
	ctx := context.Background()

	res := e.ProcessTurn(ctx, newTurn("sess-1", "you won a lottery"))
	if !res.ScamConfirmed {
		t.Fatal("scamConfirmed not set")
	}

	gw.res = &oracle.Result{ScamDetected: false, Reply: "ok"}
	res = e.ProcessTurn(ctx, newTurn("sess-1", "never mind"))
	if res.ScamDetected {
		t.Error("turn verdict should follow the oracle")
	}
	if !res.ScamConfirmed {
		t.Error("scamConfirmed reverted on a false signal")
	}
}

func TestProcessTurn_ReporterFiredOnlyOnTrigger(t *testing.T) {
	rep := &captureReporter{}
	gw := &stubGateway{res: &oracle.Result{ScamDetected: true, Reply: "ok", TriggerCallback: false}}
	e := New(gw, session.NewRegistry(), rep, nil, nil, discardLogger())
	ctx := context.Background()

	e.ProcessTurn(ctx, newTurn("sess-1", "hello"))
	if rep.count() != 0 {
		t.Error("reporter fired without trigger")
	}

	gw.res = &oracle.Result{ScamDetected: true, Reply: "ok", TriggerCallback: true}
	e.ProcessTurn(ctx, newTurn("sess-1", "pay me"))
	if rep.count() != 1 {
		t.Errorf("reporter deliveries = %d, want 1", rep.count())
	}
}

func TestProcessTurn_PublishesOnEvidenceGrowthAndConfirmation(t *testing.T) {
	pub := &capturePublisher{}
	gw := &stubGateway{res: &oracle.Result{ScamDetected: true, Reply: "ok"}}
	e := New(gw, session.NewRegistry(), nil, nil, pub, discardLogger())
	ctx := context.Background()

	e.ProcessTurn(ctx, newTurn("sess-1", "pay fraud@ybl"))

	pub.mu.Lock()
	subjects := append([]string(nil), pub.subjects...)
	pub.mu.Unlock()
	want := map[string]bool{"honeypot.intel.updated": false, "honeypot.scam.confirmed": false}
	for _, s := range subjects {
		want[s] = true
	}
	for subject, seen := range want {
		if !seen {
			t.Errorf("expected %s to be published, got %v", subject, subjects)
		}
	}

	// A repeat turn with no new evidence publishes no intel update.
	pub.mu.Lock()
	pub.subjects = nil
	pub.mu.Unlock()
	e.ProcessTurn(ctx, newTurn("sess-1", "pay fraud@ybl"))
	pub.mu.Lock()
	defer pub.mu.Unlock()
	for _, s := range pub.subjects {
		if s == "honeypot.intel.updated" {
			t.Error("intel update published with no evidence growth")
		}
	}
}

func TestProcessTurn_OracleSeesPriorEvidenceOnly(t *testing.T) {
	gw := &stubGateway{res: &oracle.Result{Reply: "ok"}}
	e := New(gw, session.NewRegistry(), nil, nil, nil, discardLogger())
	ctx := context.Background()

	e.ProcessTurn(ctx, newTurn("sess-1", "call 9876543210"))
	e.ProcessTurn(ctx, newTurn("sess-1", "anything else?"))

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if !gw.lastTC.Accumulated.Contains(intel.KindPhone, "9876543210") {
		t.Error("second turn's oracle context missing accumulated evidence")
	}
}
