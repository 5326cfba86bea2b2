package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/apiarysec/stinger/internal/intel"
)

// Timestamp accepts both ISO-8601 strings and epoch-millisecond numbers,
// since inbound platforms disagree on the wire form.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		raw := strings.Trim(s, `"`)
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, raw); err == nil {
				t.Time = parsed
				return nil
			}
		}
		return fmt.Errorf("unrecognized timestamp %q", raw)
	}

	millis, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("unrecognized timestamp %s", s)
	}
	t.Time = time.UnixMilli(millis).UTC()
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339) + `"`), nil
}

type wireMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp Timestamp `json:"timestamp"`
}

type wireMetadata struct {
	Channel  string `json:"channel"`
	Language string `json:"language"`
	Locale   string `json:"locale"`
}

type turnRequest struct {
	SessionID           string        `json:"sessionId"`
	Message             wireMessage   `json:"message"`
	ConversationHistory []wireMessage `json:"conversationHistory"`
	Metadata            *wireMetadata `json:"metadata"`
}

type engagementMetrics struct {
	EngagementDurationSeconds int `json:"engagementDurationSeconds"`
	TotalMessagesExchanged    int `json:"totalMessagesExchanged"`
}

type turnResponse struct {
	Status                string            `json:"status"`
	ScamDetected          bool              `json:"scamDetected"`
	ScamType              string            `json:"scamType,omitempty"`
	Confidence            float64           `json:"confidence"`
	EngagementMetrics     engagementMetrics `json:"engagementMetrics"`
	ExtractedIntelligence intel.Report      `json:"extractedIntelligence"`
	AgentNotes            string            `json:"agentNotes"`
	AgentReply            string            `json:"agentReply,omitempty"`
}

type sessionResponse struct {
	SessionID             string       `json:"sessionId"`
	TurnCount             int          `json:"turnCount"`
	ScamConfirmed         bool         `json:"scamConfirmed"`
	FirstSeenAt           Timestamp    `json:"firstSeenAt"`
	LastSeenAt            Timestamp    `json:"lastSeenAt"`
	ExtractedIntelligence intel.Report `json:"extractedIntelligence"`
}
