package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/apiarysec/stinger/internal/engine"
	"github.com/apiarysec/stinger/internal/session"
)

const apiKeyHeader = "x-api-key"

// TurnProcessor is what the server needs from the engine.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, turn engine.Turn) engine.TurnResult
}

type Server struct {
	router   *chi.Mux
	engine   TurnProcessor
	sessions *session.Registry
	apiKey   string
	port     int
}

func NewServer(port int, apiKey string, eng TurnProcessor, sessions *session.Registry) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		engine:   eng,
		sessions: sessions,
		apiKey:   apiKey,
		port:     port,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/stinger/status", s.status)

	router.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/honeypot", s.handleTurn)
		r.Get("/api/v1/sessions/{sessionID}", s.handleSession)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// requireAPIKey fails closed: with no key configured every protected request
// is rejected rather than letting the endpoint run open.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			writeError(w, http.StatusInternalServerError, "server API key not configured")
			return
		}
		if r.Header.Get(apiKeyHeader) != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if req.Message.Sender != "user" && req.Message.Sender != "scammer" {
		writeError(w, http.StatusBadRequest, "message.sender must be user or scammer")
		return
	}

	res := s.engine.ProcessTurn(r.Context(), toTurn(req))

	writeJSON(w, http.StatusOK, turnResponse{
		Status:       "success",
		ScamDetected: res.ScamDetected,
		ScamType:     res.ScamType,
		Confidence:   res.Confidence,
		EngagementMetrics: engagementMetrics{
			EngagementDurationSeconds: int(res.EngagementDuration.Seconds()),
			TotalMessagesExchanged:    res.TotalMessages,
		},
		ExtractedIntelligence: res.Evidence.Report(),
		AgentNotes:            res.Notes,
		AgentReply:            res.Reply,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	state, ok := s.sessions.Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:             state.SessionID,
		TurnCount:             state.TurnCount,
		ScamConfirmed:         state.ScamConfirmed,
		FirstSeenAt:           Timestamp{state.FirstSeenAt},
		LastSeenAt:            Timestamp{state.LastSeenAt},
		ExtractedIntelligence: state.Evidence.Report(),
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":    "stinger",
		"status":   "active",
		"sessions": s.sessions.Len(),
	})
}

func toTurn(req turnRequest) engine.Turn {
	turn := engine.Turn{
		SessionID: req.SessionID,
		Message:   toMessage(req.Message),
	}
	for _, m := range req.ConversationHistory {
		turn.History = append(turn.History, toMessage(m))
	}
	if req.Metadata != nil {
		turn.Channel = req.Metadata.Channel
		turn.Language = req.Metadata.Language
		turn.Locale = req.Metadata.Locale
	}
	return turn
}

func toMessage(m wireMessage) engine.Message {
	return engine.Message{Sender: m.Sender, Text: m.Text, Timestamp: m.Timestamp.Time}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": msg})
}
