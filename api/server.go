// Package api exposes the synchronous HTTP entry point: authenticated lead
// submission and chat pre-selection for conversations started outside Telegram.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	coreconfig "github.com/leadrelay/leadrelay/core/config"
	"github.com/leadrelay/leadrelay/core/logger"
	"github.com/leadrelay/leadrelay/lead"
	"log/slog"
)

// LeadDispatcher is the slice of the dispatch pipeline the server needs.
type LeadDispatcher interface {
	Dispatch(ctx context.Context, req lead.DispatchRequest) (lead.DispatchResult, error)
}

// Server is the HTTP entry point.
type Server struct {
	cfg        coreconfig.APIConfig
	dispatcher LeadDispatcher
	chats      lead.ChatDirectory
	sessions   lead.SessionStore
	botID      int64
	router     chi.Router
}

// NewServer wires routes and middleware. botID scopes pre-selected sessions
// to the bot that will pick the conversation up.
func NewServer(cfg coreconfig.APIConfig, dispatcher LeadDispatcher, chats lead.ChatDirectory, sessions lead.SessionStore, botID int64) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		chats:      chats,
		sessions:   sessions,
		botID:      botID,
	}

	r := chi.NewRouter()
	r.Use(s.requestLog)
	r.Get("/healthz", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Post("/v1/leads", s.handleSendLead)
		r.Post("/v1/chats/select", s.handleSelectChat)
	})
	s.router = r
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Listen, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "api", "api.listen", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := uuid.NewString()
		ctx := logger.WithRID(r.Context(), rid)
		started := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		logger.Info(ctx, "api", "api.request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int64("took_ms", time.Since(started).Milliseconds()),
		)
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.ServiceToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sendLeadRequest struct {
	TargetChatID    string   `json:"target_chat_id"`
	RequesterUserID int64    `json:"requester_user_id"`
	Phone           string   `json:"phone"`
	Name            string   `json:"name"`
	Comment         string   `json:"comment"`
	SourceLabel     string   `json:"source_label"`
	AttachmentKeys  []string `json:"attachment_keys"`
}

type sendLeadResponse struct {
	MessageIDs []string `json:"message_ids"`
	Warning    string   `json:"warning,omitempty"`
}

func (s *Server) handleSendLead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sendLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.TargetChatID) == "" {
		writeError(w, http.StatusBadRequest, "target_chat_id is required")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	phone, err := lead.NormalizePhone(req.Phone)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	target, err := s.chats.Get(ctx, req.TargetChatID)
	if errors.Is(err, lead.ErrChatNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("chat %s is not connected", req.TargetChatID))
		return
	}
	if err != nil {
		logger.Error(ctx, "api", "api.chat_lookup_failed", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, "chat lookup failed")
		return
	}

	logger.Info(ctx, "api", "api.lead_received",
		slog.Int64("requester_user_id", req.RequesterUserID),
		slog.String("chat_id", target.ID),
		slog.Int("attachment_keys", len(req.AttachmentKeys)),
	)

	result, err := s.dispatcher.Dispatch(ctx, lead.DispatchRequest{
		Targets:        []lead.ChatRef{target},
		Phone:          phone,
		Name:           req.Name,
		Comment:        req.Comment,
		SourceLabel:    req.SourceLabel,
		AttachmentKeys: req.AttachmentKeys,
	})
	if err != nil {
		if len(result.MessageIDs) > 0 {
			// Delivered; only post-delivery cleanup failed.
			logger.Warn(ctx, "api", "api.lead_cleanup_failed", slog.String("err", err.Error()))
			writeJSON(w, http.StatusOK, sendLeadResponse{
				MessageIDs: result.MessageIDs,
				Warning:    "delivered, attachment cleanup incomplete",
			})
			return
		}
		logger.Error(ctx, "api", "api.lead_failed", slog.String("err", err.Error()))
		writeError(w, http.StatusBadGateway, "lead delivery failed")
		return
	}

	writeJSON(w, http.StatusOK, sendLeadResponse{MessageIDs: result.MessageIDs})
}

type selectChatRequest struct {
	UserID int64  `json:"user_id"`
	ChatID string `json:"chat_id"`
}

// handleSelectChat binds an upcoming bot conversation to a destination chat,
// so the user lands directly on the phone step.
func (s *Server) handleSelectChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req selectChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	chat, err := s.chats.Get(ctx, req.ChatID)
	if errors.Is(err, lead.ErrChatNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("chat %s is not connected", req.ChatID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "chat lookup failed")
		return
	}

	key := lead.SessionKey{BotID: s.botID, UserID: req.UserID}
	_, err = s.sessions.Update(ctx, key, func(sess *lead.Session) error {
		*sess = lead.Session{State: lead.StateAwaitingPhone, Draft: lead.Draft{Chat: &chat}}
		return nil
	})
	if err != nil {
		logger.Error(ctx, "api", "api.select_chat_failed", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, "session update failed")
		return
	}

	logger.Info(ctx, "api", "api.chat_selected",
		slog.Int64("user_id", req.UserID),
		slog.String("chat_id", chat.ID),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
