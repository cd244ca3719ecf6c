package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"tutorhub/internal/app"
	"tutorhub/internal/util"
	"tutorhub/pkg/auth"
	"tutorhub/pkg/domain"
	"tutorhub/pkg/store"
)

const defaultMaxUploadBytes = 25 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App               *app.App
	Store             store.Store
	Sessions          store.SessionStore
	MaxUploadBytes    int64
	AllowedExtensions []string
	TrustedProxies    *util.TrustedProxies
}

// Server exposes the tutoring HTTP API.
type Server struct {
	app            *app.App
	store          store.Store
	sessions       store.SessionStore
	maxUploadBytes int64
	allowedExts    map[string]bool
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimSpace(ext))] = true
	}
	s := &Server{
		app:            cfg.App,
		store:          cfg.Store,
		sessions:       cfg.Sessions,
		maxUploadBytes: maxUpload,
		allowedExts:    allowed,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler. Request-id correlation runs outermost
// so the per-request log line can pick the id up from the context.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/v1/auth/login", s.handleLogin)
	s.mux.Handle("/api/v1/auth/logout", s.withUser(s.handleLogout))

	s.mux.Handle("/api/v1/ai-assistant/chat", s.withUser(s.handleChat))
	s.mux.Handle("/api/v1/ai-assistant/chat/stream", s.withUser(s.handleChatStream))
	s.mux.Handle("/api/v1/ai-assistant/conversations", s.withUser(s.handleConversations))
	s.mux.Handle("/api/v1/ai-assistant/conversations/", s.withUser(s.handleConversationByID))
	s.mux.Handle("/api/v1/ai-assistant/history", s.withUser(s.handleHistory))
	s.mux.Handle("/api/v1/documents", s.withUser(s.handleDocuments))
	s.mux.Handle("/api/v1/documents/", s.withUser(s.handleDocumentByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, ok, err := s.store.GetUserByEmail(strings.TrimSpace(req.Email))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if !ok || !user.Active || !auth.CheckPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.sessions.NewSession(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, token string, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.sessions.DeleteSession(token); err != nil {
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, ok, err := s.sessions.GetUserIDByToken(token)
		if err != nil || !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, ok, err := s.store.GetUserByID(userID)
		if err != nil || !ok || !user.Active {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, token, user)
	})
}

// chat

type chatRequest struct {
	Message                string   `json:"message"`
	ConversationID         string   `json:"conversationId"`
	CurrentModuleID        string   `json:"currentModuleId"`
	CurrentLessonID        string   `json:"currentLessonId"`
	CalendarEvents         []string `json:"calendarEvents"`
	Notes                  []string `json:"notes"`
	Assignments            []string `json:"assignments"`
	AdditionalInstructions string   `json:"additionalInstructions"`
}

func (r chatRequest) options() app.ContextOptions {
	return app.ContextOptions{
		CurrentModuleID:        r.CurrentModuleID,
		CurrentLessonID:        r.CurrentLessonID,
		CalendarEvents:         r.CalendarEvents,
		Notes:                  r.Notes,
		Assignments:            r.Assignments,
		AdditionalInstructions: r.AdditionalInstructions,
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, _ string, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	reply, err := s.app.SendMessage(r.Context(), user, req.ConversationID, req.Message,
		util.ClientIP(r, s.trustedProxies), req.options())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, _ string, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	s.app.SendMessageStream(r.Context(), user, req.ConversationID, req.Message,
		util.ClientIP(r, s.trustedProxies), req.options(), func(ev app.StreamEvent) {
			writeSSE(w, flusher, ev)
		})
}

// writeSSE emits one event in text/event-stream framing. Write errors after a
// client disconnect are ignored; the run finishes server-side regardless.
func writeSSE(w io.Writer, flusher http.Flusher, ev app.StreamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if _, err := io.WriteString(w, "event: "+ev.Type+"\ndata: "+string(payload)+"\n\n"); err != nil {
		return
	}
	flusher.Flush()
}

// conversations

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, _ string, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	summaries, total, err := s.app.ListConversations(user, limit, offset)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": summaries,
		"total":         total,
	})
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request, _ string, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/ai-assistant/conversations/")
	parts := strings.SplitN(rest, "/", 2)
	conversationID := parts[0]
	if conversationID == "" {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] == "history" && r.Method == http.MethodGet {
			s.handleConversationHistory(w, user, conversationID)
			return
		}
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		summary, err := s.app.GetConversation(user, conversationID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case http.MethodDelete:
		if err := s.app.DeleteConversation(user, conversationID); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPatch:
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.app.UpdateConversationTitle(user, conversationID, req.Title); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationHistory(w http.ResponseWriter, user domain.User, conversationID string) {
	history, err := s.app.ConversationHistory(user, conversationID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": conversationID,
		"messages":       history,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, _ string, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := s.app.RecentHistory(user, r.URL.Query().Get("conversationId"), limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": history})
}

// documents

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, _ string, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		var docs []domain.Document
		var err error
		if r.URL.Query().Get("scope") == "mine" {
			docs, err = s.app.ListUploadedDocuments(user)
		} else {
			docs, err = s.app.ListDocuments(user)
		}
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
	case http.MethodPost:
		s.handleDocumentUpload(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large or malformed")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if len(s.allowedExts) > 0 {
		ext := strings.ToLower(path.Ext(header.Filename))
		if !s.allowedExts[ext] {
			writeError(w, http.StatusBadRequest, "file type not allowed")
			return
		}
	}
	doc, err := s.app.UploadDocument(r.Context(), user, r.FormValue("title"), header.Filename,
		header.Size, header.Header.Get("Content-Type"), file)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, _ string, user domain.User) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/documents/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err := s.app.DeleteDocument(r.Context(), user, id); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// helpers

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrConversationNotFound), errors.Is(err, app.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrConversationForbidden), errors.Is(err, app.ErrDocumentForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrAssistantUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, app.ErrToolCallsUnsupported), errors.Is(err, app.ErrRunTimeout),
		errors.Is(err, app.ErrRunFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
