package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskhub/api/internal/auth"
	"taskhub/api/internal/realtime"
)

type HTTPServer struct {
	service    *Service
	gateway    *Gateway
	registry   *realtime.Registry
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, gateway *Gateway, corsOrigin string, log zerolog.Logger) *HTTPServer {
	server := &HTTPServer{
		service:    service,
		gateway:    gateway,
		corsOrigin: corsOrigin,
		log:        log.With().Str("component", "http").Logger(),
	}
	if gateway != nil {
		server.registry = gateway.router.Registry()
	}
	return server
}

// Handler serves the REST routes behind the JSON middleware. The socket
// endpoint bypasses it because the upgrade needs the raw ResponseWriter.
func (s *HTTPServer) Handler() http.Handler {
	api := s.withMiddleware(http.HandlerFunc(s.handle))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/ws" && r.Method == http.MethodGet && s.gateway != nil {
			s.gateway.ServeHTTP(w, r)
			return
		}
		api.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		err := s.service.Logout(r.Context(), token)
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "comments":
		s.handleComments(w, r, actor, parts[2:])
	case "notifications":
		s.handleNotifications(w, r, actor, parts[2:])
	case "chat":
		s.handleChat(w, r, actor, parts[2:])
	case "tasks":
		s.handleTasks(w, r, actor, parts[2:])
	case "teams":
		s.handleTeams(w, r, actor, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	if s.registry != nil {
		checks["realtime"] = map[string]any{
			"connections": s.registry.Count(),
			"rooms":       s.registry.RoomCount(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// /api/comments, /api/comments/task/{taskId}, /api/comments/{id}
func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, actor Actor, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body CreateCommentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateComment(r.Context(), actor, body)
		s.respond(w, http.StatusCreated, payload, err)
	case len(rest) == 2 && rest[0] == "task" && r.Method == http.MethodGet:
		threads, err := s.service.ListThreaded(r.Context(), actor, rest[1])
		s.respond(w, http.StatusOK, threads, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		payload, err := s.service.DeleteComment(r.Context(), actor, rest[0])
		s.respond(w, http.StatusOK, payload, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// /api/notifications, /api/notifications/unread-count,
// /api/notifications/{id}/read, /api/notifications/{id}
func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, actor Actor, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body CreateNotificationInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateNotification(r.Context(), actor, body)
		s.respond(w, http.StatusCreated, payload, err)
	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListNotifications(r.Context(), actor, r.URL.Query().Get("userId"))
		s.respond(w, http.StatusOK, items, err)
	case len(rest) == 1 && rest[0] == "unread-count" && r.Method == http.MethodGet:
		count, err := s.service.UnreadNotificationCount(r.Context(), actor, r.URL.Query().Get("userId"))
		s.respond(w, http.StatusOK, map[string]any{"count": count}, err)
	case len(rest) == 2 && rest[1] == "read" && r.Method == http.MethodPatch:
		payload, err := s.service.MarkNotificationRead(r.Context(), actor, rest[0])
		s.respond(w, http.StatusOK, payload, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		err := s.service.DeleteNotification(r.Context(), actor, rest[0])
		s.respond(w, http.StatusOK, map[string]any{"message": "Notification deleted"}, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// /api/chat/send, /api/chat/team, /api/chat/{id}
func (s *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request, actor Actor, rest []string) {
	switch {
	case len(rest) == 1 && rest[0] == "send" && r.Method == http.MethodPost:
		var body SendMessageInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SendMessage(r.Context(), actor, body)
		s.respond(w, http.StatusCreated, payload, err)
	case len(rest) == 1 && rest[0] == "team" && r.Method == http.MethodGet:
		items, err := s.service.ListMessages(r.Context(), actor)
		s.respond(w, http.StatusOK, items, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		err := s.service.DeleteMessage(r.Context(), actor, rest[0])
		s.respond(w, http.StatusOK, map[string]any{"message": "Message deleted successfully"}, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// /api/tasks/{id}/status, /api/tasks/{id}/announce
func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, actor Actor, rest []string) {
	switch {
	case len(rest) == 2 && rest[1] == "status" && (r.Method == http.MethodPatch || r.Method == http.MethodPut):
		var body TransitionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.RequestTransition(r.Context(), actor, rest[0], body)
		s.respond(w, http.StatusOK, payload, err)
	case len(rest) == 2 && rest[1] == "announce" && r.Method == http.MethodPost:
		payload, err := s.service.AnnounceTask(r.Context(), actor, rest[0])
		s.respond(w, http.StatusOK, payload, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleTeams(w http.ResponseWriter, r *http.Request, actor Actor, rest []string) {
	switch {
	case len(rest) == 3 && rest[0] == "members" && rest[2] == "announce" && r.Method == http.MethodPost:
		payload, err := s.service.AnnounceInvitation(r.Context(), actor, rest[1])
		s.respond(w, http.StatusCreated, payload, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		code, errCode, message, details := mapError(err)
		if code >= http.StatusInternalServerError {
			s.log.Error().Err(err).Msg("request failed")
		}
		writeError(w, code, errCode, message, details)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) requireActor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Actor{}, false
	}
	actor, err := s.service.Authenticate(r.Context(), token)
	if err != nil {
		if isAuthError(err) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Actor{}, false
		}
		s.log.Error().Err(err).Msg("authenticate request")
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Actor{}, false
	}
	return actor, true
}

func isAuthError(err error) bool {
	return errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrRevokedToken)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if isAuthError(err) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
