package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"slateboard/core/internal/identity"
	"slateboard/core/internal/permission"
	"slateboard/core/internal/shape"
	"slateboard/core/internal/util"
)

type HTTPServer struct {
	service    *Service
	verifier   *identity.Verifier
	corsOrigin string
	log        *zap.Logger
}

func NewHTTPServer(service *Service, verifier *identity.Verifier, corsOrigin string, log *zap.Logger) *HTTPServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPServer{service: service, verifier: verifier, corsOrigin: corsOrigin, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	actor, err := s.actor(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid bearer token", nil)
		return
	}

	parts := splitPath(r.URL.Path)
	// All remaining routes live under /api/rooms/{id}/...
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "rooms" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
		return
	}
	roomID := parts[2]
	rest := parts[3:]

	switch {
	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "permission":
		s.handleGetPermission(w, r, roomID, actor)
	case r.Method == http.MethodPut && len(rest) == 1 && rest[0] == "permission":
		s.handlePutPermission(w, r, roomID, actor)
	case r.Method == http.MethodPost && len(rest) == 2 && rest[0] == "mutations" && rest[1] == "check":
		s.handleCheckMutations(w, r, roomID, actor)
	case r.Method == http.MethodPost && len(rest) == 2 && rest[0] == "items" && rest[1] == "remove":
		s.handleRemoveItems(w, r, roomID, actor)
	case r.Method == http.MethodPost && len(rest) == 2 && rest[0] == "items" && rest[1] == "update":
		s.handleUpdateItems(w, r, roomID, actor)
	case r.Method == http.MethodPost && len(rest) == 3 && rest[0] == "items" && rest[2] == "lock":
		s.handleLockItem(w, r, roomID, rest[1], actor, true)
	case r.Method == http.MethodPost && len(rest) == 3 && rest[0] == "items" && rest[2] == "unlock":
		s.handleLockItem(w, r, roomID, rest[1], actor, false)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
	}
}

func (s *HTTPServer) handleGetPermission(w http.ResponseWriter, r *http.Request, roomID string, actor identity.Actor) {
	effective := s.service.GetEffectivePermission(r.Context(), roomID, actor)
	writeJSON(w, http.StatusOK, effective)
}

type putPermissionInput struct {
	Level     string `json:"level"`
	Shared    *bool  `json:"shared,omitempty"`
	Published *bool  `json:"published,omitempty"`
}

func (s *HTTPServer) handlePutPermission(w http.ResponseWriter, r *http.Request, roomID string, actor identity.Actor) {
	var input putPermissionInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	change := permission.Change{
		Level:     permission.Normalize(input.Level),
		Shared:    input.Shared,
		Published: input.Published,
	}
	rec, err := s.service.ChangePermission(r.Context(), roomID, actor, change)
	if err != nil {
		domain := mapError(err)
		writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type checkMutationsInput struct {
	ItemIDs []string `json:"itemIds"`
}

func (s *HTTPServer) handleCheckMutations(w http.ResponseWriter, r *http.Request, roomID string, actor identity.Actor) {
	var input checkMutationsInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	decisions := make(map[string]any, len(input.ItemIDs))
	for _, itemID := range input.ItemIDs {
		decisions[itemID] = s.service.CanMutate(r.Context(), roomID, actor, itemID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}

type removeItemsInput struct {
	ItemIDs []string `json:"itemIds"`
}

func (s *HTTPServer) handleRemoveItems(w http.ResponseWriter, r *http.Request, roomID string, actor identity.Actor) {
	var input removeItemsInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	result, err := s.service.RemoveItems(r.Context(), roomID, actor, input.ItemIDs)
	if err != nil {
		domain := mapError(err)
		writeError(w, domain.Status, domain.Code, domain.Message, map[string]any{"skipped": result.Skipped})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type updateItemsInput struct {
	Patches []shape.ItemPatch `json:"patches"`
}

func (s *HTTPServer) handleUpdateItems(w http.ResponseWriter, r *http.Request, roomID string, actor identity.Actor) {
	var input updateItemsInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	result, err := s.service.UpdateItems(r.Context(), roomID, actor, input.Patches)
	if err != nil {
		domain := mapError(err)
		writeError(w, domain.Status, domain.Code, domain.Message, map[string]any{"skipped": result.Skipped})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleLockItem(w http.ResponseWriter, r *http.Request, roomID, itemID string, actor identity.Actor, lock bool) {
	var err error
	if lock {
		err = s.service.LockItem(r.Context(), roomID, actor, itemID)
	} else {
		err = s.service.UnlockItem(r.Context(), roomID, actor, itemID)
	}
	if err != nil {
		domain := mapError(err)
		writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// actor resolves the acting identity from the bearer token. A missing
// token is an anonymous viewer, not an error; a present-but-invalid
// token is rejected.
func (s *HTTPServer) actor(r *http.Request) (identity.Actor, error) {
	token := bearerToken(r)
	if token == "" {
		return identity.Actor{}, nil
	}
	return s.verifier.Verify(token)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, origin string) {
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
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
