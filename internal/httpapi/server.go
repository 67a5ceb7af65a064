// Package httpapi exposes the gateway over a JSON HTTP surface. Org identity
// arrives in the X-Org-ID header; authentication itself lives upstream.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/gateway"
)

const (
	orgHeader  = "X-Org-ID"
	userHeader = "X-User-ID"
)

type Options struct {
	AllowedOrigins []string
}

type Server struct {
	service *gateway.Service
	opts    Options
	logger  *zap.Logger
}

func NewServer(service *gateway.Service, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		service: service,
		opts:    opts,
		logger:  logger.Named("httpapi"),
	}
}

// Handler builds the routed and CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/templates", s.handleListTemplates)
	mux.HandleFunc("POST /v1/connections", s.handleCreate)
	mux.HandleFunc("GET /v1/connections", s.handleList)
	mux.HandleFunc("GET /v1/connections/{id}", s.handleGet)
	mux.HandleFunc("PATCH /v1/connections/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /v1/connections/{id}", s.handleDelete)
	mux.HandleFunc("POST /v1/connections/{id}/test", s.handleTest)
	mux.HandleFunc("POST /v1/connections/{id}/tools/refresh", s.handleRefresh)

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", orgHeader, userHeader},
	})
	return c.Handler(mux)
}

// Run serves the API until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("api server failed to start: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown: %w", err)
		}
		return nil
	}
}

type createRequest struct {
	TemplateID  string            `json:"templateId"`
	ServerURL   string            `json:"serverUrl"`
	AuthType    string            `json:"authType"`
	Credentials map[string]any    `json:"credentials"`
	Config      map[string]string `json:"config"`
}

type patchRequest struct {
	ServerURL   *string           `json:"serverUrl"`
	AuthType    *string           `json:"authType"`
	Credentials map[string]any    `json:"credentials"`
	Config      map[string]string `json:"config"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": s.service.Templates()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgID(w, r)
	if !ok {
		return
	}
	var req createRequest
	if !s.decode(w, r, &req) {
		return
	}

	conn, err := s.service.CreateConnection(r.Context(), gateway.CreateParams{
		OrgID:       orgID,
		UserID:      strings.TrimSpace(r.Header.Get(userHeader)),
		TemplateID:  req.TemplateID,
		ServerURL:   req.ServerURL,
		AuthKind:    domain.AuthKind(req.AuthType),
		Credentials: req.Credentials,
		Config:      req.Config,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgID(w, r)
	if !ok {
		return
	}
	conns, err := s.service.ListConnections(r.Context(), orgID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if conns == nil {
		conns = []*domain.Connection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgID(w, r)
	if !ok {
		return
	}
	conn, err := s.service.GetConnection(r.Context(), r.PathValue("id"), orgID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgID(w, r)
	if !ok {
		return
	}
	var req patchRequest
	if !s.decode(w, r, &req) {
		return
	}

	patch := gateway.Patch{
		ServerURL:   req.ServerURL,
		Credentials: req.Credentials,
		Config:      req.Config,
	}
	if req.AuthType != nil {
		kind := domain.AuthKind(*req.AuthType)
		patch.AuthKind = &kind
	}

	conn, err := s.service.UpdateConnection(r.Context(), r.PathValue("id"), orgID, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteConnection(r.Context(), r.PathValue("id"), orgID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgID(w, r)
	if !ok {
		return
	}
	result, err := s.service.TestConnection(r.Context(), r.PathValue("id"), orgID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgID(w, r)
	if !ok {
		return
	}
	tools, err := s.service.RefreshTools(r.Context(), r.PathValue("id"), orgID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (s *Server) orgID(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID := strings.TrimSpace(r.Header.Get(orgHeader))
	if orgID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
			Code:    string(domain.CodeInvalidArgument),
			Message: orgHeader + " header is required",
		}})
		return "", false
	}
	return orgID, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
			Code:    string(domain.CodeInvalidArgument),
			Message: "malformed request body",
		}})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, ok := domain.CodeFrom(err)
	if !ok {
		code = domain.CodeInternal
	}

	message := err.Error()
	if code == domain.CodeInternal {
		// Persistence and other unexpected failures stay generic.
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		message = "internal error"
	}

	writeJSON(w, statusFor(code), errorResponse{Error: errorBody{
		Code:    string(code),
		Message: message,
	}})
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeAlreadyExists:
		return http.StatusConflict
	case domain.CodeFailedPrecond:
		return http.StatusBadGateway
	case domain.CodeUnavailable:
		return http.StatusServiceUnavailable
	case domain.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
