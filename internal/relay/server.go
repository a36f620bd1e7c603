package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/logger"
)

// putRequest is the body of PUT /v1/state/{account}.
type putRequest struct {
	LastModified     int64  `json:"lastModified"`
	BaseLastModified int64  `json:"baseLastModified"`
	State            []byte `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server is the relay's HTTP API.
type Server struct {
	store BlobStore
}

func NewServer(store BlobStore) *Server {
	return &Server{store: store}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(constants.SyncRequestTimeout))
	r.Use(loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Route(constants.RelayStatePath+"/{account}", func(r chi.Router) {
		r.Use(accountMiddleware)
		r.Get("/", s.handleGetState)
		r.Put("/", s.handlePutState)
	})
	return r
}

// ListenAndServe serves the relay on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Relay listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("Relay stopped")
		return nil
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("Relay request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func accountMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ValidAccount(chi.URLParam(r, "account")) {
			writeError(w, http.StatusBadRequest, ErrInvalidAccount.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	blob, err := s.store.Get(r.Context(), chi.URLParam(r, "account"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		logger.Error("Failed to read state", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read state")
		return
	}
	writeJSON(w, http.StatusOK, blob)
}

func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.RelayMaxBodyBytes)
	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "state too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.State) == 0 {
		writeError(w, http.StatusBadRequest, "state is required")
		return
	}

	blob := Blob{LastModified: req.LastModified, State: req.State}
	err := s.store.Put(r.Context(), chi.URLParam(r, "account"), blob, req.BaseLastModified)
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, conflict.Current)
	case err != nil:
		logger.Error("Failed to store state", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store state")
	default:
		writeJSON(w, http.StatusOK, Blob{LastModified: blob.LastModified})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
