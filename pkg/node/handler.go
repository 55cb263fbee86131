package node

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/marmos91/moji/internal/logger"
)

// Handler serves a Store over HTTP.
type Handler struct {
	store *Store
}

// NewHandler creates an HTTP handler for store.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := h.serve(w, r)
	logger.Debug("node: %s %s -> %d (%s)", r.Method, r.URL.Path, status, time.Since(start))
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) int {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return h.get(w, r)
	case http.MethodPut:
		return h.put(w, r)
	case http.MethodDelete:
		return h.delete(w, r)
	default:
		w.Header().Set("Allow", "GET, HEAD, PUT, DELETE")
		return writeStatus(w, http.StatusMethodNotAllowed)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) int {
	f, size, err := h.store.Open(r.Context(), r.URL.Path)
	if err != nil {
		return writeError(w, err)
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return http.StatusOK
	}
	if _, err := io.Copy(w, f); err != nil {
		logger.Warn("node: GET %s: transfer interrupted: %v", r.URL.Path, err)
	}
	return http.StatusOK
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) int {
	n, err := h.store.Put(r.Context(), r.URL.Path, r.Body, r.ContentLength)
	if err != nil {
		logger.Warn("node: PUT %s: discarded after %d bytes: %v", r.URL.Path, n, err)
		return writeError(w, err)
	}
	return writeStatus(w, http.StatusCreated)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) int {
	if err := h.store.Delete(r.Context(), r.URL.Path); err != nil {
		return writeError(w, err)
	}
	return writeStatus(w, http.StatusNoContent)
}

func writeStatus(w http.ResponseWriter, status int) int {
	w.WriteHeader(status)
	return status
}

func writeError(w http.ResponseWriter, err error) int {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidPath):
		status = http.StatusBadRequest
	case errors.Is(err, ErrLengthMismatch):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
	return status
}
