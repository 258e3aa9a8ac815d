package settings

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"hisens-cloud/internal/auth"
)

// Store loads and updates settings.
type Store interface {
	Load(ctx context.Context) (Settings, error)
	Update(ctx context.Context, next Settings, actor string) error
}

// Handler serves GET and PUT /api/configuracion.
type Handler struct {
	store Store
}

// NewHandler constructs a settings handler.
func NewHandler(store Store) (*Handler, error) {
	if store == nil {
		return nil, errors.New("settings handler: nil store")
	}
	return &Handler{store: store}, nil
}

// ServeHTTP handles /api/configuracion.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodPut:
		h.handlePut(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	current, err := h.store.Load(r.Context())
	if err != nil {
		http.Error(w, "load error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, current)
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	current, err := h.store.Load(r.Context())
	if err != nil {
		http.Error(w, "load error", http.StatusInternalServerError)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// Keys absent from the body keep their current value.
	next := current
	if err := json.Unmarshal(body, &next); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.store.Update(r.Context(), next, auth.SubjectFromContext(r.Context())); err != nil {
		if errors.Is(err, ErrInvalid) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "update error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, next)
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}
