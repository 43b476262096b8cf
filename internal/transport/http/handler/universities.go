package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campusgate/verify-api/internal/domain"
)

// UniversityDirectory is the read-only lookup the handler needs.
type UniversityDirectory interface {
	Get(ctx context.Context, universityID string) (*domain.University, error)
	List(ctx context.Context) ([]domain.University, error)
}

// UniversityHandler serves the static university directory.
type UniversityHandler struct {
	directory UniversityDirectory
}

func NewUniversityHandler(directory UniversityDirectory) *UniversityHandler {
	return &UniversityHandler{directory: directory}
}

func (h *UniversityHandler) List(w http.ResponseWriter, r *http.Request) {
	universities, err := h.directory.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, universities)
}

func (h *UniversityHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.directory.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
