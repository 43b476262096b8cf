package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/campusgate/verify-api/internal/application/verification"
	jwtinfra "github.com/campusgate/verify-api/internal/infrastructure/jwt"
	"github.com/campusgate/verify-api/internal/pkg/validate"
)

// AdminHandler handles the manual-review endpoints.
type AdminHandler struct {
	svc          verification.Service
	jwtProvider  *jwtinfra.Provider
	username     string
	passwordHash string
}

func NewAdminHandler(svc verification.Service, jwtProvider *jwtinfra.Provider, username, passwordHash string) *AdminHandler {
	return &AdminHandler{svc: svc, jwtProvider: jwtProvider, username: username, passwordHash: passwordHash}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Bearer string `json:"Bearer"`
}

func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username != h.username ||
		bcrypt.CompareHashAndPassword([]byte(h.passwordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	bearer, err := h.jwtProvider.Sign(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Bearer: bearer})
}

func (h *AdminHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListPendingReviews(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.AdminApproveManualReview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
