package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campusgate/verify-api/internal/application/verification"
	"github.com/campusgate/verify-api/internal/domain"
	"github.com/campusgate/verify-api/internal/pkg/validate"
)

// MaxUploadBytes caps uploaded enrollment documents at 10 MB.
const MaxUploadBytes = 10 << 20

var acceptedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

// VerifyHandler handles the public verification endpoints.
type VerifyHandler struct {
	svc verification.Service
}

func NewVerifyHandler(svc verification.Service) *VerifyHandler {
	return &VerifyHandler{svc: svc}
}

func (h *VerifyHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req domain.StartVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.StartEmailVerification(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Upload accepts a multipart document submission. File constraints (type,
// size) are enforced here, before extraction is ever invoked.
func (h *VerifyHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes+(1<<20)) // slack for the form fields
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form or file too large")
		return
	}

	req := domain.StartVerificationRequest{
		UniversityID: r.FormValue("university_id"),
		Email:        r.FormValue("email"),
		PhoneNumber:  r.FormValue("phone_number"),
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if header.Size > MaxUploadBytes {
		writeError(w, http.StatusBadRequest, "file exceeds the 10 MB limit")
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read uploaded file")
		return
	}
	if len(data) > MaxUploadBytes {
		writeError(w, http.StatusBadRequest, "file exceeds the 10 MB limit")
		return
	}
	// The declared Content-Type header is ignored entirely: only what the
	// bytes actually are counts. All three accepted formats carry a
	// sniffable signature, so a mislabeled non-document fails here instead
	// of limping into extraction.
	contentType := http.DetectContentType(data)
	if !acceptedContentTypes[contentType] {
		writeError(w, http.StatusBadRequest, "only PDF, JPEG, and PNG documents are accepted")
		return
	}

	res, err := h.svc.SubmitDocumentVerification(r.Context(), verification.SubmitInput{
		UniversityID: req.UniversityID,
		Email:        req.Email,
		PhoneNumber:  req.PhoneNumber,
		FileBytes:    data,
		Filename:     header.Filename,
		ContentType:  contentType,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *VerifyHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	res, err := h.svc.ConfirmEmailVerification(r.Context(), token)
	if err != nil {
		if errors.Is(err, domain.ErrExpired) {
			// Reported distinctly from not-found so the client can offer a resend.
			writeJSON(w, http.StatusGone, MessageEnvelope{Error: err.Error(), Message: "expired"})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *VerifyHandler) Status(w http.ResponseWriter, r *http.Request) {
	var req domain.StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.Status(r.Context(), req.Email, req.UniversityID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *VerifyHandler) Resend(w http.ResponseWriter, r *http.Request) {
	var req domain.ResendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.ResendVerificationEmail(r.Context(), req.Email, req.UniversityID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
