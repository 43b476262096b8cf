package http

import (
	"context"
	"io"
	"time"

	"github.com/campusgate/verify-api/internal/domain"
)

// VerificationRepository is the minimal interface the router requires from the
// verification record store.
type VerificationRepository interface {
	Put(ctx context.Context, v *domain.VerificationRecord) error
	Get(ctx context.Context, verificationID string) (*domain.VerificationRecord, error)
	GetByEmailUniversity(ctx context.Context, email, universityID string) (*domain.VerificationRecord, error)
	GetByToken(ctx context.Context, token string) (*domain.VerificationRecord, error)
	ListByStatus(ctx context.Context, status domain.VerificationStatus) ([]domain.VerificationRecord, error)
	MarkVerified(ctx context.Context, verificationID string, verifiedAt time.Time) error
	MarkExpired(ctx context.Context, verificationID string) error
	Update(ctx context.Context, verificationID string, updates map[string]interface{}) error
	Delete(ctx context.Context, verificationID string) error
}

// PhoneSeatRepository guards the one-verified-identity-per-phone invariant at
// the storage boundary.
type PhoneSeatRepository interface {
	Claim(ctx context.Context, phoneNumber, emailUniversity, verificationID string) error
	Holder(ctx context.Context, phoneNumber string) (string, error)
}

// EmailSeatRepository guards the one-verified-record-per-(email, university)
// invariant at the storage boundary.
type EmailSeatRepository interface {
	Claim(ctx context.Context, emailUniversity, verificationID string) error
	Release(ctx context.Context, emailUniversity, verificationID string) error
}

// UniversityRepository is the read-only university directory.
type UniversityRepository interface {
	Get(ctx context.Context, universityID string) (*domain.University, error)
	List(ctx context.Context) ([]domain.University, error)
}

// ObjectStore is the minimal interface the router requires from an object storage backend.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
