package verification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/campusgate/verify-api/internal/application/notifier"
	"github.com/campusgate/verify-api/internal/classify"
	"github.com/campusgate/verify-api/internal/domain"
	"github.com/campusgate/verify-api/internal/extract"
	"github.com/campusgate/verify-api/internal/pkg/id"
	pkgphone "github.com/campusgate/verify-api/internal/pkg/phone"
	pkgtoken "github.com/campusgate/verify-api/internal/pkg/token"
)

const (
	// tokenTTL is how long a verification token stays valid.
	tokenTTL = 24 * time.Hour

	// resendCooldown is measured from the record's creation time, not the
	// last resend: a caller who waits out the first window can resend
	// without further throttling.
	resendCooldown = 2 * time.Minute
)

// Result status strings returned across the JSON boundary.
const (
	ResultStarted         = "started"
	ResultAlreadyVerified = "already_verified"
	ResultVerified        = "verified"
	ResultNotStarted      = "not_started"
)

type StartResult struct {
	Status         string `json:"status"`
	VerificationID string `json:"verification_id,omitempty"`
	ExpiresAt      int64  `json:"expires_at,omitempty"`
}

type ConfirmResult struct {
	Status string                     `json:"status"`
	Record *domain.VerificationRecord `json:"record,omitempty"`
}

type SubmitInput struct {
	UniversityID string
	Email        string
	PhoneNumber  string
	FileBytes    []byte
	Filename     string
	ContentType  string
}

type SubmitResult struct {
	Decision        domain.Decision              `json:"decision"`
	Reason          string                       `json:"reason"`
	Classification  *domain.ClassificationResult `json:"classification,omitempty"`
	VerificationID  string                       `json:"verification_id,omitempty"`
	AlreadyVerified bool                         `json:"already_verified,omitempty"`
}

type StatusResult struct {
	Status string                     `json:"status"`
	Record *domain.VerificationRecord `json:"record,omitempty"`
}

type Service interface {
	StartEmailVerification(ctx context.Context, req domain.StartVerificationRequest) (*StartResult, error)
	ConfirmEmailVerification(ctx context.Context, token string) (*ConfirmResult, error)
	SubmitDocumentVerification(ctx context.Context, in SubmitInput) (*SubmitResult, error)
	ResendVerificationEmail(ctx context.Context, email, universityID string) (*StartResult, error)
	Status(ctx context.Context, email, universityID string) (*StatusResult, error)
	ListPendingReviews(ctx context.Context) ([]domain.VerificationRecord, error)
	AdminApproveManualReview(ctx context.Context, verificationID string) (*domain.VerificationRecord, error)
}

type recordStore interface {
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

type phoneSeatStore interface {
	Claim(ctx context.Context, phoneNumber, emailUniversity, verificationID string) error
	Holder(ctx context.Context, phoneNumber string) (string, error)
}

type emailSeatStore interface {
	Claim(ctx context.Context, emailUniversity, verificationID string) error
	Release(ctx context.Context, emailUniversity, verificationID string) error
}

type universityStore interface {
	Get(ctx context.Context, universityID string) (*domain.University, error)
}

type textExtractor interface {
	Extract(ctx context.Context, data []byte) (extract.Result, error)
}

type objectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
}

type service struct {
	records      recordStore
	phoneSeats   phoneSeatStore
	emailSeats   emailSeatStore
	universities universityStore
	extractor    textExtractor
	objects      objectStore
	notifier     notifier.Service
}

type ServiceDeps struct {
	RecordRepo     recordStore
	PhoneSeatRepo  phoneSeatStore
	EmailSeatRepo  emailSeatStore
	UniversityRepo universityStore
	Extractor      textExtractor
	ObjectStore    objectStore
	Notifier       notifier.Service
}

func NewService(deps ServiceDeps) Service {
	return &service{
		records:      deps.RecordRepo,
		phoneSeats:   deps.PhoneSeatRepo,
		emailSeats:   deps.EmailSeatRepo,
		universities: deps.UniversityRepo,
		extractor:    deps.Extractor,
		objects:      deps.ObjectStore,
		notifier:     deps.Notifier,
	}
}

func (s *service) StartEmailVerification(ctx context.Context, req domain.StartVerificationRequest) (*StartResult, error) {
	email := normalizeEmail(req.Email)

	uni, err := s.universities.Get(ctx, req.UniversityID)
	if err != nil {
		return nil, err
	}
	phoneNumber, err := pkgphone.Normalize(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(email, "@"+strings.ToLower(uni.EmailDomain)) {
		return nil, fmt.Errorf("email domain must be %s: %w", uni.EmailDomain, domain.ErrBadRequest)
	}

	existing, already, err := s.checkBinding(ctx, email, uni.UniversityID, phoneNumber)
	if err != nil {
		return nil, err
	}
	if already != nil {
		return &StartResult{Status: ResultAlreadyVerified, VerificationID: already.VerificationID}, nil
	}
	// A stale pending, rejected, or expired record blocks the key; a fresh
	// submission replaces it.
	if existing != nil {
		if err := s.records.Delete(ctx, existing.VerificationID); err != nil {
			return nil, err
		}
	}

	tok, err := pkgtoken.NewVerificationToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rec := &domain.VerificationRecord{
		VerificationID: id.New(),
		UniversityID:   uni.UniversityID,
		Email:          email,
		PhoneNumber:    phoneNumber,
		Method:         domain.MethodEmailLink,
		Status:         domain.StatusPending,
		Token:          tok,
		CreatedAt:      now,
		ExpiresAt:      now.Add(tokenTTL).Unix(),
	}
	if err := s.records.Put(ctx, rec); err != nil {
		return nil, err
	}

	s.notifier.SendVerificationLink(ctx, email, uni, tok)

	return &StartResult{
		Status:         ResultStarted,
		VerificationID: rec.VerificationID,
		ExpiresAt:      rec.ExpiresAt,
	}, nil
}

func (s *service) ConfirmEmailVerification(ctx context.Context, tok string) (*ConfirmResult, error) {
	rec, err := s.records.GetByToken(ctx, tok)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case domain.StatusVerified:
		// Confirming an already-confirmed token is idempotent success.
		return &ConfirmResult{Status: ResultAlreadyVerified, Record: rec}, nil
	case domain.StatusExpired:
		return nil, fmt.Errorf("verification link expired: %w", domain.ErrExpired)
	case domain.StatusRejected:
		return nil, fmt.Errorf("verification was rejected: %w", domain.ErrConflict)
	}

	now := time.Now().UTC()
	if rec.TokenExpired(now) {
		if err := s.records.MarkExpired(ctx, rec.VerificationID); err != nil {
			slog.Warn("failed to expire verification record", "id", rec.VerificationID, "err", err)
		}
		return nil, fmt.Errorf("verification link expired: %w", domain.ErrExpired)
	}

	// The seat claims are the real uniqueness guards: under concurrent
	// confirmations only one record per key and per phone reaches verified.
	if err := s.claimSeats(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.records.MarkVerified(ctx, rec.VerificationID, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost the race to a concurrent confirmation of the same record.
			fresh, gerr := s.records.Get(ctx, rec.VerificationID)
			if gerr == nil && fresh.Status == domain.StatusVerified {
				return &ConfirmResult{Status: ResultAlreadyVerified, Record: fresh}, nil
			}
		}
		return nil, err
	}
	rec.Status = domain.StatusVerified
	rec.VerifiedAt = &now
	return &ConfirmResult{Status: ResultVerified, Record: rec}, nil
}

func (s *service) SubmitDocumentVerification(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	email := normalizeEmail(in.Email)

	uni, err := s.universities.Get(ctx, in.UniversityID)
	if err != nil {
		return nil, err
	}
	phoneNumber, err := pkgphone.Normalize(in.PhoneNumber)
	if err != nil {
		return nil, err
	}
	// No email-domain check here: the document path exists for students
	// whose institutional mailbox is not provisioned yet.

	existing, already, err := s.checkBinding(ctx, email, uni.UniversityID, phoneNumber)
	if err != nil {
		return nil, err
	}
	if already != nil {
		return &SubmitResult{
			Decision:        domain.DecisionApproved,
			Reason:          "enrollment already verified",
			VerificationID:  already.VerificationID,
			AlreadyVerified: true,
		}, nil
	}
	if existing != nil {
		if err := s.records.Delete(ctx, existing.VerificationID); err != nil {
			return nil, err
		}
	}

	recID := id.New()
	key := fmt.Sprintf("documents/%s/%s/%s", uni.UniversityID, recID, sanitizeFilename(in.Filename))
	// Without a stored original there is nothing to re-review, so a storage
	// failure is a hard failure for the submission.
	fileRef, err := s.objects.Upload(ctx, key, bytes.NewReader(in.FileBytes), in.ContentType)
	if err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	var (
		text     string
		procErr  string
		excerpt  string
		cls      *domain.ClassificationResult
		decision domain.DecisionResult
	)
	res, err := s.extractor.Extract(ctx, in.FileBytes)
	if err != nil {
		// Automatic processing is a convenience, not a correctness
		// requirement: extraction failures downgrade to manual review with
		// the underlying error retained on the record.
		var exErr *extract.ExtractionError
		if !errors.As(err, &exErr) {
			slog.Error("unexpected extraction failure", "id", recID, "err", err)
		}
		procErr = err.Error()
		decision = domain.DecisionResult{
			Decision:      domain.DecisionManualReview,
			Reason:        procErr,
			AutoProcessed: false,
		}
	} else {
		text = res.Text
		excerpt = classify.Excerpt(text)
		nonWS := extract.NonWhitespaceLen(text)
		if nonWS >= extract.MinTextChars {
			c := classify.Classify(text)
			cls = &c
		}
		var c domain.ClassificationResult
		if cls != nil {
			c = *cls
		}
		decision = classify.Decide(nonWS, c)
	}

	status := classify.StatusFor(decision.Decision)
	now := time.Now().UTC()
	rec := &domain.VerificationRecord{
		VerificationID:    recID,
		UniversityID:      uni.UniversityID,
		Email:             email,
		PhoneNumber:       phoneNumber,
		Method:            domain.MethodAdmitLetter,
		Status:            status,
		StoredFileRef:     fileRef,
		OriginalFilename:  in.Filename,
		ExtractedExcerpt:  excerpt,
		Classification:    cls,
		DecisionReason:    decision.Reason,
		ProcessingError:   procErr,
		AutoProcessed:     decision.AutoProcessed,
		NeedsManualReview: decision.Decision == domain.DecisionManualReview,
		CreatedAt:         now,
		ExpiresAt:         now.Add(tokenTTL).Unix(),
	}
	if status == domain.StatusVerified {
		if err := s.claimSeats(ctx, rec); err != nil {
			return nil, err
		}
		rec.VerifiedAt = &now
	}
	if err := s.records.Put(ctx, rec); err != nil {
		return nil, err
	}

	if status == domain.StatusVerified {
		s.notifier.SendApproval(ctx, email, uni.Name, phoneNumber)
	}

	return &SubmitResult{
		Decision:       decision.Decision,
		Reason:         decision.Reason,
		Classification: cls,
		VerificationID: recID,
	}, nil
}

func (s *service) ResendVerificationEmail(ctx context.Context, email, universityID string) (*StartResult, error) {
	email = normalizeEmail(email)
	rec, err := s.records.GetByEmailUniversity(ctx, email, universityID)
	if err != nil {
		return nil, err
	}
	if rec.Method != domain.MethodEmailLink {
		return nil, fmt.Errorf("verification was not started by email: %w", domain.ErrBadRequest)
	}
	if rec.Status != domain.StatusPending {
		return nil, fmt.Errorf("verification is not pending: %w", domain.ErrConflict)
	}
	if time.Since(rec.CreatedAt) < resendCooldown {
		return nil, fmt.Errorf("wait at least 2 minutes before requesting another email: %w", domain.ErrTooSoon)
	}

	uni, err := s.universities.Get(ctx, rec.UniversityID)
	if err != nil {
		return nil, err
	}
	tok, err := pkgtoken.NewVerificationToken()
	if err != nil {
		return nil, err
	}
	// A new token invalidates the old one and resets the expiry window.
	expiresAt := time.Now().UTC().Add(tokenTTL).Unix()
	if err := s.records.Update(ctx, rec.VerificationID, map[string]interface{}{
		"verification_token": tok,
		"expires_at":         expiresAt,
	}); err != nil {
		return nil, err
	}

	s.notifier.SendVerificationLink(ctx, email, uni, tok)

	return &StartResult{
		Status:         ResultStarted,
		VerificationID: rec.VerificationID,
		ExpiresAt:      expiresAt,
	}, nil
}

func (s *service) Status(ctx context.Context, email, universityID string) (*StatusResult, error) {
	email = normalizeEmail(email)
	rec, err := s.records.GetByEmailUniversity(ctx, email, universityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &StatusResult{Status: ResultNotStarted}, nil
		}
		return nil, err
	}
	status := rec.Status
	// A pending record past its expiry reads as expired; the actual
	// transition happens on the next access attempt.
	if status == domain.StatusPending && rec.Method == domain.MethodEmailLink && rec.TokenExpired(time.Now().UTC()) {
		status = domain.StatusExpired
	}
	return &StatusResult{Status: string(status), Record: rec}, nil
}

func (s *service) ListPendingReviews(ctx context.Context) ([]domain.VerificationRecord, error) {
	records, err := s.records.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		return nil, err
	}
	reviews := records[:0]
	for _, r := range records {
		if r.NeedsManualReview {
			reviews = append(reviews, r)
		}
	}
	return reviews, nil
}

func (s *service) AdminApproveManualReview(ctx context.Context, verificationID string) (*domain.VerificationRecord, error) {
	rec, err := s.records.Get(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	if rec.Status != domain.StatusPending || !rec.NeedsManualReview {
		return nil, fmt.Errorf("verification is not awaiting manual review: %w", domain.ErrConflict)
	}

	now := time.Now().UTC()
	if err := s.claimSeats(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.records.MarkVerified(ctx, rec.VerificationID, now); err != nil {
		return nil, err
	}
	rec.Status = domain.StatusVerified
	rec.VerifiedAt = &now

	uni, err := s.universities.Get(ctx, rec.UniversityID)
	if err != nil {
		slog.Warn("approval notification skipped, university lookup failed", "id", rec.UniversityID, "err", err)
		return rec, nil
	}
	s.notifier.SendApproval(ctx, rec.Email, uni.Name, rec.PhoneNumber)
	return rec, nil
}

// claimSeats takes both uniqueness seats for a record about to turn verified.
// The key seat is what makes one-verified-record-per-(email, university) hold
// at the storage boundary: concurrent duplicate submissions can both pass the
// pre-checks and write pending records, but only one of them can take this
// seat. The phone seat does the same for the global one-phone rule. Both
// conditions re-admit only the exact holding record, keeping retried
// confirmations idempotent. When the phone claim loses, the key seat is rolled
// back so a later attempt with a fresh phone is not locked out.
func (s *service) claimSeats(ctx context.Context, rec *domain.VerificationRecord) error {
	key := domain.EmailUniversityKey(rec.Email, rec.UniversityID)
	if err := s.emailSeats.Claim(ctx, key, rec.VerificationID); err != nil {
		return err
	}
	if err := s.phoneSeats.Claim(ctx, rec.PhoneNumber, key, rec.VerificationID); err != nil {
		if rerr := s.emailSeats.Release(ctx, key, rec.VerificationID); rerr != nil {
			slog.Warn("failed to roll back email seat", "id", rec.VerificationID, "err", rerr)
		}
		return err
	}
	return nil
}

// checkBinding enforces the identity-binding invariants before a new attempt:
// a verified (email, university) pair is permanently bound to its phone
// number, and a phone number is a one-time seat across all identities.
// Returns the existing non-verified record for the key (if any) so the caller
// can replace it, or the verified record when the same phone re-enters.
func (s *service) checkBinding(ctx context.Context, email, universityID, phoneNumber string) (existing, already *domain.VerificationRecord, err error) {
	rec, err := s.records.GetByEmailUniversity(ctx, email, universityID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}
	if rec != nil {
		if rec.Status == domain.StatusVerified {
			if rec.PhoneNumber == phoneNumber {
				return nil, rec, nil
			}
			return nil, nil, fmt.Errorf("email already verified with a different phone number: %w", domain.ErrConflict)
		}
		existing = rec
	}

	holder, err := s.phoneSeats.Holder(ctx, phoneNumber)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}
	if err == nil && holder != domain.EmailUniversityKey(email, universityID) {
		return nil, nil, fmt.Errorf("phone number already used for verification: %w", domain.ErrConflict)
	}
	return existing, nil, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// sanitizeFilename strips directory components and keeps only safe characters
// (alphanumeric, dot, dash, underscore) to prevent path traversal in S3 keys.
func sanitizeFilename(name string) string {
	name = path.Base(name)
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if result := b.String(); result != "" && result != "." {
		return result
	}
	return "_"
}
