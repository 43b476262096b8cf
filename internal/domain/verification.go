package domain

import "time"

// VerificationMethod is how the user chose to prove enrollment.
type VerificationMethod string

const (
	MethodEmailLink   VerificationMethod = "email_link"
	MethodAdmitLetter VerificationMethod = "admit_letter"
)

// VerificationStatus is the lifecycle state of one verification attempt.
// pending -> {verified, rejected, expired}; rejected and expired records are
// deleted by a fresh submission for the same (email, university) key.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusRejected VerificationStatus = "rejected"
	StatusExpired  VerificationStatus = "expired"
)

// VerificationRecord is one verification attempt for an (email, university) pair.
// EmailUniversity is the composite GSI key "email#university_id".
type VerificationRecord struct {
	VerificationID  string             `json:"id" dynamodbav:"verification_id"`
	UniversityID    string             `json:"university_id" dynamodbav:"university_id"`
	Email           string             `json:"email" dynamodbav:"email"`
	EmailUniversity string             `json:"-" dynamodbav:"email_university"`
	PhoneNumber     string             `json:"phone_number" dynamodbav:"phone_number"`
	Method          VerificationMethod `json:"verification_method" dynamodbav:"verification_method"`
	Status          VerificationStatus `json:"status" dynamodbav:"status"`
	Token           string             `json:"-" dynamodbav:"verification_token"`

	// Document artifacts, set only when Method == MethodAdmitLetter.
	StoredFileRef     string                `json:"stored_file_ref,omitempty" dynamodbav:"stored_file_ref"`
	OriginalFilename  string                `json:"original_filename,omitempty" dynamodbav:"original_filename"`
	ExtractedExcerpt  string                `json:"extracted_text_excerpt,omitempty" dynamodbav:"extracted_text_excerpt"`
	Classification    *ClassificationResult `json:"classification,omitempty" dynamodbav:"classification"`
	DecisionReason    string                `json:"decision_reason,omitempty" dynamodbav:"decision_reason"`
	ProcessingError   string                `json:"processing_error,omitempty" dynamodbav:"processing_error"`
	AutoProcessed     bool                  `json:"auto_processed" dynamodbav:"auto_processed"`
	NeedsManualReview bool                  `json:"needs_manual_review" dynamodbav:"needs_manual_review"`

	CreatedAt  time.Time  `json:"created" dynamodbav:"created_at"`
	VerifiedAt *time.Time `json:"verified_at,omitempty" dynamodbav:"verified_at"`
	ExpiresAt  int64      `json:"expires_at" dynamodbav:"expires_at"` // Unix seconds; token expiry cutoff
}

// EmailUniversityKey builds the composite GSI key for the (email, university) pair.
func EmailUniversityKey(email, universityID string) string {
	return email + "#" + universityID
}

// TokenExpired reports whether the record's token is past its expiry at now.
func (r *VerificationRecord) TokenExpired(now time.Time) bool {
	return now.Unix() > r.ExpiresAt
}

// StartVerificationRequest is the body of POST /verify/start and /verify/resend.
type StartVerificationRequest struct {
	UniversityID string `json:"university_id" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
	PhoneNumber  string `json:"phone_number" validate:"required"`
}

// StatusRequest is the body of POST /verify/status.
type StatusRequest struct {
	UniversityID string `json:"university_id" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
}

// ResendRequest is the body of POST /verify/resend.
type ResendRequest struct {
	UniversityID string `json:"university_id" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
}
