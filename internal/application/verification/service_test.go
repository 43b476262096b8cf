package verification

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/campusgate/verify-api/internal/domain"
	"github.com/campusgate/verify-api/internal/extract"
)

// --- mocks ---

type mockRecordStore struct{ mock.Mock }

func (m *mockRecordStore) Put(ctx context.Context, v *domain.VerificationRecord) error {
	return m.Called(ctx, v).Error(0)
}
func (m *mockRecordStore) Get(ctx context.Context, verificationID string) (*domain.VerificationRecord, error) {
	args := m.Called(ctx, verificationID)
	if v, _ := args.Get(0).(*domain.VerificationRecord); v != nil {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockRecordStore) GetByEmailUniversity(ctx context.Context, email, universityID string) (*domain.VerificationRecord, error) {
	args := m.Called(ctx, email, universityID)
	if v, _ := args.Get(0).(*domain.VerificationRecord); v != nil {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockRecordStore) GetByToken(ctx context.Context, token string) (*domain.VerificationRecord, error) {
	args := m.Called(ctx, token)
	if v, _ := args.Get(0).(*domain.VerificationRecord); v != nil {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockRecordStore) ListByStatus(ctx context.Context, status domain.VerificationStatus) ([]domain.VerificationRecord, error) {
	args := m.Called(ctx, status)
	if v, _ := args.Get(0).([]domain.VerificationRecord); v != nil {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockRecordStore) MarkVerified(ctx context.Context, verificationID string, verifiedAt time.Time) error {
	return m.Called(ctx, verificationID, verifiedAt).Error(0)
}
func (m *mockRecordStore) MarkExpired(ctx context.Context, verificationID string) error {
	return m.Called(ctx, verificationID).Error(0)
}
func (m *mockRecordStore) Update(ctx context.Context, verificationID string, updates map[string]interface{}) error {
	return m.Called(ctx, verificationID, updates).Error(0)
}
func (m *mockRecordStore) Delete(ctx context.Context, verificationID string) error {
	return m.Called(ctx, verificationID).Error(0)
}

type mockPhoneSeatStore struct{ mock.Mock }

func (m *mockPhoneSeatStore) Claim(ctx context.Context, phoneNumber, emailUniversity, verificationID string) error {
	return m.Called(ctx, phoneNumber, emailUniversity, verificationID).Error(0)
}
func (m *mockPhoneSeatStore) Holder(ctx context.Context, phoneNumber string) (string, error) {
	args := m.Called(ctx, phoneNumber)
	return args.String(0), args.Error(1)
}

type mockEmailSeatStore struct{ mock.Mock }

func (m *mockEmailSeatStore) Claim(ctx context.Context, emailUniversity, verificationID string) error {
	return m.Called(ctx, emailUniversity, verificationID).Error(0)
}
func (m *mockEmailSeatStore) Release(ctx context.Context, emailUniversity, verificationID string) error {
	return m.Called(ctx, emailUniversity, verificationID).Error(0)
}

type mockUniversityStore struct{ mock.Mock }

func (m *mockUniversityStore) Get(ctx context.Context, universityID string) (*domain.University, error) {
	args := m.Called(ctx, universityID)
	if u, _ := args.Get(0).(*domain.University); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockExtractor struct{ mock.Mock }

func (m *mockExtractor) Extract(ctx context.Context, data []byte) (extract.Result, error) {
	args := m.Called(ctx, data)
	res, _ := args.Get(0).(extract.Result)
	return res, args.Error(1)
}

type mockObjectStore struct{ mock.Mock }

func (m *mockObjectStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	args := m.Called(ctx, key, r, contentType)
	return args.String(0), args.Error(1)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) SendVerificationLink(ctx context.Context, email string, university *domain.University, token string) {
	m.Called(ctx, email, university, token)
}
func (m *mockNotifier) SendApproval(ctx context.Context, email, universityName, phoneNumber string) {
	m.Called(ctx, email, universityName, phoneNumber)
}

// --- fixtures ---

const (
	testPhone    = "+14155552671"
	testPhoneAlt = "+14155552672"
	testEmail    = "student@example.edu"
	testUniID    = "uni1"
)

var testUni = &domain.University{
	UniversityID: testUniID,
	Name:         "Example University",
	ShortName:    "EU",
	EmailDomain:  "example.edu",
}

type fakes struct {
	records    *mockRecordStore
	phoneSeats *mockPhoneSeatStore
	emailSeats *mockEmailSeatStore
	unis       *mockUniversityStore
	extractor  *mockExtractor
	objects    *mockObjectStore
	notifier   *mockNotifier
}

func newFakes() *fakes {
	return &fakes{
		records:    &mockRecordStore{},
		phoneSeats: &mockPhoneSeatStore{},
		emailSeats: &mockEmailSeatStore{},
		unis:       &mockUniversityStore{},
		extractor:  &mockExtractor{},
		objects:    &mockObjectStore{},
		notifier:   &mockNotifier{},
	}
}

func (f *fakes) service() Service {
	return NewService(ServiceDeps{
		RecordRepo:     f.records,
		PhoneSeatRepo:  f.phoneSeats,
		EmailSeatRepo:  f.emailSeats,
		UniversityRepo: f.unis,
		Extractor:      f.extractor,
		ObjectStore:    f.objects,
		Notifier:       f.notifier,
	})
}

func pendingEmailRecord(createdAt time.Time) *domain.VerificationRecord {
	return &domain.VerificationRecord{
		VerificationID: "ver1",
		UniversityID:   testUniID,
		Email:          testEmail,
		PhoneNumber:    testPhone,
		Method:         domain.MethodEmailLink,
		Status:         domain.StatusPending,
		Token:          "tok1",
		CreatedAt:      createdAt,
		ExpiresAt:      createdAt.Add(24 * time.Hour).Unix(),
	}
}

// --- StartEmailVerification ---

func TestStart_HappyPath(t *testing.T) {
	f := newFakes()
	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)
	f.records.On("GetByEmailUniversity", mock.Anything, testEmail, testUniID).Return(nil, domain.ErrNotFound)
	f.phoneSeats.On("Holder", mock.Anything, testPhone).Return("", domain.ErrNotFound)
	f.records.On("Put", mock.Anything, mock.AnythingOfType("*domain.VerificationRecord")).Return(nil)
	f.notifier.On("SendVerificationLink", mock.Anything, testEmail, testUni, mock.AnythingOfType("string")).Return()

	res, err := f.service().StartEmailVerification(context.Background(), domain.StartVerificationRequest{
		UniversityID: testUniID,
		Email:        "Student@Example.EDU", // normalized before storage
		PhoneNumber:  testPhone,
	})

	require.NoError(t, err)
	assert.Equal(t, ResultStarted, res.Status)
	assert.NotEmpty(t, res.VerificationID)
	f.records.AssertExpectations(t)
	f.notifier.AssertExpectations(t)

	put := f.records.Calls[1].Arguments.Get(1).(*domain.VerificationRecord)
	assert.Equal(t, testEmail, put.Email)
	assert.Equal(t, domain.StatusPending, put.Status)
	assert.Equal(t, domain.MethodEmailLink, put.Method)
	assert.NotEmpty(t, put.Token)
}

func TestStart_UnknownUniversity(t *testing.T) {
	f := newFakes()
	f.unis.On("Get", mock.Anything, "nope").Return(nil, domain.ErrNotFound)

	_, err := f.service().StartEmailVerification(context.Background(), domain.StartVerificationRequest{
		UniversityID: "nope",
		Email:        testEmail,
		PhoneNumber:  testPhone,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestStart_WrongEmailDomain(t *testing.T) {
	f := newFakes()
	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)

	_, err := f.service().StartEmailVerification(context.Background(), domain.StartVerificationRequest{
		UniversityID: testUniID,
		Email:        "student@gmail.com",
		PhoneNumber:  testPhone,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
}

func TestStart_InvalidPhone(t *testing.T) {
	f := newFakes()
	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)

	_, err := f.service().StartEmailVerification(context.Background(), domain.StartVerificationRequest{
		UniversityID: testUniID,
		Email:        testEmail,
		PhoneNumber:  "not-a-phone",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
}

func TestStart_SamePhoneAlreadyVerified_ReturnsAlreadyVerified(t *testing.T) {
	f := newFakes()
	verified := pendingEmailRecord(time.Now())
	verified.Status = domain.StatusVerified

	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)
	f.records.On("GetByEmailUniversity", mock.Anything, testEmail, testUniID).Return(verified, nil)

	res, err := f.service().StartEmailVerification(context.Background(), domain.StartVerificationRequest{
		UniversityID: testUniID,
		Email:        testEmail,
		PhoneNumber:  testPhone,
	})

	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyVerified, res.Status)
	// No new record, no email.
	f.records.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "SendVerificationLink", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStart_VerifiedEmailWithDifferentPhone_Conflict(t *testing.T) {
	f := newFakes()
	verified := pendingEmailRecord(time.Now())
	verified.Status = domain.StatusVerified

	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)
	f.records.On("GetByEmailUniversity", mock.Anything, testEmail, testUniID).Return(verified, nil)

	_, err := f.service().StartEmailVerification(context.Background(), domain.StartVerificationRequest{
		UniversityID: testUniID,
		Email:        testEmail,
		PhoneNumber:  testPhoneAlt,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestStart_PhoneHeldByAnotherIdentity_Conflict(t *testing.T) {
	f := newFakes()
	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)
	f.records.On("GetByEmailUniversity", mock.Anything, testEmail, testUniID).Return(nil, domain.ErrNotFound)
	f.phoneSeats.On("Holder", mock.Anything, testPhone).Return("other@example.edu#uni2", nil)

	_, err := f.service().StartEmailVerification(context.Background(), domain.StartVerificationRequest{
		UniversityID: testUniID,
		Email:        testEmail,
		PhoneNumber:  testPhone,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	f.records.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestStart_ReplacesStaleRejectedRecord(t *testing.T) {
	f := newFakes()
	stale := pendingEmailRecord(time.Now().Add(-48 * time.Hour))
	stale.Status = domain.StatusRejected

	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)
	f.records.On("GetByEmailUniversity", mock.Anything, testEmail, testUniID).Return(stale, nil)
	f.phoneSeats.On("Holder", mock.Anything, testPhone).Return("", domain.ErrNotFound)
	f.records.On("Delete", mock.Anything, stale.VerificationID).Return(nil)
	f.records.On("Put", mock.Anything, mock.AnythingOfType("*domain.VerificationRecord")).Return(nil)
	f.notifier.On("SendVerificationLink", mock.Anything, testEmail, testUni, mock.AnythingOfType("string")).Return()

	res, err := f.service().StartEmailVerification(context.Background(), domain.StartVerificationRequest{
		UniversityID: testUniID,
		Email:        testEmail,
		PhoneNumber:  testPhone,
	})

	require.NoError(t, err)
	assert.Equal(t, ResultStarted, res.Status)
	f.records.AssertExpectations(t)
}

// --- ConfirmEmailVerification ---

func TestConfirm_HappyPath(t *testing.T) {
	f := newFakes()
	rec := pendingEmailRecord(time.Now())

	f.records.On("GetByToken", mock.Anything, "tok1").Return(rec, nil)
	f.emailSeats.On("Claim", mock.Anything, testEmail+"#"+testUniID, rec.VerificationID).Return(nil)
	f.phoneSeats.On("Claim", mock.Anything, testPhone, testEmail+"#"+testUniID, rec.VerificationID).Return(nil)
	f.records.On("MarkVerified", mock.Anything, rec.VerificationID, mock.AnythingOfType("time.Time")).Return(nil)

	res, err := f.service().ConfirmEmailVerification(context.Background(), "tok1")

	require.NoError(t, err)
	assert.Equal(t, ResultVerified, res.Status)
	assert.Equal(t, domain.StatusVerified, res.Record.Status)
	require.NotNil(t, res.Record.VerifiedAt)
	f.emailSeats.AssertExpectations(t)
	f.phoneSeats.AssertExpectations(t)
	f.records.AssertExpectations(t)
}

func TestConfirm_UnknownToken(t *testing.T) {
	f := newFakes()
	f.records.On("GetByToken", mock.Anything, "bad").Return(nil, domain.ErrNotFound)

	_, err := f.service().ConfirmEmailVerification(context.Background(), "bad")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestConfirm_AlreadyVerified_Idempotent(t *testing.T) {
	f := newFakes()
	rec := pendingEmailRecord(time.Now())
	rec.Status = domain.StatusVerified

	f.records.On("GetByToken", mock.Anything, "tok1").Return(rec, nil)

	res, err := f.service().ConfirmEmailVerification(context.Background(), "tok1")

	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyVerified, res.Status)
	f.phoneSeats.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.records.AssertNotCalled(t, "MarkVerified", mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirm_TokenPastExpiry_ExpiresRecord(t *testing.T) {
	f := newFakes()
	rec := pendingEmailRecord(time.Now())
	rec.ExpiresAt = time.Now().Add(-time.Second).Unix() // one second past the cutoff

	f.records.On("GetByToken", mock.Anything, "tok1").Return(rec, nil)
	f.records.On("MarkExpired", mock.Anything, rec.VerificationID).Return(nil)

	_, err := f.service().ConfirmEmailVerification(context.Background(), "tok1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExpired))
	f.records.AssertExpectations(t)
	f.phoneSeats.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirm_ExpiredStatus(t *testing.T) {
	f := newFakes()
	rec := pendingEmailRecord(time.Now())
	rec.Status = domain.StatusExpired

	f.records.On("GetByToken", mock.Anything, "tok1").Return(rec, nil)

	_, err := f.service().ConfirmEmailVerification(context.Background(), "tok1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExpired))
}

func TestConfirm_PhoneSeatTaken_Conflict(t *testing.T) {
	f := newFakes()
	rec := pendingEmailRecord(time.Now())

	f.records.On("GetByToken", mock.Anything, "tok1").Return(rec, nil)
	f.emailSeats.On("Claim", mock.Anything, testEmail+"#"+testUniID, rec.VerificationID).Return(nil)
	f.phoneSeats.On("Claim", mock.Anything, testPhone, testEmail+"#"+testUniID, rec.VerificationID).
		Return(domain.ErrConflict)
	f.emailSeats.On("Release", mock.Anything, testEmail+"#"+testUniID, rec.VerificationID).Return(nil)

	_, err := f.service().ConfirmEmailVerification(context.Background(), "tok1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	// The email seat is handed back so a later attempt with a clean phone
	// number is not locked out.
	f.emailSeats.AssertCalled(t, "Release", mock.Anything, testEmail+"#"+testUniID, rec.VerificationID)
	f.records.AssertNotCalled(t, "MarkVerified", mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirm_SecondPendingRecordForSameEmail_Conflict(t *testing.T) {
	// Two pending records for the same email+university can exist briefly if
	// two starts race. Only one confirmation may win; the loser must see a
	// conflict rather than mint a second verified identity.
	f := newFakes()
	loser := pendingEmailRecord(time.Now())
	loser.VerificationID = "ver2"
	loser.Token = "tok2"

	f.records.On("GetByToken", mock.Anything, "tok2").Return(loser, nil)
	f.emailSeats.On("Claim", mock.Anything, testEmail+"#"+testUniID, "ver2").
		Return(domain.ErrConflict) // seat already held by the winning record

	_, err := f.service().ConfirmEmailVerification(context.Background(), "tok2")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	f.phoneSeats.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.records.AssertNotCalled(t, "MarkVerified", mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirm_LostRaceToConcurrentConfirm_IdempotentSuccess(t *testing.T) {
	f := newFakes()
	rec := pendingEmailRecord(time.Now())
	fresh := pendingEmailRecord(time.Now())
	fresh.Status = domain.StatusVerified

	f.records.On("GetByToken", mock.Anything, "tok1").Return(rec, nil)
	f.emailSeats.On("Claim", mock.Anything, testEmail+"#"+testUniID, rec.VerificationID).Return(nil)
	f.phoneSeats.On("Claim", mock.Anything, testPhone, testEmail+"#"+testUniID, rec.VerificationID).Return(nil)
	f.records.On("MarkVerified", mock.Anything, rec.VerificationID, mock.AnythingOfType("time.Time")).
		Return(domain.ErrConflict)
	f.records.On("Get", mock.Anything, rec.VerificationID).Return(fresh, nil)

	res, err := f.service().ConfirmEmailVerification(context.Background(), "tok1")

	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyVerified, res.Status)
}

// --- SubmitDocumentVerification ---

func submitInput() SubmitInput {
	return SubmitInput{
		UniversityID: testUniID,
		Email:        testEmail,
		PhoneNumber:  testPhone,
		FileBytes:    []byte("%PDF-1.7 test"),
		Filename:     "i20.pdf",
		ContentType:  "application/pdf",
	}
}

func expectCleanBinding(f *fakes) {
	f.records.On("GetByEmailUniversity", mock.Anything, testEmail, testUniID).Return(nil, domain.ErrNotFound)
	f.phoneSeats.On("Holder", mock.Anything, testPhone).Return("", domain.ErrNotFound)
}

func TestSubmit_I20AutoApproved(t *testing.T) {
	f := newFakes()
	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)
	expectCleanBinding(f)
	f.objects.On("Upload", mock.Anything, mock.AnythingOfType("string"), mock.Anything, "application/pdf").
		Return("s3://bucket/key", nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(extract.Result{
		Text:   "SEVIS ID: N1234567890 Program End Date: 05/15/2027 Form I-20 Department of Homeland Security F-1",
		Method: "pdf-text",
	}, nil)
	f.emailSeats.On("Claim", mock.Anything, testEmail+"#"+testUniID, mock.AnythingOfType("string")).Return(nil)
	f.phoneSeats.On("Claim", mock.Anything, testPhone, testEmail+"#"+testUniID, mock.AnythingOfType("string")).Return(nil)
	f.records.On("Put", mock.Anything, mock.AnythingOfType("*domain.VerificationRecord")).Return(nil)
	f.notifier.On("SendApproval", mock.Anything, testEmail, testUni.Name, testPhone).Return()

	res, err := f.service().SubmitDocumentVerification(context.Background(), submitInput())

	require.NoError(t, err)
	assert.Equal(t, domain.DecisionApproved, res.Decision)
	require.NotNil(t, res.Classification)
	assert.Equal(t, domain.DocTypeI20, res.Classification.Type)

	put := lastPut(f)
	assert.Equal(t, domain.StatusVerified, put.Status)
	assert.Equal(t, domain.MethodAdmitLetter, put.Method)
	assert.True(t, put.AutoProcessed)
	assert.NotNil(t, put.VerifiedAt)
	assert.Equal(t, "s3://bucket/key", put.StoredFileRef)
	f.notifier.AssertExpectations(t)
}

func TestSubmit_ResumeRejected_NoSeatClaimed(t *testing.T) {
	f := newFakes()
	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)
	expectCleanBinding(f)
	f.objects.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s3://bucket/key", nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(extract.Result{
		Text: "Work Experience: 5 years of experience, responsible for team leadership. Skills: Python, SQL. References available.",
	}, nil)
	f.records.On("Put", mock.Anything, mock.AnythingOfType("*domain.VerificationRecord")).Return(nil)

	res, err := f.service().SubmitDocumentVerification(context.Background(), submitInput())

	require.NoError(t, err)
	assert.Equal(t, domain.DecisionRejected, res.Decision)

	put := lastPut(f)
	assert.Equal(t, domain.StatusRejected, put.Status)
	f.phoneSeats.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "SendApproval", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmit_InsufficientText_ManualReview(t *testing.T) {
	f := newFakes()
	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)
	expectCleanBinding(f)
	f.objects.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s3://bucket/key", nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(extract.Result{Text: "p. 1"}, nil)
	f.records.On("Put", mock.Anything, mock.AnythingOfType("*domain.VerificationRecord")).Return(nil)

	res, err := f.service().SubmitDocumentVerification(context.Background(), submitInput())

	require.NoError(t, err)
	assert.Equal(t, domain.DecisionManualReview, res.Decision)
	assert.Nil(t, res.Classification) // too little text to bother scoring

	put := lastPut(f)
	assert.Equal(t, domain.StatusPending, put.Status)
	assert.True(t, put.NeedsManualReview)
	assert.False(t, put.AutoProcessed)
}

func TestSubmit_ExtractionFailure_ManualReviewWithErrorRetained(t *testing.T) {
	f := newFakes()
	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)
	expectCleanBinding(f)
	f.objects.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s3://bucket/key", nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(extract.Result{},
		&extract.ExtractionError{Stage: "ocr", Err: errors.New("tesseract crashed")})
	f.records.On("Put", mock.Anything, mock.AnythingOfType("*domain.VerificationRecord")).Return(nil)

	res, err := f.service().SubmitDocumentVerification(context.Background(), submitInput())

	require.NoError(t, err) // an unprocessable document is not a request failure
	assert.Equal(t, domain.DecisionManualReview, res.Decision)

	put := lastPut(f)
	assert.Equal(t, domain.StatusPending, put.Status)
	assert.True(t, put.NeedsManualReview)
	assert.Contains(t, put.ProcessingError, "tesseract crashed")
}

func TestSubmit_StorageFailure_IsHardFailure(t *testing.T) {
	f := newFakes()
	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)
	expectCleanBinding(f)
	f.objects.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("bucket unavailable"))

	_, err := f.service().SubmitDocumentVerification(context.Background(), submitInput())

	require.Error(t, err)
	f.extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	f.records.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestSubmit_AlreadyVerified_ShortCircuits(t *testing.T) {
	f := newFakes()
	verified := pendingEmailRecord(time.Now())
	verified.Status = domain.StatusVerified

	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)
	f.records.On("GetByEmailUniversity", mock.Anything, testEmail, testUniID).Return(verified, nil)

	res, err := f.service().SubmitDocumentVerification(context.Background(), submitInput())

	require.NoError(t, err)
	assert.True(t, res.AlreadyVerified)
	assert.Equal(t, domain.DecisionApproved, res.Decision)
	f.objects.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestSubmit_ResubmitAfterRejection_DeletesStaleRecord(t *testing.T) {
	f := newFakes()
	stale := pendingEmailRecord(time.Now().Add(-time.Hour))
	stale.Status = domain.StatusRejected

	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)
	f.records.On("GetByEmailUniversity", mock.Anything, testEmail, testUniID).Return(stale, nil)
	f.phoneSeats.On("Holder", mock.Anything, testPhone).Return("", domain.ErrNotFound)
	f.records.On("Delete", mock.Anything, stale.VerificationID).Return(nil)
	f.objects.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s3://bucket/key", nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(extract.Result{
		Text: "SEVIS ID: N1234567890 Program End Date: 05/15/2027 Form I-20 Department of Homeland Security",
	}, nil)
	f.emailSeats.On("Claim", mock.Anything, testEmail+"#"+testUniID, mock.AnythingOfType("string")).Return(nil)
	f.phoneSeats.On("Claim", mock.Anything, testPhone, testEmail+"#"+testUniID, mock.AnythingOfType("string")).Return(nil)
	f.records.On("Put", mock.Anything, mock.AnythingOfType("*domain.VerificationRecord")).Return(nil)
	f.notifier.On("SendApproval", mock.Anything, testEmail, testUni.Name, testPhone).Return()

	res, err := f.service().SubmitDocumentVerification(context.Background(), submitInput())

	require.NoError(t, err)
	assert.Equal(t, domain.DecisionApproved, res.Decision)
	assert.NotEqual(t, stale.VerificationID, res.VerificationID)
	f.records.AssertExpectations(t)

	// Exactly one verified record remains: the stale one was deleted before
	// the fresh one was written.
	f.records.AssertNumberOfCalls(t, "Delete", 1)
	f.records.AssertNumberOfCalls(t, "Put", 1)
}

// --- ResendVerificationEmail ---

func TestResend_TooSoon(t *testing.T) {
	f := newFakes()
	rec := pendingEmailRecord(time.Now().Add(-60 * time.Second)) // inside the 2 min window

	f.records.On("GetByEmailUniversity", mock.Anything, testEmail, testUniID).Return(rec, nil)

	_, err := f.service().ResendVerificationEmail(context.Background(), testEmail, testUniID)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTooSoon))
	f.records.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestResend_AfterCooldown_IssuesNewToken(t *testing.T) {
	f := newFakes()
	rec := pendingEmailRecord(time.Now().Add(-130 * time.Second))

	f.records.On("GetByEmailUniversity", mock.Anything, testEmail, testUniID).Return(rec, nil)
	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)
	f.records.On("Update", mock.Anything, rec.VerificationID, mock.Anything).Return(nil)
	f.notifier.On("SendVerificationLink", mock.Anything, testEmail, testUni, mock.AnythingOfType("string")).Return()

	res, err := f.service().ResendVerificationEmail(context.Background(), testEmail, testUniID)

	require.NoError(t, err)
	assert.Equal(t, ResultStarted, res.Status)
	f.records.AssertExpectations(t)

	updates := f.records.Calls[1].Arguments.Get(2).(map[string]interface{})
	newTok, ok := updates["verification_token"].(string)
	require.True(t, ok)
	assert.NotEqual(t, rec.Token, newTok)
	assert.Contains(t, updates, "expires_at")
	f.notifier.AssertExpectations(t)
}

func TestResend_DocumentMethod_BadRequest(t *testing.T) {
	f := newFakes()
	rec := pendingEmailRecord(time.Now().Add(-time.Hour))
	rec.Method = domain.MethodAdmitLetter

	f.records.On("GetByEmailUniversity", mock.Anything, testEmail, testUniID).Return(rec, nil)

	_, err := f.service().ResendVerificationEmail(context.Background(), testEmail, testUniID)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
}

func TestResend_NotPending_Conflict(t *testing.T) {
	f := newFakes()
	rec := pendingEmailRecord(time.Now().Add(-time.Hour))
	rec.Status = domain.StatusVerified

	f.records.On("GetByEmailUniversity", mock.Anything, testEmail, testUniID).Return(rec, nil)

	_, err := f.service().ResendVerificationEmail(context.Background(), testEmail, testUniID)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

// --- Status ---

func TestStatus_NotStarted(t *testing.T) {
	f := newFakes()
	f.records.On("GetByEmailUniversity", mock.Anything, testEmail, testUniID).Return(nil, domain.ErrNotFound)

	res, err := f.service().Status(context.Background(), testEmail, testUniID)

	require.NoError(t, err)
	assert.Equal(t, ResultNotStarted, res.Status)
	assert.Nil(t, res.Record)
}

func TestStatus_PendingPastExpiry_ReadsAsExpired(t *testing.T) {
	f := newFakes()
	rec := pendingEmailRecord(time.Now().Add(-25 * time.Hour))

	f.records.On("GetByEmailUniversity", mock.Anything, testEmail, testUniID).Return(rec, nil)

	res, err := f.service().Status(context.Background(), testEmail, testUniID)

	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusExpired), res.Status)
	// Read-only view: the stored record is not touched.
	f.records.AssertNotCalled(t, "MarkExpired", mock.Anything, mock.Anything)
}

func TestStatus_Verified(t *testing.T) {
	f := newFakes()
	rec := pendingEmailRecord(time.Now())
	rec.Status = domain.StatusVerified

	f.records.On("GetByEmailUniversity", mock.Anything, testEmail, testUniID).Return(rec, nil)

	res, err := f.service().Status(context.Background(), testEmail, testUniID)

	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusVerified), res.Status)
	require.NotNil(t, res.Record)
}

// --- admin ---

func TestListPendingReviews_FiltersToManualReview(t *testing.T) {
	f := newFakes()
	f.records.On("ListByStatus", mock.Anything, domain.StatusPending).Return([]domain.VerificationRecord{
		{VerificationID: "a", NeedsManualReview: true},
		{VerificationID: "b", NeedsManualReview: false}, // pending email link, not a review item
		{VerificationID: "c", NeedsManualReview: true},
	}, nil)

	reviews, err := f.service().ListPendingReviews(context.Background())

	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, "a", reviews[0].VerificationID)
	assert.Equal(t, "c", reviews[1].VerificationID)
}

func TestAdminApprove_HappyPath(t *testing.T) {
	f := newFakes()
	rec := pendingEmailRecord(time.Now())
	rec.Method = domain.MethodAdmitLetter
	rec.NeedsManualReview = true

	f.records.On("Get", mock.Anything, rec.VerificationID).Return(rec, nil)
	f.emailSeats.On("Claim", mock.Anything, testEmail+"#"+testUniID, rec.VerificationID).Return(nil)
	f.phoneSeats.On("Claim", mock.Anything, testPhone, testEmail+"#"+testUniID, rec.VerificationID).Return(nil)
	f.records.On("MarkVerified", mock.Anything, rec.VerificationID, mock.AnythingOfType("time.Time")).Return(nil)
	f.unis.On("Get", mock.Anything, testUniID).Return(testUni, nil)
	f.notifier.On("SendApproval", mock.Anything, testEmail, testUni.Name, testPhone).Return()

	out, err := f.service().AdminApproveManualReview(context.Background(), rec.VerificationID)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusVerified, out.Status)
	require.NotNil(t, out.VerifiedAt)
	f.notifier.AssertExpectations(t)
}

func TestAdminApprove_NotAwaitingReview_Conflict(t *testing.T) {
	f := newFakes()
	rec := pendingEmailRecord(time.Now()) // pending but not flagged for review

	f.records.On("Get", mock.Anything, rec.VerificationID).Return(rec, nil)

	_, err := f.service().AdminApproveManualReview(context.Background(), rec.VerificationID)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	f.phoneSeats.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAdminApprove_PhoneSeatTaken_Conflict(t *testing.T) {
	f := newFakes()
	rec := pendingEmailRecord(time.Now())
	rec.NeedsManualReview = true

	f.records.On("Get", mock.Anything, rec.VerificationID).Return(rec, nil)
	f.emailSeats.On("Claim", mock.Anything, testEmail+"#"+testUniID, rec.VerificationID).Return(nil)
	f.phoneSeats.On("Claim", mock.Anything, testPhone, testEmail+"#"+testUniID, rec.VerificationID).
		Return(domain.ErrConflict)
	f.emailSeats.On("Release", mock.Anything, testEmail+"#"+testUniID, rec.VerificationID).Return(nil)

	_, err := f.service().AdminApproveManualReview(context.Background(), rec.VerificationID)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	f.records.AssertNotCalled(t, "MarkVerified", mock.Anything, mock.Anything, mock.Anything)
}

// --- helpers ---

func lastPut(f *fakes) *domain.VerificationRecord {
	for i := len(f.records.Calls) - 1; i >= 0; i-- {
		if f.records.Calls[i].Method == "Put" {
			return f.records.Calls[i].Arguments.Get(1).(*domain.VerificationRecord)
		}
	}
	return nil
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "i20.pdf", sanitizeFilename("i20.pdf"))
	assert.Equal(t, "passwd", sanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "my_letter__1_.pdf", sanitizeFilename("my letter (1).pdf"))
	assert.Equal(t, "_", sanitizeFilename(""))
	assert.Equal(t, "_", sanitizeFilename("."))
}
