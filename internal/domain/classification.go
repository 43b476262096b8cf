package domain

// DocumentType is the archetype a submitted document is matched against.
type DocumentType string

const (
	DocTypeI20         DocumentType = "i20"
	DocTypeAdmitLetter DocumentType = "admit_letter"
	DocTypeResume      DocumentType = "resume"
	DocTypeUnknown     DocumentType = "unknown"
)

// Decision is the outcome of the auto-processing policy for a document submission.
type Decision string

const (
	DecisionApproved     Decision = "approved"
	DecisionRejected     Decision = "rejected"
	DecisionManualReview Decision = "manual_review"
)

// ClassificationResult is the scored outcome of matching extracted text
// against the document archetypes. Scores are clamped to [0,100].
type ClassificationResult struct {
	Type       DocumentType         `json:"type" dynamodbav:"type"`
	Confidence int                  `json:"confidence" dynamodbav:"confidence"`
	AllScores  map[DocumentType]int `json:"all_scores" dynamodbav:"all_scores"`
	Excerpt    string               `json:"excerpt,omitempty" dynamodbav:"excerpt"`
}

// DecisionResult carries the policy outcome for a classified document.
// Reason is user-facing; autoProcessed=false means a human still has to look.
type DecisionResult struct {
	Decision      Decision `json:"decision"`
	Reason        string   `json:"reason"`
	AutoProcessed bool     `json:"auto_processed"`
}
