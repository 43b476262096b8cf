package classify

import (
	"fmt"

	"github.com/campusgate/verify-api/internal/domain"
)

// Decision policy thresholds.
const (
	autoDecideConfidence   = 80 // above this the classifier's word is final
	reviewConfidence       = 50 // above this a likely-valid doc still needs a human
	resumeRejectConfidence = 20 // resumes are rejected even at low confidence
)

// Decide applies the auto-processing policy to a classified document.
// nonWSLen is the count of non-whitespace characters in the extracted text;
// when it is below the extraction floor the classification is ignored
// entirely. Pure function, no I/O.
func Decide(nonWSLen int, c domain.ClassificationResult) domain.DecisionResult {
	if nonWSLen < MinDecisionTextChars {
		return domain.DecisionResult{
			Decision:      domain.DecisionManualReview,
			Reason:        "insufficient text extracted from document",
			AutoProcessed: false,
		}
	}

	switch {
	case c.Confidence > autoDecideConfidence:
		if c.Type == domain.DocTypeResume {
			return domain.DecisionResult{
				Decision:      domain.DecisionRejected,
				Reason:        "resumes are not accepted as proof of enrollment",
				AutoProcessed: true,
			}
		}
		return domain.DecisionResult{
			Decision:      domain.DecisionApproved,
			Reason:        fmt.Sprintf("document verified as %s", typeLabel(c.Type)),
			AutoProcessed: true,
		}

	case c.Confidence > reviewConfidence:
		if c.Type == domain.DocTypeResume {
			return domain.DecisionResult{
				Decision:      domain.DecisionRejected,
				Reason:        "document type not acceptable",
				AutoProcessed: true,
			}
		}
		return domain.DecisionResult{
			Decision:      domain.DecisionManualReview,
			Reason:        fmt.Sprintf("possible %s, needs manual verification", typeLabel(c.Type)),
			AutoProcessed: false,
		}

	// Unreachable for resumes above reviewConfidence (the branch above rejects
	// them first); kept so the rejection floor is explicit in the rule order.
	case c.Type == domain.DocTypeResume && c.Confidence > resumeRejectConfidence:
		return domain.DecisionResult{
			Decision:      domain.DecisionRejected,
			Reason:        "other documents are not accepted",
			AutoProcessed: true,
		}

	default:
		return domain.DecisionResult{
			Decision:      domain.DecisionManualReview,
			Reason:        "unable to classify document reliably",
			AutoProcessed: false,
		}
	}
}

// MinDecisionTextChars mirrors the extraction floor: under it, rule one of
// the policy fires before classification is even consulted.
const MinDecisionTextChars = 50

// StatusFor maps a decision to the record status it produces.
func StatusFor(d domain.Decision) domain.VerificationStatus {
	switch d {
	case domain.DecisionApproved:
		return domain.StatusVerified
	case domain.DecisionRejected:
		return domain.StatusRejected
	default:
		return domain.StatusPending
	}
}

func typeLabel(t domain.DocumentType) string {
	switch t {
	case domain.DocTypeI20:
		return "I-20"
	case domain.DocTypeAdmitLetter:
		return "admission letter"
	case domain.DocTypeResume:
		return "resume"
	default:
		return "unknown document"
	}
}
