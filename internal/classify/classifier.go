// Package classify scores extracted document text against the enrollment
// document archetypes and applies the auto-decision policy. Everything here is
// a pure function of its input; the weights below are hand-tuned and are the
// contract, not incidental values.
package classify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/campusgate/verify-api/internal/domain"
)

// ExcerptLen caps the text excerpt kept on the record for audit and manual review.
const ExcerptLen = 500

// I-20 scoring weights.
const (
	i20SevisWeight        = 40
	i20FormWeight         = 35
	i20F1Weight           = 30
	i20DHSWeight          = 25
	i20SEVPWeight         = 20
	i20StructuralWeight   = 20 // per matched structural marker
	rejectKeywordPenalty  = 30
)

// Admission letter scoring weights.
const (
	admitKeywordWeight       = 15 // per matched admission keyword
	admitOfferWeight         = 35
	admitPleasedWeight       = 25
	admitWelcomeWeight       = 20
	admitInstitutionWeight   = 20
	admitOfficeWeight        = 15
	admitTermWeight          = 20
	admitAcademicYearWeight  = 10
)

// Resume scoring weights. The resume archetype exists only to reject; its
// score is never reduced by its own keywords.
const (
	resumeSectionWeight     = 10 // per matched section keyword
	resumePatternWeight     = 20
	resumeYearsWeight       = 25
	resumeResponsibleWeight = 15
	resumeAchieveWeight     = 15
)

var admitKeywords = []string{"admitted", "accepted", "congratulations", "admission"}

var rejectKeywords = []string{"resume", "curriculum vitae", "work experience"}

var resumeSectionKeywords = []string{
	"work experience",
	"professional experience",
	"employment history",
	"skills",
	"objective",
	"summary",
	"references",
	"career objective",
	"professional summary",
	"achievements",
	"certifications",
	"years of experience",
	"responsible for",
}

var i20StructuralMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bN\d{10}\b`), // SEVIS ID
	regexp.MustCompile(`(?i)program end date:`),
	regexp.MustCompile(`(?i)level of education:`),
	regexp.MustCompile(`(?i)major field of study:`),
}

var resumePatterns = []*regexp.Regexp{
	regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	regexp.MustCompile(`\(?\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}`),
	regexp.MustCompile(`(?i)\d+\+?\s+years?\s+of\s+experience`),
}

// Classify scores text against the three archetypes and returns the best
// match. Deterministic: identical text always yields identical results.
func Classify(text string) domain.ClassificationResult {
	lower := strings.ToLower(text)

	scores := map[domain.DocumentType]int{
		domain.DocTypeI20:         clamp(scoreI20(text, lower)),
		domain.DocTypeAdmitLetter: clamp(scoreAdmitLetter(lower)),
		domain.DocTypeResume:      clamp(scoreResume(text, lower)),
	}

	// Stable sort descending: on an exact tie the evaluation order
	// i20, admit_letter, resume wins.
	ordered := []domain.DocumentType{domain.DocTypeI20, domain.DocTypeAdmitLetter, domain.DocTypeResume}
	sort.SliceStable(ordered, func(i, j int) bool {
		return scores[ordered[i]] > scores[ordered[j]]
	})

	best := ordered[0]
	confidence := scores[best]
	if confidence == 0 {
		best = domain.DocTypeUnknown
	}

	return domain.ClassificationResult{
		Type:       best,
		Confidence: confidence,
		AllScores:  scores,
		Excerpt:    Excerpt(text),
	}
}

// Excerpt returns the first ExcerptLen characters of text. Truncation is by
// rune, not byte: OCR output is routinely multibyte and a byte slice could cut
// mid-rune, storing invalid UTF-8 on the record.
func Excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= ExcerptLen {
		return text
	}
	return string(runes[:ExcerptLen])
}

func scoreI20(text, lower string) int {
	score := 0
	if strings.Contains(lower, "sevis") {
		score += i20SevisWeight
	}
	if strings.Contains(lower, "form i-20") || strings.Contains(lower, "i-20") {
		score += i20FormWeight
	}
	if strings.Contains(lower, "f-1") {
		score += i20F1Weight
	}
	if strings.Contains(lower, "department of homeland security") {
		score += i20DHSWeight
	}
	if strings.Contains(lower, "student and exchange visitor") {
		score += i20SEVPWeight
	}
	for _, re := range i20StructuralMarkers {
		if re.MatchString(text) {
			score += i20StructuralWeight
		}
	}
	score -= rejectPenalty(lower)
	return score
}

func scoreAdmitLetter(lower string) int {
	score := 0
	for _, kw := range admitKeywords {
		if strings.Contains(lower, kw) {
			score += admitKeywordWeight
		}
	}
	if strings.Contains(lower, "offer of admission") {
		score += admitOfferWeight
	}
	if strings.Contains(lower, "pleased to inform") {
		score += admitPleasedWeight
	}
	if strings.Contains(lower, "welcome to") {
		score += admitWelcomeWeight
	}
	if strings.Contains(lower, "university") || strings.Contains(lower, "college") {
		score += admitInstitutionWeight
	}
	if strings.Contains(lower, "admissions office") {
		score += admitOfficeWeight
	}
	if strings.Contains(lower, "fall 2025") || strings.Contains(lower, "spring 2025") {
		score += admitTermWeight
	}
	if strings.Contains(lower, "academic year") {
		score += admitAcademicYearWeight
	}
	score -= rejectPenalty(lower)
	return score
}

func scoreResume(text, lower string) int {
	score := 0
	for _, kw := range resumeSectionKeywords {
		if strings.Contains(lower, kw) {
			score += resumeSectionWeight
		}
	}
	for _, re := range resumePatterns {
		if re.MatchString(text) {
			score += resumePatternWeight
			break
		}
	}
	if strings.Contains(lower, "years of experience") {
		score += resumeYearsWeight
	}
	if strings.Contains(lower, "responsible for") {
		score += resumeResponsibleWeight
	}
	if strings.Contains(lower, "achievements") {
		score += resumeAchieveWeight
	}
	return score
}

func rejectPenalty(lower string) int {
	for _, kw := range rejectKeywords {
		if strings.Contains(lower, kw) {
			return rejectKeywordPenalty
		}
	}
	return 0
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
