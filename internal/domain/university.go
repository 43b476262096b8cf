package domain

// University is a static reference entity. Records are read-only to the
// verification core; the table is seeded out of band.
type University struct {
	UniversityID string `json:"id" dynamodbav:"university_id"`
	Name         string `json:"name" dynamodbav:"name"`
	ShortName    string `json:"short_name" dynamodbav:"short_name"`
	EmailDomain  string `json:"email_domain" dynamodbav:"email_domain"`
	Location     string `json:"location" dynamodbav:"location"`
}
