package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	// Base URL embedded in verification links sent by email.
	PublicBaseURL string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3BucketName   string

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	SNSRegion    string

	// Admin review API credentials. AdminPasswordHash is a bcrypt hash.
	AdminUsername     string
	AdminPasswordHash string
	JWTSecret         string
	JWTExpiryHours    int

	// External extraction tool paths; resolved via PATH when left as defaults.
	PdftotextPath  string
	PdftoppmPath   string
	TesseractPath  string
	TesseractLang  string
	OCRDPI         int
	OCRTimeoutSecs int

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Verifications string
	PhoneSeats    string
	EmailSeats    string
	Universities  string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:3000"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Verifications: getEnv("DYNAMO_TABLE_VERIFICATIONS", "verifications"),
			PhoneSeats:    getEnv("DYNAMO_TABLE_PHONE_SEATS", "phone_seats"),
			EmailSeats:    getEnv("DYNAMO_TABLE_EMAIL_SEATS", "email_seats"),
			Universities:  getEnv("DYNAMO_TABLE_UNIVERSITIES", "universities"),
		},
		S3BucketName: getEnv("S3_BUCKET_NAME", "campusgate-documents"),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@campusgate.example"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SNSRegion:    getEnv("SNS_REGION", "us-east-1"),

		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTExpiryHours:    getEnvInt("JWT_EXPIRY_HOURS", 12),

		PdftotextPath:  getEnv("PDFTOTEXT_PATH", "pdftotext"),
		PdftoppmPath:   getEnv("PDFTOPPM_PATH", "pdftoppm"),
		TesseractPath:  getEnv("TESSERACT_PATH", "tesseract"),
		TesseractLang:  getEnv("TESSERACT_LANG", "eng"),
		OCRDPI:         getEnvInt("OCR_DPI", 300),
		OCRTimeoutSecs: getEnvInt("OCR_TIMEOUT_SECONDS", 60),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
