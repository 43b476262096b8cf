package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/campusgate/verify-api/internal/config"
	"github.com/campusgate/verify-api/internal/extract"
	"github.com/campusgate/verify-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/campusgate/verify-api/internal/infrastructure/jwt"
	s3infra "github.com/campusgate/verify-api/internal/infrastructure/s3"
	"github.com/campusgate/verify-api/internal/infrastructure/smtp"
	"github.com/campusgate/verify-api/internal/infrastructure/sns"
	transporthttp "github.com/campusgate/verify-api/internal/transport/http"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables)

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		log.Fatalf("JWT provider: %v", err)
	}

	// S3 store for uploaded enrollment documents.
	s3Client := s3infra.NewClient(cfg)
	s3Store := s3infra.NewStore(s3Client, cfg.S3BucketName)

	// SMTP mailer.
	mailer := smtp.NewMailer(cfg)

	// SNS SMS sender (optional — graceful fallback).
	var smsSender sns.SMSSender
	if sender, err := sns.NewSender(cfg); err == nil {
		smsSender = sender
	} else {
		log.Printf("WARN: SNS sender not available: %v", err)
	}

	extractor := extract.NewExtractor(extract.Config{
		Pdftotext:     cfg.PdftotextPath,
		Pdftoppm:      cfg.PdftoppmPath,
		Tesseract:     cfg.TesseractPath,
		TesseractLang: cfg.TesseractLang,
		DPI:           cfg.OCRDPI,
		Timeout:       time.Duration(cfg.OCRTimeoutSecs) * time.Second,
	}, nil)

	deps := &transporthttp.Deps{
		VerificationRepo: dynamo.NewVerificationRepo(dynamoClient, cfg.DynamoTables.Verifications),
		PhoneSeatRepo:    dynamo.NewPhoneSeatRepo(dynamoClient, cfg.DynamoTables.PhoneSeats),
		EmailSeatRepo:    dynamo.NewEmailSeatRepo(dynamoClient, cfg.DynamoTables.EmailSeats),
		UniversityRepo:   dynamo.NewUniversityRepo(dynamoClient, cfg.DynamoTables.Universities),
		S3Store:          s3Store,
		Extractor:        extractor,
		Mailer:           mailer,
		SMSSender:        smsSender,
		JWTProvider:      jwtProvider,
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // document OCR can take a while
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
