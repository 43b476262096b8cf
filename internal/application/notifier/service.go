package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/campusgate/verify-api/internal/domain"
	"github.com/campusgate/verify-api/internal/infrastructure/smtp"
	"github.com/campusgate/verify-api/internal/infrastructure/sns"
)

// Service sends verification notifications. All sends are fire-and-forget:
// a delivery failure is logged and never fails the enclosing request.
type Service interface {
	SendVerificationLink(ctx context.Context, email string, university *domain.University, token string)
	SendApproval(ctx context.Context, email string, universityName, phoneNumber string)
}

type service struct {
	mailer    smtp.Mailer
	smsSender sns.SMSSender
	baseURL   string
}

func NewService(mailer smtp.Mailer, smsSender sns.SMSSender, baseURL string) Service {
	return &service{mailer: mailer, smsSender: smsSender, baseURL: baseURL}
}

func (s *service) SendVerificationLink(ctx context.Context, email string, university *domain.University, token string) {
	link := fmt.Sprintf("%s/v1/verify/confirm/%s", s.baseURL, token)
	subject := fmt.Sprintf("Verify your %s enrollment", university.ShortName)
	body := fmt.Sprintf(
		"Hi,\n\nClick the link below to verify your enrollment at %s:\n\n%s\n\nThe link expires in 24 hours.\n",
		university.Name, link,
	)
	if err := s.mailer.SendEmail(email, subject, body); err != nil {
		slog.Warn("failed to send verification link", "email", email, "university", university.UniversityID, "err", err)
	}
}

func (s *service) SendApproval(ctx context.Context, email, universityName, phoneNumber string) {
	subject := "Enrollment verified"
	body := fmt.Sprintf(
		"Hi,\n\nYour enrollment at %s has been verified. You can now request your group invite link.\n",
		universityName,
	)
	if err := s.mailer.SendEmail(email, subject, body); err != nil {
		slog.Warn("failed to send approval email", "email", email, "err", err)
	}
	if s.smsSender != nil && phoneNumber != "" {
		msg := fmt.Sprintf("Your enrollment at %s is verified.", universityName)
		if err := s.smsSender.SendSMS(ctx, phoneNumber, msg); err != nil {
			slog.Warn("failed to send approval sms", "phone", phoneNumber, "err", err)
		}
	}
}
