package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/campusgate/verify-api/internal/application/notifier"
	"github.com/campusgate/verify-api/internal/application/verification"
	"github.com/campusgate/verify-api/internal/config"
	"github.com/campusgate/verify-api/internal/extract"
	jwtinfra "github.com/campusgate/verify-api/internal/infrastructure/jwt"
	"github.com/campusgate/verify-api/internal/infrastructure/smtp"
	"github.com/campusgate/verify-api/internal/infrastructure/sns"
	"github.com/campusgate/verify-api/internal/transport/http/handler"
	appmiddleware "github.com/campusgate/verify-api/internal/transport/http/middleware"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	VerificationRepo VerificationRepository
	PhoneSeatRepo    PhoneSeatRepository
	EmailSeatRepo    EmailSeatRepository
	UniversityRepo   UniversityRepository
	S3Store          ObjectStore
	Extractor        *extract.Extractor
	Mailer           smtp.Mailer
	SMSSender        sns.SMSSender
	JWTProvider      *jwtinfra.Provider
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10 — applied to the public verify endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	notifySvc := notifier.NewService(deps.Mailer, deps.SMSSender, cfg.PublicBaseURL)
	verifySvc := verification.NewService(verification.ServiceDeps{
		RecordRepo:     deps.VerificationRepo,
		PhoneSeatRepo:  deps.PhoneSeatRepo,
		EmailSeatRepo:  deps.EmailSeatRepo,
		UniversityRepo: deps.UniversityRepo,
		Extractor:      deps.Extractor,
		ObjectStore:    deps.S3Store,
		Notifier:       notifySvc,
	})

	healthH := handler.NewHealthHandler()
	verifyH := handler.NewVerifyHandler(verifySvc)
	uniH := handler.NewUniversityHandler(deps.UniversityRepo)
	adminH := handler.NewAdminHandler(verifySvc, deps.JWTProvider, cfg.AdminUsername, cfg.AdminPasswordHash)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes ────────────────────────────────────────────────────
		r.Get("/health-check", healthH.Ping)
		r.Get("/universities", uniH.List)
		r.Get("/universities/{id}", uniH.Get)

		r.With(sensitiveRL.Limit).Post("/verify/start", verifyH.Start)
		r.With(sensitiveRL.Limit).Post("/verify/upload", verifyH.Upload)
		r.With(sensitiveRL.Limit).Get("/verify/confirm/{token}", verifyH.Confirm)
		r.With(sensitiveRL.Limit).Post("/verify/status", verifyH.Status)
		r.With(sensitiveRL.Limit).Post("/verify/resend", verifyH.Resend)

		r.With(sensitiveRL.Limit).Post("/admin/login", adminH.Login)

		// ── Admin routes ─────────────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Auth(deps.JWTProvider))

			r.Get("/admin/verifications/pending", adminH.ListPending)
			r.Post("/admin/verifications/{id}/approve", adminH.Approve)
		})
	})

	return r
}
