package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"lms-backend/internal/handlers"
	"lms-backend/internal/metrics"
	"lms-backend/internal/middleware"
	"lms-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	limiter *middleware.RateLimiter,
	lessonHandler *handlers.LessonHandler,
	ticketHandler *handlers.TicketHandler,
	presenceHandler *handlers.PresenceHandler,
	authoringHandler *handlers.AuthoringHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))
	r.Use(metrics.Middleware)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// The websocket authenticates through its token query param.
		r.Get("/ws", wsHub.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Use(chimiddleware.Timeout(15 * time.Second))

			// ──── Lesson Routes ────
			r.Route("/lessons", func(r chi.Router) {
				r.With(limiter.Middleware).Post("/", lessonHandler.Start)
				r.Get("/{id}", lessonHandler.Get)
				r.With(limiter.Middleware).Post("/{id}/answers", lessonHandler.SubmitAnswer)
				r.With(limiter.Middleware).Post("/{id}/advance", lessonHandler.Advance)
			})

			// ──── Unit Routes ────
			r.Route("/units/{id}", func(r chi.Router) {
				r.Use(limiter.Middleware)
				r.Post("/test-results", lessonHandler.SubmitTestResult)
				r.Post("/complete", lessonHandler.CompleteUnit)
				r.Post("/topics", authoringHandler.CreateTopic)
			})

			// ──── Ticket Routes ────
			r.Route("/tickets", func(r chi.Router) {
				r.With(limiter.Middleware).Post("/", ticketHandler.Create)
				r.Get("/mine", ticketHandler.Mine)
				r.Get("/{id}", ticketHandler.Get)
				r.With(limiter.Middleware).Delete("/{id}", ticketHandler.Cancel)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireInstructor)
					r.Get("/", ticketHandler.List)
					r.With(limiter.Middleware).Post("/{id}/claim", ticketHandler.Claim)
					r.With(limiter.Middleware).Post("/{id}/complete", ticketHandler.Complete)
				})
			})

			// ──── Instructor Routes ────
			r.Route("/instructors", func(r chi.Router) {
				r.Use(middleware.RequireInstructor)
				r.With(limiter.Middleware).Put("/me/status", ticketHandler.SetStatus)
			})

			// ──── Presence Routes ────
			r.Route("/presence", func(r chi.Router) {
				r.Post("/heartbeat", presenceHandler.Heartbeat)
				r.Get("/instructors", presenceHandler.Instructors)
				r.With(middleware.RequireInstructor).Get("/students", presenceHandler.Students)
			})

			// ──── Authoring Routes ────
			r.Group(func(r chi.Router) {
				r.Use(limiter.Middleware)
				r.Post("/topics/{id}/questions", authoringHandler.CreateQuestion)
				r.Put("/choices/{id}", authoringHandler.UpdateChoice)
				r.Delete("/choices/{id}", authoringHandler.DeleteChoice)
			})
		})
	})

	return r
}
