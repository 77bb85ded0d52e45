package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/dojohq/booking-management/internal/auth"
	"github.com/dojohq/booking-management/internal/booking"
	"github.com/dojohq/booking-management/internal/transport/middleware"
	"github.com/dojohq/booking-management/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, authHandler *auth.Handler, bookingHandler *booking.Handler, webhookHandler *booking.WebhookHandler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestMeta)
	router.Use(middleware.RecoveryMiddleware(logger))

	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// the gateway calls this unauthenticated; it is validated by
		// payload shape and settled through the row-locked finalizer
		if webhookHandler != nil {
			r.Post("/payments/mpesa/callback", webhookHandler.HandleMpesaCallback)
		}

		if authHandler != nil {
			r.Route("/auth", func(sr chi.Router) {
				sr.Post("/register", authHandler.Register)
				sr.Post("/login", authHandler.Login)
			})

			r.Group(func(pr chi.Router) {
				pr.Use(authHandler.AuthMiddleware)

				pr.Get("/users/me", authHandler.Me)

				if bookingHandler != nil {
					pr.Route("/bookings", func(br chi.Router) {
						br.Post("/", bookingHandler.CreateBooking)
						br.Get("/", bookingHandler.ListBookings)
						br.Get("/{id}", bookingHandler.GetBooking)
						br.Get("/{id}/status", bookingHandler.PaymentStatus)
						br.Post("/{id}/cancel", bookingHandler.CancelBooking)
						br.Get("/{id}/history", bookingHandler.PaymentHistory)
					})
				}
			})
		}
	})
}
