package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/coach-accounts/app"
	"github.com/upb/coach-accounts/models"
	"github.com/upb/coach-accounts/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := deps.Config.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	auth := deps.AuthMiddleware

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			accounts := deps.AccountHandler

			r.Post("/register", accounts.HandleRegister)
			r.Post("/login", accounts.HandleLogin)
			r.Post("/refresh-token", accounts.HandleRefresh)
			r.With(auth.OptionalAuth).Post("/logout", accounts.HandleLogout)
			r.Post("/forgot-password", accounts.HandleForgotPassword)
			r.Post("/reset-password", accounts.HandleResetPassword)
			r.Get("/verify-email/{token}", accounts.HandleVerifyEmail)
			r.Post("/resend-verification", accounts.HandleResendVerification)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth)
				r.Get("/profile", accounts.HandleGetProfile)
				r.Put("/profile", accounts.HandleUpdateProfile)
				r.Put("/body-information", accounts.HandleUpdateBodyInformation)
				r.Post("/change-password", accounts.HandleChangePassword)
			})

			// Google OAuth2
			r.Get("/google", deps.GoogleHandler.HandleGoogleLogin)
			r.Get("/google/callback", deps.GoogleHandler.HandleGoogleCallback)
			r.Get("/google/failure", deps.GoogleHandler.HandleGoogleFailure)
		})

		// User management
		r.Route("/users", func(r chi.Router) {
			users := deps.UserHandler
			admin := auth.RequireRole(models.RoleAdmin)

			r.Use(auth.RequireAuth)
			r.With(admin).Get("/", users.HandleListUsers)
			r.With(auth.RequireSelfOrAdmin("id")).Get("/{id}", users.HandleGetUser)
			r.With(admin).Put("/{id}", users.HandleUpdateUser)
			r.With(admin).Delete("/{id}", users.HandleDeleteUser)
			r.With(admin).Get("/{id}/events", users.HandleListUserEvents)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusMethodNotAllowed, utils.ErrorResponse{
			Error:   "method_not_allowed",
			Message: "Method not allowed",
		})
	})

	return r
}
