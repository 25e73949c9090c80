package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loglane/loglane/internal/auth"
	"github.com/loglane/loglane/internal/handlers"
	"github.com/loglane/loglane/internal/middleware"
	"github.com/loglane/loglane/internal/services"
)

// Deps carries the wired services the router needs.
type Deps struct {
	Accounts     *services.AccountService
	Verification *services.VerificationService
	Verifier     *auth.TokenVerifier
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Accounts == nil {
		return nil, fmt.Errorf("account service must be provided")
	}
	if deps.Verification == nil {
		return nil, fmt.Errorf("verification service must be provided")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("token verifier must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	// Health endpoint (public)
	r.GET("/health", handlers.Health())

	authHandler := handlers.NewAuthHandler(deps.Accounts)
	verificationHandler := handlers.NewVerificationHandler(deps.Verifier, deps.Verification, deps.Accounts)

	api := r.Group("/api")
	{
		api.POST("/register", authHandler.Register)
		api.POST("/login", authHandler.Login)

		api.PATCH("/user/activate/:session", verificationHandler.Activate)

		api.PUT("/password/reset", verificationHandler.RequestPasswordReset)
		api.PATCH("/password/reset/:session", verificationHandler.CompletePasswordReset)
	}

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
