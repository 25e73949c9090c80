package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loglane/loglane/internal/auth"
	"github.com/loglane/loglane/internal/models"
	"github.com/loglane/loglane/internal/queue"
	"github.com/loglane/loglane/internal/services"
	appErrors "github.com/loglane/loglane/pkg/errors"
	"github.com/loglane/loglane/pkg/response"
)

// VerificationHandler consumes emailed verification credentials: account
// activation and password reset confirmation. Both endpoints verify the
// credential the same way and differ only in what happens afterwards.
type VerificationHandler struct {
	verifier     *auth.TokenVerifier
	verification *services.VerificationService
	accounts     *services.AccountService
}

func NewVerificationHandler(verifier *auth.TokenVerifier, verification *services.VerificationService, accounts *services.AccountService) *VerificationHandler {
	return &VerificationHandler{verifier: verifier, verification: verification, accounts: accounts}
}

// PATCH /api/user/activate/:session
func (h *VerificationHandler) Activate(c *gin.Context) {
	email, ok := h.resolveGrant(c, auth.PurposeActivation)
	if !ok {
		return
	}

	if err := h.verification.Activate(c.Request.Context(), email); err != nil {
		response.Error(c, appErrors.Wrap(err, "failed to activate account"))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"activated": true})
}

// PUT /api/password/reset
func (h *VerificationHandler) RequestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email" validate:"required,email"`
	}
	if !bindAndValidate(c, &req) {
		return
	}

	_, err := h.accounts.RequestPasswordReset(c.Request.Context(), req.Email)
	if err != nil && !errors.Is(err, services.ErrUserNotFound) {
		if errors.Is(err, queue.ErrQueueUnavailable) {
			response.Error(c, appErrors.ErrServiceUnavailable.WithInternal(err))
			return
		}
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	// Unknown addresses get the same answer as known ones.
	response.Success(c, http.StatusOK, gin.H{"accepted": true})
}

// PATCH /api/password/reset/:session
func (h *VerificationHandler) CompletePasswordReset(c *gin.Context) {
	email, ok := h.resolveGrant(c, auth.PurposePasswordReset)
	if !ok {
		return
	}

	var req struct {
		Password string `json:"password" validate:"required,min=8,max=128"`
	}
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.CompletePasswordReset(c.Request.Context(), email, req.Password); err != nil {
		response.Error(c, appErrors.Wrap(err, "failed to reset password"))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"reset": true})
}

// resolveGrant runs the ordered credential checks and resolves the grant the
// verified token points at. On failure it writes the error response and
// returns false.
func (h *VerificationHandler) resolveGrant(c *gin.Context, purpose auth.Purpose) (*models.UserEmail, bool) {
	token, err := h.verifier.VerifyRequest(c)
	if err != nil {
		response.Error(c, verificationError(err))
		return nil, false
	}

	// A valid signature is not enough: the token's purpose must match the
	// endpoint, and its fragment must still be the one on record. A token from
	// a superseded grant fails the fragment comparison here.
	if token.Purpose != purpose {
		response.Error(c, appErrors.ErrNotFound)
		return nil, false
	}

	email, err := h.verification.FindByFragment(c.Request.Context(), token.Fragment)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrGrantExpired):
			response.Error(c, appErrors.ErrUnprocessable)
		case errors.Is(err, services.ErrGrantNotFound):
			response.Error(c, appErrors.ErrNotFound)
		default:
			response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		}
		return nil, false
	}
	return email, true
}

// verificationError maps verifier outcomes onto HTTP statuses: a request that
// never presented a usable credential is a bad request, an expired token is
// unprocessable, and everything else about the credential is simply not found.
func verificationError(err error) *appErrors.AppError {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return appErrors.NewBadRequest("verification credential is missing")
	case errors.Is(err, auth.ErrTokenInvalid):
		return appErrors.NewBadRequest("verification credential is invalid")
	case errors.Is(err, auth.ErrTokenExpired):
		return appErrors.ErrUnprocessable
	default:
		return appErrors.ErrNotFound
	}
}
