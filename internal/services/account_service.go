package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/loglane/loglane/internal/auth"
	"github.com/loglane/loglane/internal/models"
	"github.com/loglane/loglane/pkg/crypto"
	"github.com/loglane/loglane/pkg/logger"
	"github.com/loglane/loglane/pkg/metrics"
)

var (
	// ErrInvalidCredentials covers unknown accounts and bad passwords alike.
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	// ErrAccountInactive indicates the primary email has not been confirmed.
	ErrAccountInactive = errors.New("account: not activated")
	// ErrEmailTaken indicates the email already belongs to an account.
	ErrEmailTaken = errors.New("account: email already registered")
	// ErrUsernameTaken indicates the username already belongs to an account.
	ErrUsernameTaken = errors.New("account: username already registered")
	// ErrUserNotFound indicates no account matches the given identifier.
	ErrUserNotFound = errors.New("account: user not found")
)

// RegisterInput carries a signup request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Name     string
}

// AccountService owns user accounts: registration, login and password resets.
// The handed-off verification steps (activation and reset confirmation) run
// through the VerificationService.
type AccountService struct {
	db           *gorm.DB
	verification *VerificationService
	tokens       *auth.JWTService
	log          *zap.Logger
	now          func() time.Time
}

func NewAccountService(db *gorm.DB, verification *VerificationService, tokens *auth.JWTService) (*AccountService, error) {
	if db == nil {
		return nil, errors.New("account service: db is required")
	}
	if verification == nil {
		return nil, errors.New("account service: verification service is required")
	}
	if tokens == nil {
		return nil, errors.New("account service: jwt service is required")
	}
	return &AccountService{
		db:           db,
		verification: verification,
		tokens:       tokens,
		log:          logger.WithModule("services.account"),
		now:          time.Now,
	}, nil
}

// Register creates an inactive account with a pending primary email, then
// kicks off the activation flow. The returned session id names the secret the
// activation endpoint will verify against.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*models.User, string, error) {
	username := strings.TrimSpace(input.Username)
	address := strings.TrimSpace(strings.ToLower(input.Email))
	if username == "" || address == "" || input.Password == "" {
		return nil, "", errors.New("account service: username, email and password are required")
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, "", fmt.Errorf("account service: hash password: %w", err)
	}

	user := models.User{
		Username:     username,
		Email:        address,
		PasswordHash: hash,
		Name:         strings.TrimSpace(input.Name),
	}
	var email models.UserEmail

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", address).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrEmailTaken
		}
		if err := tx.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrUsernameTaken
		}

		if err := tx.Create(&user).Error; err != nil {
			return err
		}

		email = models.UserEmail{
			UserID:          user.ID,
			Email:           address,
			Role:            models.EmailRolePrimary,
			ActivationState: models.ActivationStatePending,
		}
		return tx.Create(&email).Error
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrUsernameTaken) {
			return nil, "", err
		}
		if isUniqueConstraintError(err) {
			// Lost the race between the count check and the insert.
			return nil, "", ErrEmailTaken
		}
		return nil, "", fmt.Errorf("account service: create account: %w", err)
	}

	sessionID, err := s.verification.Begin(ctx, &user, &email, auth.PurposeActivation)
	if err != nil {
		return nil, "", err
	}

	s.log.Info("account registered", zap.String("user_id", user.ID))
	user.Emails = []models.UserEmail{email}
	return &user, sessionID, nil
}

// Authenticate checks credentials and returns a signed access token. Accounts
// whose primary email is still pending cannot log in.
func (s *AccountService) Authenticate(ctx context.Context, usernameOrEmail, password string) (*models.User, string, error) {
	identifier := strings.TrimSpace(strings.ToLower(usernameOrEmail))
	if identifier == "" || password == "" {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, "", ErrInvalidCredentials
	}

	var user models.User
	if err := s.db.WithContext(ctx).
		Where("email = ? OR username = ?", identifier, identifier).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Burn a comparison so unknown accounts cost the same as bad passwords.
			crypto.VerifyPassword("$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidinval", password)
			metrics.AuthAttempts.WithLabelValues("failure").Inc()
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("account service: find user: %w", err)
	}

	if !crypto.VerifyPassword(user.PasswordHash, password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, "", ErrInvalidCredentials
	}
	if !user.IsActive {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, "", ErrAccountInactive
	}

	token, err := s.tokens.GenerateAccessToken(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("account service: issue access token: %w", err)
	}

	now := s.now().UTC()
	if err := s.db.WithContext(ctx).
		Model(&user).
		Update("last_login_at", now).Error; err != nil {
		s.log.Warn("failed to record login time", zap.Error(err))
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	return &user, token, nil
}

// RequestPasswordReset starts a reset flow for the account owning the address.
// Unknown addresses report ErrUserNotFound; callers decide whether to surface
// that or answer uniformly.
func (s *AccountService) RequestPasswordReset(ctx context.Context, address string) (string, error) {
	address = strings.TrimSpace(strings.ToLower(address))
	if address == "" {
		return "", ErrUserNotFound
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", address).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("account service: find user: %w", err)
	}

	var email models.UserEmail
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND role = ?", user.ID, models.EmailRolePrimary).
		First(&email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("account service: find primary email: %w", err)
	}

	return s.verification.Begin(ctx, &user, &email, auth.PurposePasswordReset)
}

// CompletePasswordReset stores the new password for the grant's owner and
// consumes the grant so the credential stops working.
func (s *AccountService) CompletePasswordReset(ctx context.Context, email *models.UserEmail, newPassword string) error {
	if email == nil || email.UserID == "" {
		return errors.New("account service: email record is required")
	}
	if newPassword == "" {
		return errors.New("account service: new password is required")
	}

	hash, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("account service: hash password: %w", err)
	}

	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", email.UserID).
		Update("password_hash", hash).Error; err != nil {
		return fmt.Errorf("account service: update password: %w", err)
	}

	return s.verification.ClearGrant(ctx, email)
}
