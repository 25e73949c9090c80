package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/loglane/loglane/internal/auth"
	"github.com/loglane/loglane/internal/models"
	"github.com/loglane/loglane/internal/queue"
	"github.com/loglane/loglane/pkg/crypto"
	"github.com/loglane/loglane/pkg/metrics"
)

// FragmentLength is the size of the random grant fragment persisted alongside
// the email record. The fragment is one half of the token signing key and is
// never logged or mailed on its own.
const FragmentLength = 128

var (
	// ErrGrantNotFound indicates no email record carries the presented fragment.
	ErrGrantNotFound = errors.New("verification: grant not found")
	// ErrGrantExpired indicates the grant window has closed.
	ErrGrantExpired = errors.New("verification: grant expired")
	// ErrGrantPersistence wraps database failures while writing a grant.
	ErrGrantPersistence = errors.New("verification: grant persistence failed")
)

// VerificationOption customises the VerificationService.
type VerificationOption func(*VerificationService)

// WithVerificationClock injects a custom time source.
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(s *VerificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithVerificationTTL overrides the grant lifetime.
func WithVerificationTTL(ttl time.Duration) VerificationOption {
	return func(s *VerificationService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// VerificationService issues, looks up and consumes verification grants. A
// grant is a single-purpose, time-limited permission to act on one email
// record; issuing a new grant for the same record overwrites the previous one.
type VerificationService struct {
	db       *gorm.DB
	secrets  auth.SecretStore
	producer *queue.Producer
	ttl      time.Duration
	now      func() time.Time
}

// NewVerificationService constructs the service. The secret store and producer
// are required because every grant starts an asynchronous delivery.
func NewVerificationService(db *gorm.DB, secrets auth.SecretStore, producer *queue.Producer, opts ...VerificationOption) (*VerificationService, error) {
	if db == nil {
		return nil, errors.New("verification service: db is required")
	}
	if secrets == nil {
		return nil, errors.New("verification service: secret store is required")
	}
	if producer == nil {
		return nil, errors.New("verification service: producer is required")
	}

	service := &VerificationService{
		db:       db,
		secrets:  secrets,
		producer: producer,
		ttl:      auth.VerificationTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Grant issues a fresh fragment for the email record and persists it together
// with the grant window in a single update. Any previously outstanding grant
// for the record stops verifying from this point on.
func (s *VerificationService) Grant(ctx context.Context, email *models.UserEmail, purpose auth.Purpose) (string, error) {
	if email == nil || email.ID == "" {
		return "", errors.New("verification service: email record is required")
	}

	fragment, err := crypto.RandomAlphanumeric(FragmentLength)
	if err != nil {
		return "", fmt.Errorf("verification service: generate fragment: %w", err)
	}

	now := s.now().UTC()
	expires := now.Add(s.ttl)

	result := s.db.WithContext(ctx).
		Model(&models.UserEmail{}).
		Where("id = ?", email.ID).
		Updates(map[string]any{
			"activation_token":            fragment,
			"activation_token_granted_at": now,
			"activation_token_expires_at": expires,
		})
	if result.Error != nil {
		return "", fmt.Errorf("%w: %v", ErrGrantPersistence, result.Error)
	}
	if result.RowsAffected == 0 {
		return "", fmt.Errorf("%w: email record %s missing", ErrGrantPersistence, email.ID)
	}

	email.ActivationToken = &fragment
	email.ActivationTokenGrantedAt = &now
	email.ActivationTokenExpiresAt = &expires

	metrics.TokensGranted.WithLabelValues(string(purpose)).Inc()
	return fragment, nil
}

// Begin issues a grant and hands delivery off to the queue. It stores a fresh
// session secret, then enqueues the notification job that will compose and
// send the signed credential. The returned session id names the secret the
// verify endpoint will need.
func (s *VerificationService) Begin(ctx context.Context, user *models.User, email *models.UserEmail, purpose auth.Purpose) (string, error) {
	if user == nil {
		return "", errors.New("verification service: user is required")
	}

	fragment, err := s.Grant(ctx, email, purpose)
	if err != nil {
		return "", err
	}

	sessionID, secret, err := auth.NewSessionSecret()
	if err != nil {
		return "", fmt.Errorf("verification service: session secret: %w", err)
	}
	if err := s.secrets.Put(ctx, sessionID, secret, s.ttl); err != nil {
		return "", fmt.Errorf("verification service: store session secret: %w", err)
	}

	kind := queue.KindSendActivationEmail
	if purpose == auth.PurposePasswordReset {
		kind = queue.KindSendPasswordResetEmail
	}

	job := queue.Job{
		Kind: kind,
		Args: []string{fragment, sessionID, user.ID, email.Email},
	}
	if err := s.producer.Enqueue(ctx, queue.DefaultQueueName, job); err != nil {
		return "", fmt.Errorf("verification service: enqueue %s: %w", kind, err)
	}
	return sessionID, nil
}

// FindByFragment resolves the email record a verified token points at. The
// fragment comparison is what retires superseded grants: a token signed over
// an old fragment fails here even though its signature still checks out.
func (s *VerificationService) FindByFragment(ctx context.Context, fragment string) (*models.UserEmail, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, ErrGrantNotFound
	}

	var email models.UserEmail
	if err := s.db.WithContext(ctx).
		Where("activation_token = ?", fragment).
		First(&email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGrantNotFound
		}
		return nil, fmt.Errorf("verification service: find grant: %w", err)
	}

	if email.ActivationTokenExpiresAt != nil && email.ActivationTokenExpiresAt.Before(s.now()) {
		return nil, ErrGrantExpired
	}
	return &email, nil
}

// Activate flips the email record to active and consumes the grant in one
// update. Activating a user's primary address also unlocks the account.
func (s *VerificationService) Activate(ctx context.Context, email *models.UserEmail) error {
	if email == nil || email.ID == "" {
		return errors.New("verification service: email record is required")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.UserEmail{}).
			Where("id = ?", email.ID).
			Updates(map[string]any{
				"activation_state":            models.ActivationStateActive,
				"activation_token":            nil,
				"activation_token_granted_at": nil,
				"activation_token_expires_at": nil,
			}).Error; err != nil {
			return err
		}

		if email.Role == models.EmailRolePrimary {
			if err := tx.Model(&models.User{}).
				Where("id = ?", email.UserID).
				Update("is_active", true).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGrantPersistence, err)
	}

	email.ActivationState = models.ActivationStateActive
	email.ActivationToken = nil
	email.ActivationTokenGrantedAt = nil
	email.ActivationTokenExpiresAt = nil
	return nil
}

// ClearGrant consumes a grant without changing the activation state. Password
// reset confirmations use it once the new password is in place.
func (s *VerificationService) ClearGrant(ctx context.Context, email *models.UserEmail) error {
	if email == nil || email.ID == "" {
		return errors.New("verification service: email record is required")
	}

	if err := s.db.WithContext(ctx).
		Model(&models.UserEmail{}).
		Where("id = ?", email.ID).
		Updates(map[string]any{
			"activation_token":            nil,
			"activation_token_granted_at": nil,
			"activation_token_expires_at": nil,
		}).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrGrantPersistence, err)
	}

	email.ActivationToken = nil
	email.ActivationTokenGrantedAt = nil
	email.ActivationTokenExpiresAt = nil
	return nil
}
