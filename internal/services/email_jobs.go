package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/loglane/loglane/internal/auth"
	"github.com/loglane/loglane/internal/queue"
	"github.com/loglane/loglane/pkg/logger"
	"github.com/loglane/loglane/pkg/mail"
)

// emailJobArgs is the positional layout every notification job uses:
// fragment, session id, user id, recipient address.
const emailJobArgs = 4

// EmailJobOption customises the EmailJobHandlers.
type EmailJobOption func(*EmailJobHandlers)

// WithEmailBaseURL sets the site root used when composing links.
func WithEmailBaseURL(url string) EmailJobOption {
	return func(h *EmailJobHandlers) {
		h.baseURL = strings.TrimRight(url, "/")
	}
}

// EmailJobHandlers turns queued notification jobs into signed credentials and
// outgoing mail. The signing key is assembled here, in the worker, from the
// job's fragment and the stored session secret; neither half leaves memory on
// its own.
type EmailJobHandlers struct {
	codec   *auth.VerificationCodec
	secrets auth.SecretStore
	mailer  mail.Mailer
	baseURL string
	log     *zap.Logger
}

func NewEmailJobHandlers(codec *auth.VerificationCodec, secrets auth.SecretStore, mailer mail.Mailer, opts ...EmailJobOption) (*EmailJobHandlers, error) {
	if codec == nil {
		return nil, errors.New("email jobs: codec is required")
	}
	if secrets == nil {
		return nil, errors.New("email jobs: secret store is required")
	}
	if mailer == nil {
		return nil, errors.New("email jobs: mailer is required")
	}

	handlers := &EmailJobHandlers{
		codec:   codec,
		secrets: secrets,
		mailer:  mailer,
		log:     logger.WithModule("services.email_jobs"),
	}
	for _, opt := range opts {
		opt(handlers)
	}
	return handlers, nil
}

// RegisterWith binds the handlers to their job kinds on the worker.
func (h *EmailJobHandlers) RegisterWith(worker *queue.Worker) {
	worker.Register(queue.KindSendActivationEmail, h.HandleActivationEmail)
	worker.Register(queue.KindSendPasswordResetEmail, h.HandlePasswordResetEmail)
}

// HandleActivationEmail composes and sends an account activation message.
func (h *EmailJobHandlers) HandleActivationEmail(ctx context.Context, job queue.Job) error {
	return h.deliver(ctx, job, auth.PurposeActivation,
		"Activate your Loglane account",
		"Welcome to Loglane!\n\nOpen the link below to activate your account. The link is valid for 24 hours.\n\n%s\n\nIf you did not sign up, you can ignore this message.\n",
		"user/activate")
}

// HandlePasswordResetEmail composes and sends a password reset message.
func (h *EmailJobHandlers) HandlePasswordResetEmail(ctx context.Context, job queue.Job) error {
	return h.deliver(ctx, job, auth.PurposePasswordReset,
		"Reset your Loglane password",
		"A password reset was requested for your Loglane account.\n\nOpen the link below to choose a new password. The link is valid for 24 hours.\n\n%s\n\nIf you did not request a reset, you can ignore this message.\n",
		"password/reset")
}

func (h *EmailJobHandlers) deliver(ctx context.Context, job queue.Job, purpose auth.Purpose, subject, bodyFormat, path string) error {
	if len(job.Args) != emailJobArgs {
		return fmt.Errorf("email jobs: %s expects %d args, got %d", job.Kind, emailJobArgs, len(job.Args))
	}
	fragment, sessionID, userID, address := job.Args[0], job.Args[1], job.Args[2], job.Args[3]

	secret, err := h.secrets.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("email jobs: session secret for %s: %w", job.Kind, err)
	}

	credential, err := h.codec.Encode(userID, purpose, auth.SigningKey{Fragment: fragment, Secret: secret})
	if err != nil {
		return fmt.Errorf("email jobs: sign credential: %w", err)
	}

	message := mail.Message{
		To:      []string{address},
		Subject: subject,
		Body:    fmt.Sprintf(bodyFormat, h.link(path, sessionID, credential)),
	}
	if err := h.mailer.Send(ctx, message); err != nil {
		if errors.Is(err, mail.ErrSMTPDisabled) {
			h.log.Warn("smtp disabled, dropping notification",
				zap.String("kind", string(job.Kind)),
				zap.String("session_id", sessionID))
			return nil
		}
		return fmt.Errorf("email jobs: send %s: %w", job.Kind, err)
	}

	h.log.Info("notification sent",
		zap.String("kind", string(job.Kind)),
		zap.String("session_id", sessionID))
	return nil
}

// link builds the browser URL. The credential rides in the fragment part so it
// stays out of server logs on the receiving end; the frontend moves it into
// the Authorization header for the verify call.
func (h *EmailJobHandlers) link(path, sessionID, credential string) string {
	base := h.baseURL
	if base == "" {
		base = "http://localhost:3000"
	}
	return fmt.Sprintf("%s/%s/%s#%s", base, path, sessionID, credential)
}
