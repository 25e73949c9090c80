package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/loglane/loglane/internal/auth"
	"github.com/loglane/loglane/internal/cache"
	"github.com/loglane/loglane/internal/models"
	"github.com/loglane/loglane/internal/queue"
	"github.com/loglane/loglane/pkg/mail"
)

func openServicesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.UserEmail{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

// recordingMailer captures outgoing messages for assertions.
type recordingMailer struct {
	mu       sync.Mutex
	messages []recordedMessage
	err      error
}

type recordedMessage struct {
	To      []string
	Subject string
	Body    string
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, recordedMessage{To: msg.To, Subject: msg.Subject, Body: msg.Body})
	return nil
}

func (m *recordingMailer) sent() []recordedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedMessage(nil), m.messages...)
}

// verificationFixture wires the full grant pipeline against in-memory stores.
type verificationFixture struct {
	db       *gorm.DB
	broker   *cache.MemoryStore
	secrets  auth.SecretStore
	producer *queue.Producer
	consumer *queue.Consumer
	codec    *auth.VerificationCodec
	service  *VerificationService
	now      *time.Time
}

func newVerificationFixture(t *testing.T) *verificationFixture {
	t.Helper()

	current := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	f := &verificationFixture{
		db:     openServicesTestDB(t),
		broker: cache.NewMemoryStore(),
		now:    &current,
	}
	f.broker.WithClock(func() time.Time { return *f.now })
	f.secrets = auth.NewCacheSecretStore(f.broker)

	var err error
	f.producer, err = queue.NewProducer(f.broker, queue.WithProducerClock(func() time.Time { return *f.now }))
	require.NoError(t, err)
	f.consumer, err = queue.NewConsumer(f.broker)
	require.NoError(t, err)

	f.codec, err = auth.NewVerificationCodec("loglane.test", auth.WithCodecClock(func() time.Time { return *f.now }))
	require.NoError(t, err)

	f.service, err = NewVerificationService(f.db, f.secrets, f.producer,
		WithVerificationClock(func() time.Time { return *f.now }))
	require.NoError(t, err)

	return f
}

func (f *verificationFixture) createUser(t *testing.T, username, address string) (*models.User, *models.UserEmail) {
	t.Helper()

	user := &models.User{
		Username:     username,
		Email:        address,
		PasswordHash: "irrelevant",
	}
	require.NoError(t, f.db.Create(user).Error)

	email := &models.UserEmail{
		UserID:          user.ID,
		Email:           address,
		Role:            models.EmailRolePrimary,
		ActivationState: models.ActivationStatePending,
	}
	require.NoError(t, f.db.Create(email).Error)
	return user, email
}
