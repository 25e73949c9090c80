package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/loglane/loglane/internal/database/testutil"
	"github.com/loglane/loglane/internal/models"
)

func seedGrant(t *testing.T, db *gorm.DB, address, fragment string, expiresAt time.Time) models.UserEmail {
	t.Helper()

	granted := expiresAt.Add(-24 * time.Hour)
	email := models.UserEmail{
		UserID:                   "user-" + address,
		Email:                    address,
		Role:                     models.EmailRolePrimary,
		ActivationState:          models.ActivationStatePending,
		ActivationToken:          &fragment,
		ActivationTokenGrantedAt: &granted,
		ActivationTokenExpiresAt: &expiresAt,
	}
	require.NoError(t, db.Create(&email).Error)
	return email
}

func TestCleanupGrants(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)

	lapsed := seedGrant(t, db, "lapsed@example.com", "lapsed-fragment", now.Add(-time.Hour))
	live := seedGrant(t, db, "live@example.com", "live-fragment", now.Add(time.Hour))

	cleared, err := CleanupGrants(context.Background(), db, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), cleared)

	var stored models.UserEmail
	require.NoError(t, db.First(&stored, "id = ?", lapsed.ID).Error)
	require.Nil(t, stored.ActivationToken)
	require.Nil(t, stored.ActivationTokenGrantedAt)
	require.Nil(t, stored.ActivationTokenExpiresAt)
	require.Equal(t, models.ActivationStatePending, stored.ActivationState)

	require.NoError(t, db.First(&stored, "id = ?", live.ID).Error)
	require.NotNil(t, stored.ActivationToken)
	require.Equal(t, "live-fragment", *stored.ActivationToken)
}

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)

	seedGrant(t, db, "sweep@example.com", "sweep-fragment", now.Add(-time.Minute))

	cleaner := NewCleaner(db, WithNow(func() time.Time { return now }))
	require.NoError(t, cleaner.RunOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.UserEmail{}).
		Where("activation_token IS NOT NULL").
		Count(&count).Error)
	require.Zero(t, count)
}

func TestCleanerStartStop(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	scheduler := cron.New(cron.WithLogger(cron.DiscardLogger))
	cleaner := NewCleaner(db, WithCron(scheduler), WithGrantSchedule("@every 1h"))

	require.NoError(t, cleaner.Start())
	<-cleaner.Stop().Done()
}
