package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/loglane/loglane/internal/api"
	"github.com/loglane/loglane/internal/app"
	"github.com/loglane/loglane/internal/app/maintenance"
	iauth "github.com/loglane/loglane/internal/auth"
	"github.com/loglane/loglane/internal/cache"
	"github.com/loglane/loglane/internal/database"
	"github.com/loglane/loglane/internal/queue"
	"github.com/loglane/loglane/internal/services"
	"github.com/loglane/loglane/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Store   cache.ListStore
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime initialises the database, cache, services, and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Store, err = openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	secrets := iauth.NewCacheSecretStore(stack.Store)

	codec, err := iauth.NewVerificationCodec(cfg.Auth.VerificationIssuer(), cfg.Auth.VerificationCodecOptions()...)
	if err != nil {
		return nil, fmt.Errorf("initialise verification codec: %w", err)
	}

	verifier, err := iauth.NewTokenVerifier(codec, secrets)
	if err != nil {
		return nil, fmt.Errorf("initialise token verifier: %w", err)
	}

	jwtService, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	producer, err := queue.NewProducer(stack.Store)
	if err != nil {
		return nil, fmt.Errorf("initialise queue producer: %w", err)
	}

	var verificationOpts []services.VerificationOption
	if cfg.Auth.Verification.TTL > 0 {
		verificationOpts = append(verificationOpts, services.WithVerificationTTL(cfg.Auth.Verification.TTL))
	}
	verification, err := services.NewVerificationService(stack.DB, secrets, producer, verificationOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise verification service: %w", err)
	}

	accounts, err := services.NewAccountService(stack.DB, verification, jwtService)
	if err != nil {
		return nil, fmt.Errorf("initialise account service: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(stack.DB)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Deps{
		Accounts:     accounts,
		Verification: verification,
		Verifier:     verifier,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown releases everything the stack holds, tolerating partial initialisation.
func (s *runtimeStack) Shutdown(log *zap.Logger) {
	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if err := s.Cleaner.RunOnce(stopCtx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if rc, ok := s.Store.(*cache.RedisClient); ok && rc != nil {
		_ = rc.Close()
	}

	closeDatabase(s.DB, log)
}

// openStore connects to Redis when enabled and falls back to the in-process store.
func openStore(cfg *app.Config, log *zap.Logger) (cache.ListStore, error) {
	if cfg.Cache.Redis.Enabled {
		client, err := cache.NewRedisClient(cfg.Cache.RedisClientConfig())
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		return client, nil
	}

	log.Warn("redis disabled; using in-process store, queued jobs will not survive restarts")
	return cache.NewMemoryStore(), nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func ensureSecretsPresent(cfg *app.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Auth.JWT.Secret = strings.TrimSpace(cfg.Auth.JWT.Secret)
	if cfg.Auth.JWT.Secret == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	return nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseOpenConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
