package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/loglane/loglane/internal/app"
	iauth "github.com/loglane/loglane/internal/auth"
	"github.com/loglane/loglane/internal/cache"
	"github.com/loglane/loglane/internal/queue"
	"github.com/loglane/loglane/internal/services"
	"github.com/loglane/loglane/pkg/logger"
	"github.com/loglane/loglane/pkg/mail"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("loglane-worker", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadWorkerConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("worker")

	store, err := openWorkerStore(cfg, log)
	if err != nil {
		return err
	}
	if rc, ok := store.(*cache.RedisClient); ok {
		defer rc.Close()
	}

	secrets := iauth.NewCacheSecretStore(store)

	codec, err := iauth.NewVerificationCodec(cfg.Auth.VerificationIssuer(), cfg.Auth.VerificationCodecOptions()...)
	if err != nil {
		return fmt.Errorf("initialise verification codec: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return fmt.Errorf("initialise mailer: %w", err)
	}

	var handlerOpts []services.EmailJobOption
	if strings.TrimSpace(cfg.Site.BaseURL) != "" {
		handlerOpts = append(handlerOpts, services.WithEmailBaseURL(cfg.Site.BaseURL))
	}
	handlers, err := services.NewEmailJobHandlers(codec, secrets, mailer, handlerOpts...)
	if err != nil {
		return fmt.Errorf("initialise email handlers: %w", err)
	}

	consumer, err := queue.NewConsumer(store)
	if err != nil {
		return fmt.Errorf("initialise queue consumer: %w", err)
	}

	workerOpts := []queue.WorkerOption{queue.WithQueueName(cfg.Queue.Name)}
	if cfg.Queue.PollInterval > 0 {
		workerOpts = append(workerOpts, queue.WithPollInterval(cfg.Queue.PollInterval))
	}
	worker, err := queue.NewWorker(consumer, workerOpts...)
	if err != nil {
		return fmt.Errorf("initialise worker: %w", err)
	}
	handlers.RegisterWith(worker)

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker: %w", err)
	}

	log.Info("worker stopped gracefully")
	return nil
}

func loadWorkerConfig(path string) (*app.Config, error) {
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

// openWorkerStore must talk to the same broker the API server enqueues on, so
// a disabled Redis is only acceptable for local experiments.
func openWorkerStore(cfg *app.Config, log *zap.Logger) (cache.ListStore, error) {
	if cfg.Cache.Redis.Enabled {
		client, err := cache.NewRedisClient(cfg.Cache.RedisClientConfig())
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		return client, nil
	}

	log.Warn("redis disabled; consuming from an in-process store that no producer shares")
	return cache.NewMemoryStore(), nil
}
