package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/credential-gate/internal/core/port"
	"github.com/arklim/credential-gate/internal/infra/config"
	"github.com/arklim/credential-gate/internal/infra/database"
	kafkainfra "github.com/arklim/credential-gate/internal/infra/kafka"
	"github.com/arklim/credential-gate/internal/infra/logger"
	"github.com/arklim/credential-gate/internal/infra/mail"
	redisinfra "github.com/arklim/credential-gate/internal/infra/redis"
	"github.com/arklim/credential-gate/internal/infra/security"
	"github.com/arklim/credential-gate/internal/repository/memory"
	postgresrepo "github.com/arklim/credential-gate/internal/repository/postgres"
	redisrepo "github.com/arklim/credential-gate/internal/repository/redis"
	"github.com/arklim/credential-gate/internal/transport/http/middleware"
	"github.com/arklim/credential-gate/internal/transport/http/routes"
	"github.com/arklim/credential-gate/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	auth     *usecase.AuthService
}

type stores struct {
	accounts port.AccountRepository
	otps     port.OTPRepository
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env, cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &Application{cfg: cfg, logger: log}

	st, err := app.openStores(ctx)
	if err != nil {
		app.close()
		return nil, err
	}

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		app.close()
		return nil, fmt.Errorf("init password hasher: %w", err)
	}

	generator, err := security.NewOTPGenerator(cfg.OTP.CodeLength)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("init otp generator: %w", err)
	}

	tokens, err := security.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenTTL)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("init token manager: %w", err)
	}

	registry := prometheus.DefaultRegisterer
	metrics, err := usecase.NewMetrics(usecase.MetricsOptions{Registerer: registry})
	if err != nil {
		app.close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		app.close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	events := app.eventPublisher()
	policy := security.NewPasswordPolicy(security.PasswordPolicyConfig{
		MinLength: cfg.Password.MinLength,
		MaxLength: cfg.Password.MaxLength,
		MinScore:  cfg.Password.MinScore,
	})

	lockout := usecase.NewLockoutPolicy(st.accounts, usecase.LockoutConfig{
		MaxAttempts: cfg.Auth.MaxLoginAttempts,
		Duration:    cfg.Auth.LockoutDuration,
	}, events, log)

	otps := usecase.NewOTPService(st.otps, generator, mail.New(cfg.Mail, log), usecase.OTPConfig{
		TTL:         cfg.OTP.TTL(),
		IssueWindow: cfg.OTP.IssueWindow,
		IssueMax:    cfg.OTP.IssueMax,
	}, log).WithMetrics(metrics)

	if err := app.attachThrottle(ctx, otps); err != nil {
		app.close()
		return nil, err
	}

	authService := usecase.NewAuthService(st.accounts, hasher, policy, lockout, otps, events, log).WithMetrics(metrics)
	userService := usecase.NewUserService(st.accounts, log)
	app.auth = authService

	deps := routes.Dependencies{
		Config:  cfg,
		Logger:  log,
		Tokens:  tokens,
		Metrics: httpMetrics,
		Services: routes.ServiceSet{
			Auth:  authService,
			Users: userService,
		},
	}
	if app.pool != nil {
		deps.Database = app.pool
	}
	if app.redis != nil {
		deps.Cache = app.redis
	}
	app.engine = routes.Register(deps)

	return app, nil
}

func (a *Application) openStores(ctx context.Context) (stores, error) {
	if a.cfg.Storage.Driver == config.StorageDriverMemory {
		a.logger.Warn("using in-memory credential store; data is lost on restart")
		return stores{accounts: memory.NewAccountRepository(), otps: memory.NewOTPRepository()}, nil
	}

	pool, err := database.NewPostgresPool(ctx, a.cfg.Postgres, a.logger)
	if err != nil {
		return stores{}, fmt.Errorf("init postgres: %w", err)
	}
	a.pool = pool

	if a.cfg.Storage.AutoMigrate {
		if err := postgresrepo.Migrate(ctx, pool); err != nil {
			return stores{}, fmt.Errorf("migrate postgres: %w", err)
		}
	}

	store := postgresrepo.NewStore(pool)
	return stores{accounts: store.Accounts, otps: store.OTPs}, nil
}

func (a *Application) attachThrottle(ctx context.Context, otps *usecase.OTPService) error {
	if !a.cfg.Redis.Enabled || a.cfg.OTP.IssueMax <= 0 {
		a.logger.Info("passcode issuance throttle disabled")
		return nil
	}

	client, err := redisinfra.NewClient(ctx, a.cfg.Redis, a.logger)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	a.redis = client

	otps.WithRateLimitStore(redisrepo.NewRateLimitRepository(client.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: a.cfg.Redis.KeyPrefix,
		TTL:       a.cfg.OTP.IssueWindow * 2,
	}))
	return nil
}

func (a *Application) eventPublisher() port.EventPublisher {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("kafka brokers not configured, using stub publisher")
		return kafkainfra.NewStubPublisher(a.logger)
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(a.logger)
	}
	a.producer = producer
	a.logger.Info("kafka event publisher initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return kafkainfra.NewEventPublisher(producer, a.cfg.App, a.logger)
}

func (a *Application) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("failed to close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       a.cfg.HTTP.ReadTimeout,
		WriteTimeout:      a.cfg.HTTP.WriteTimeout,
		IdleTimeout:       a.cfg.HTTP.IdleTimeout,
	}

	a.logger.Info("starting credential gate API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("storage", a.cfg.Storage.Driver),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		timeout := a.cfg.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		a.auth.WaitForDeliveries()
		a.logger.Info("credential gate API stopped")
		return nil
	case err := <-serverErrCh:
		return err
	}
}
