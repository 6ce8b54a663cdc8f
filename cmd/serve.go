package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/cv-matcher/internal/ai"
	"github.com/spigell/cv-matcher/internal/ai/gemini"
	"github.com/spigell/cv-matcher/internal/auth"
	"github.com/spigell/cv-matcher/internal/extract"
	"github.com/spigell/cv-matcher/internal/httpapi"
	"github.com/spigell/cv-matcher/internal/logger"
	"github.com/spigell/cv-matcher/internal/metrics"
	"github.com/spigell/cv-matcher/internal/ratelimit"
	"github.com/spigell/cv-matcher/internal/screening"
	"github.com/spigell/cv-matcher/internal/secrets"
	"github.com/spigell/cv-matcher/internal/storage"
)

const (
	connectTimeout    = 15 * time.Second
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "address to listen on (default :8000)")

	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		return fmt.Errorf("creating a logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	config, err := getConfig()
	if err != nil {
		log.Error("getting a config", zap.Error(err))
		return err
	}

	log.Info("starting the cv-matcher", zap.String("version", version), zap.String("listen", config.Listen))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(*config), "", "  ")
	log.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricOpts []metrics.Option
	if config.Metrics.RuntimeCollectors {
		metricOpts = append(metricOpts, metrics.WithRuntimeCollectors())
	}
	reg := metrics.New(metricOpts...)

	rdb, err := newRedis(ctx, config.Redis)
	if err != nil {
		log.Error("connecting to redis", zap.Error(err), zap.String("addr", config.Redis.Addr))
		return err
	}
	defer rdb.Close()

	store, err := newMongo(ctx, config.Mongo)
	if err != nil {
		log.Error("connecting to mongo", zap.Error(err))
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warn("closing mongo", zap.Error(err))
		}
	}()

	limiter, err := ratelimit.New(
		ratelimit.NewRedisStore(rdb),
		config.RateLimit.Window,
		map[ratelimit.Tier]int{
			ratelimit.TierDemo: config.RateLimit.DemoMax,
			ratelimit.TierFree: config.RateLimit.FreeMax,
		},
		ratelimit.WithKeyPrefix(config.RateLimit.KeyPrefix),
		ratelimit.WithLogger(log.Named("ratelimit")),
		ratelimit.WithObserver(func(tier ratelimit.Tier, allowed bool) {
			reg.RateLimitDecision(string(tier), allowed)
		}),
	)
	if err != nil {
		log.Error("building the rate limiter", zap.Error(err))
		return err
	}

	scorer, err := newScorer(ctx, config.AI, log)
	if err != nil {
		log.Error("building the ai scorer", zap.Error(err),
			zap.String("hint", "set GEMINI_API_KEY or ai.gemini.api-key-file"),
		)
		return err
	}

	secret, err := secrets.Load(secrets.Source{
		Name:  "token signing secret",
		Value: config.Auth.Secret,
		File:  config.Auth.SecretFile,
		Env:   "SECRET_KEY",
	})
	if err != nil {
		log.Error("loading the token secret", zap.Error(err))
		return err
	}

	tokens, err := auth.NewTokens(secret, config.Auth.tokenTTL())
	if err != nil {
		log.Error("building the token issuer", zap.Error(err))
		return err
	}
	accounts := auth.NewService(store, tokens, auth.WithLogger(log))

	archiver := storage.NewArchiver(store, config.Mongo.ArchiveTimeout, log.Named("archiver"),
		storage.WithFailureHook(func(coll storage.Collection) {
			reg.ArchiveFailure(string(coll))
		}),
	)

	screener := screening.NewService(screening.Deps{
		Extractor: extract.New(extract.DefaultMaxSize),
		Scorer:    scorer,
		Limiter:   limiter,
		Archiver:  archiver,
		Logger:    log,
		Observer:  reg.ScoringResult,
	})

	deps := httpapi.Deps{
		Screening: screener,
		Accounts:  accounts,
		History:   store,
		Logger:    log,
		Recorder:  reg,
		Ready: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			if err := store.Ping(ctx); err != nil {
				return fmt.Errorf("mongo: %w", err)
			}
			return nil
		},
		TrustForwardedFor: config.RateLimit.TrustForwardedFor,
		MaxUploadBytes:    config.MaxUploadBytes,
	}
	if config.Metrics.Enabled {
		deps.Metrics = reg.Handler()
	}

	srv := &http.Server{
		Addr:              config.Listen,
		Handler:           httpapi.NewHandler(deps),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	log.Info("listening", zap.String("addr", config.Listen))

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("serving http", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down", zap.String("reason", context.Cause(ctx).Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("stopping http server", zap.Error(err))
	}
	if err := archiver.Wait(shutdownCtx); err != nil {
		log.Warn("pending upload records were not written", zap.Error(err))
	}

	log.Info("stopped")
	return nil
}

func newRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	password, err := secrets.Optional(secrets.Source{
		Name:  "redis password",
		Value: cfg.Password,
		File:  cfg.PasswordFile,
		Env:   "REDIS_PASSWORD",
	})
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}

func newMongo(ctx context.Context, cfg MongoConfig) (*storage.Mongo, error) {
	uri, err := secrets.Load(secrets.Source{
		Name:  "mongo uri",
		Value: cfg.URI,
		File:  cfg.URIFile,
		Env:   "MONGO_URI",
	})
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	return storage.Connect(connectCtx, uri, cfg.Database)
}

func newScorer(ctx context.Context, cfg AIConfig, log *zap.Logger) (ai.Scorer, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.Gemini.APIKey,
		File:  cfg.Gemini.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, err
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, gemini.GeneratorOptions{
		Model:             cfg.Gemini.Model,
		MaxRetries:        cfg.Gemini.MaxRetries,
		RequestsPerSecond: cfg.Gemini.RequestsPerSecond,
		Logger: log.With(
			zap.String("provider", "gemini"),
			zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries),
		),
	})
	if err != nil {
		return nil, err
	}

	return gemini.NewMatcher(generator, log, generator.Model(), cfg.Gemini.MaxLogLength), nil
}

// redacted blanks secrets before the config is logged.
func redacted(c Config) Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "***"
		}
	}
	mask(&c.Redis.Password)
	mask(&c.Mongo.URI)
	mask(&c.Auth.Secret)
	mask(&c.AI.Gemini.APIKey)
	return c
}
