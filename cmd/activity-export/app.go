package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Sternrassler/activity-export/pkg/auth"
	"github.com/Sternrassler/activity-export/pkg/cache"
	"github.com/Sternrassler/activity-export/pkg/client"
	"github.com/Sternrassler/activity-export/pkg/config"
	"github.com/Sternrassler/activity-export/pkg/logging"
	"github.com/Sternrassler/activity-export/pkg/ratelimit"
	"github.com/Sternrassler/activity-export/pkg/sink"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds the components shared by the subcommands.
type app struct {
	cfg      *config.Config
	redis    *redis.Client
	limiter  *ratelimit.Limiter
	client   *client.Client
	provider *auth.TokenProvider
	closers  []io.Closer
	logger   zerolog.Logger
}

// newApp connects the API client, token provider and rate limiter.
// Redis, when configured, backs both the limiter and the category cache.
func newApp(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, a.redis)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.RateLimit.Store == config.StoreRedis {
		store = ratelimit.NewRedisStore(a.redis, cfg.RateLimit.Namespace, cfg.RateLimit.Period)
	}
	a.limiter = ratelimit.NewLimiter(ratelimit.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Period:      cfg.RateLimit.Period,
	}, store, logging.NewLogger("ratelimit"))

	clientCfg := client.DefaultConfig(cfg.API.BaseURL)
	clientCfg.UserAgent = cfg.API.UserAgent
	clientCfg.Timeout = cfg.API.Timeout
	clientCfg.CategoriesTTL = cfg.API.CategoriesTTL
	if a.redis != nil {
		clientCfg.Cache = cache.NewManager(a.redis)
		clientCfg.CacheScope = cfg.Credentials.KeyringProfile
	}
	c, err := client.New(clientCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client = c

	provider, err := auth.NewTokenProvider(auth.Config{
		TokenURL: cfg.API.TokenURL,
		Timeout:  cfg.API.Timeout,
	}, credentialSource(cfg, in, out), logging.NewLogger("auth"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.provider = provider

	return a, nil
}

// credentialSource chains configured credentials, the keyring profile and,
// when allowed, an interactive prompt.
func credentialSource(cfg *config.Config, in io.Reader, out io.Writer) auth.CredentialSource {
	sources := []auth.CredentialSource{
		auth.NewStaticSource(cfg.Credentials.ClientID, cfg.Credentials.ClientSecret),
		auth.NewKeyringSource(cfg.Credentials.KeyringProfile),
	}
	if cfg.Credentials.Interactive {
		sources = append(sources, auth.NewPromptSource(in, out))
	}
	return auth.NewChainSource(sources...)
}

// login authenticates, reprompting on rejection when the source allows it.
func (a *app) login(ctx context.Context) (auth.Credential, error) {
	cred, err := auth.Login(ctx, a.provider, a.cfg.Credentials.LoginAttempts)
	if errors.Is(err, auth.ErrCredentialsNotFound) {
		return auth.Credential{}, fmt.Errorf("%w: set credentials.client_id/client_secret, run 'activity-export credentials store' or enable credentials.interactive", err)
	}
	return cred, err
}

// filters resolves the configured category labels to ids.
// Unknown labels are reported and skipped.
func (a *app) filters(ctx context.Context, cred auth.Credential) (client.Filters, error) {
	filters := client.Filters{EventType: a.cfg.API.EventType}
	if len(a.cfg.API.Categories) == 0 {
		return filters, nil
	}

	categories, err := a.client.ListCategories(ctx, cred.Token)
	if err != nil {
		return filters, fmt.Errorf("list categories: %w", err)
	}
	matched, missing := client.MatchCategories(categories, a.cfg.API.Categories)
	if len(missing) > 0 {
		a.logger.Warn().Strs("labels", missing).Msg("Unknown category labels ignored")
	}
	if len(matched) == 0 {
		return filters, fmt.Errorf("none of the categories %s exist", strings.Join(a.cfg.API.Categories, ", "))
	}
	filters.CategoryIDs = client.CategoryIDs(matched)
	return filters, nil
}

// sinks builds the configured sinks; they are closed with the app.
func (a *app) sinks(ctx context.Context) (sink.EventSink, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}

	var out sink.Multi
	for _, kind := range a.cfg.Sink.Kinds {
		switch kind {
		case config.SinkCSV:
			s, err := sink.NewCSVSink(a.cfg.Sink.Dir, loc, logging.NewLogger("sink-csv"))
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		case config.SinkS3:
			s, err := sink.NewS3Sink(ctx, sink.S3Config{
				Bucket:   a.cfg.Sink.S3.Bucket,
				Prefix:   a.cfg.Sink.S3.Prefix,
				Region:   a.cfg.Sink.S3.Region,
				Endpoint: a.cfg.Sink.S3.Endpoint,
			}, logging.NewLogger("sink-s3"))
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		case config.SinkPostgres:
			s, err := sink.NewPostgresSink(ctx, a.cfg.Sink.Postgres.DSN, a.cfg.Sink.Postgres.Table, logging.NewLogger("sink-postgres"))
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, s)
			out = append(out, s)
		default:
			return nil, fmt.Errorf("unknown sink %q", kind)
		}
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
