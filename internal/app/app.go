package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/auth"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/config"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/core"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/execengine/piston"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/metrics"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/session"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/store"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/store/sqlite"
	transporthttp "github.com/lakshmih20/S3-CodeCollab-2025/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	cfg             *config.Config
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.UserStore
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}
	accounts := auth.NewService(st, jwtConfig)

	verifierCfg := auth.VerifierConfig{
		Secret:         cfg.JWTSecret,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
		AllowDevTokens: cfg.AllowDevTokens,
	}
	if cfg.FirebaseAdminKey != "" {
		federated, err := auth.NewFederatedVerifier(cfg.FirebaseAdminKey)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init federated verifier: %w", err)
		}
		verifierCfg.Federated = federated
		logger.Info().Msg("federated token verification enabled")
	}
	verifier := auth.NewVerifier(verifierCfg)

	registry := session.NewRegistry(session.RegistryConfig{
		MaxUsers:    cfg.MaxUsersPerSession,
		AllowGuests: cfg.AllowGuestsDefault,
		EmptyTTL:    cfg.EmptySessionTTL,
	}, logger)
	hub := core.NewHub(logger)
	limiter := core.NewIPRateLimiter(cfg.RateLimitMaxConns, cfg.RateLimitWindow)
	engine := piston.New(cfg.PistonAPIURL, cfg.ExecutionTimeout, logger)

	// The emit callback closes over router, assigned right below; the
	// ticker cannot fire before the first Subscribe.
	var router *core.Router
	ticker := metrics.NewTicker(metrics.DefaultInterval, registry, func(sessionID string, snap metrics.Snapshot) {
		router.BroadcastMetrics(sessionID, snap)
	}, logger)
	router = core.NewRouter(hub, registry, engine, ticker, logger)

	server := transporthttp.NewServer(transporthttp.Deps{
		Hub:      hub,
		Router:   router,
		Registry: registry,
		Verifier: verifier,
		Accounts: accounts,
		Engine:   engine,
		Limiter:  limiter,
	}, cfg, logger)

	return &App{
		cfg:             cfg,
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	ln, port, err := a.listen()
	if err != nil {
		a.cleanup()
		return err
	}
	a.log.Info().Int("port", port).Str("addr", a.cfg.Addr(port)).Msg("server listening")

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// listen binds the first free port of the probe range.
func (a *App) listen() (net.Listener, int, error) {
	for i := 0; i <= a.cfg.PortProbe; i++ {
		port := a.cfg.Port + i
		ln, err := net.Listen("tcp", a.cfg.Addr(port))
		if err != nil {
			a.log.Warn().Int("port", port).Err(err).Msg("port unavailable, trying next")
			continue
		}
		return ln, port, nil
	}
	return nil, 0, fmt.Errorf("no free port in %d..%d", a.cfg.Port, a.cfg.Port+a.cfg.PortProbe)
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
