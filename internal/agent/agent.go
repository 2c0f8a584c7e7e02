// Package agent wires the relation watcher, the continuous write driver and
// the operator action API into one long-running process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/juju/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shayancanonical/mysql-test-app/internal/relation"
	"github.com/shayancanonical/mysql-test-app/internal/store"
	"github.com/shayancanonical/mysql-test-app/internal/util"
	"github.com/shayancanonical/mysql-test-app/internal/writer"
)

// Config holds the process configuration. Every field can be supplied via the
// environment; the CLI layers flag overrides on top.
type Config struct {
	// ListenAddress is where the action API is served.
	ListenAddress string `env:"MYSQL_TEST_APP_LISTEN_ADDRESS" envDefault:"127.0.0.1:8474"`
	// RelationFile is the file the platform writes relation data to.
	RelationFile string `env:"MYSQL_TEST_APP_RELATION_FILE" envDefault:"/var/lib/mysql-test-app/relation.yaml"`
	// LegacyDatabase names the database to use with the legacy mysql
	// interface, which does not publish a database name itself.
	LegacyDatabase string `env:"MYSQL_TEST_APP_LEGACY_DATABASE"`
	// WriteInterval is the default cadence of the continuous writes.
	WriteInterval time.Duration `env:"MYSQL_TEST_APP_WRITE_INTERVAL" envDefault:"1s"`
}

// ConfigFromEnv reads the agent configuration from the environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Store combines the driver's view of the database with the extra operations
// the random value actions need. *store.Store satisfies it.
type Store interface {
	writer.Store
	InsertRandomValue(ctx context.Context, value string) error
}

// StoreOpener opens a connection to the database described by cfg.
type StoreOpener func(ctx context.Context, cfg relation.Config) (Store, error)

func openStore(ctx context.Context, cfg relation.Config) (Store, error) {
	return store.Open(ctx, cfg)
}

// App states reported by the get-state action.
const (
	StateWaitingForDatabase = "waiting-for-database"
	StateReady              = "ready"
	StateWriting            = "writing"
)

// Agent owns the single write driver of the process and answers operator
// actions for it.
type Agent struct {
	logger *zap.Logger
	cfg    Config
	open   StoreOpener
	driver *writer.Driver

	mu          sync.Mutex
	randomValue string
}

// Option adjusts how an Agent is constructed.
type Option func(*options)

type options struct {
	open  StoreOpener
	clock clock.Clock
}

// WithStoreOpener substitutes the database layer, used by tests.
func WithStoreOpener(open StoreOpener) Option {
	return func(o *options) { o.open = open }
}

// WithClock substitutes the clock driving the write loop, used by tests.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// New returns an agent in the waiting-for-database state.
func New(logger *zap.Logger, cfg Config, opts ...Option) *Agent {
	o := options{open: openStore, clock: clock.WallClock}
	for _, opt := range opts {
		opt(&o)
	}

	a := &Agent{
		logger: logger,
		cfg:    cfg,
		open:   o.open,
	}
	a.driver = writer.NewDriver(
		logger.With(zap.String("component", "writer")),
		o.clock,
		func(ctx context.Context, rcfg relation.Config) (writer.Store, error) {
			return o.open(ctx, rcfg)
		},
	)
	return a
}

// Run serves the action API and applies relation data changes until ctx is
// cancelled. A running write loop is stopped on the way out.
func (a *Agent) Run(ctx context.Context) error {
	watcher, err := relation.NewWatcher(
		a.logger.With(zap.String("component", "relation")),
		a.cfg.RelationFile, a.cfg.LegacyDatabase)
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	srv := &http.Server{
		Addr:    a.cfg.ListenAddress,
		Handler: a.Router(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("serving action API", zap.String("address", a.cfg.ListenAddress))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case rcfg, ok := <-watcher.Changes():
				if !ok {
					return nil
				}
				a.ApplyRelationData(gctx, rcfg)
			}
		}
	})

	err = g.Wait()

	if _, stopErr := a.driver.Stop(); stopErr != nil && !errors.Is(stopErr, writer.ErrNotRunning) {
		a.logger.Error("failed to stop continuous writes on shutdown", zap.Error(stopErr))
	}
	return err
}

// ApplyRelationData hands a new relation data snapshot to the driver. While
// the write loop is running this reconnects it without resetting its counter.
func (a *Agent) ApplyRelationData(ctx context.Context, rcfg relation.Config) {
	if err := a.driver.Reconfigure(ctx, rcfg); err != nil {
		a.logger.Error("failed to apply relation data", zap.Error(err))
	}
}

// StateName reports the application state for the get-state action.
func (a *Agent) StateName() string {
	switch {
	case a.driver.State() != writer.Stopped:
		return StateWriting
	case a.driver.HasConfig():
		return StateReady
	default:
		return StateWaitingForDatabase
	}
}

// WriteRandomValue writes a fresh 10 character random string to the random
// data table and remembers it for get-inserted-data.
func (a *Agent) WriteRandomValue(ctx context.Context) (string, error) {
	rcfg, err := a.driver.Config()
	if err != nil {
		return "", err
	}

	st, err := a.open(ctx, rcfg)
	if err != nil {
		return "", err
	}
	defer func() { _ = st.Close() }()

	if err := st.EnsureSchema(ctx); err != nil {
		return "", err
	}

	value := util.RandomString(10)
	if err := st.InsertRandomValue(ctx, value); err != nil {
		return "", err
	}

	a.mu.Lock()
	a.randomValue = value
	a.mu.Unlock()
	return value, nil
}

// InsertedData returns the last value written by WriteRandomValue, or "empty"
// if none was written since process start.
func (a *Agent) InsertedData() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.randomValue == "" {
		return "empty"
	}
	return a.randomValue
}
