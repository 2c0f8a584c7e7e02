// Package writer implements the continuous writes workload: a single periodic
// loop inserting monotonically increasing numbers to prove that the related
// database service stays available across failovers and topology changes.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
	"gopkg.in/tomb.v2"

	"github.com/shayancanonical/mysql-test-app/internal/relation"
)

// State of the continuous write driver.
type State string

const (
	Stopped  State = "stopped"
	Starting State = "starting"
	Running  State = "running"
	Stopping State = "stopping"
)

var (
	// ErrAlreadyRunning is returned by Start while a write loop is active.
	ErrAlreadyRunning = errors.New("continuous writes are already running")
	// ErrNotRunning is returned by Stop when no write loop is active.
	ErrNotRunning = errors.New("continuous writes are not running")
	// ErrRunning rejects operations that are only valid while stopped.
	ErrRunning = errors.New("continuous writes are running")
	// ErrNoConfig is returned while no database relation data is available.
	ErrNoConfig = errors.New("no database relation data available")
)

// Store is the slice of the database layer the driver needs. *store.Store
// satisfies it; tests substitute a fake.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, number int64) error
	MaxNumber(ctx context.Context) (int64, error)
	CountRows(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
	Close() error
}

// OpenStoreFunc opens a connection to the database described by cfg.
type OpenStoreFunc func(ctx context.Context, cfg relation.Config) (Store, error)

const insertTimeout = 30 * time.Second

// Driver owns the single write loop of this process together with the last
// written value and the connection the loop writes through. All methods are
// safe for concurrent use; the loop performs its I/O without holding the lock
// so that queries and stop requests never wait on an in-flight insert.
type Driver struct {
	logger *zap.Logger
	clock  clock.Clock
	open   OpenStoreFunc

	mu          sync.Mutex
	state       State
	cfg         relation.Config
	haveCfg     bool
	interval    time.Duration
	lastWritten int64
	failures    int64
	store       Store
	tomb        *tomb.Tomb
}

// NewDriver returns a stopped driver without relation data.
func NewDriver(logger *zap.Logger, clk clock.Clock, open OpenStoreFunc) *Driver {
	return &Driver{
		logger: logger,
		clock:  clk,
		open:   open,
		state:  Stopped,
	}
}

// Start begins the continuous write loop with one insert per interval. The
// counter is seeded from MAX(number) so that a restarted process continues
// where its predecessor left off instead of assuming zero.
func (d *Driver) Start(ctx context.Context, interval time.Duration) error {
	return d.start(ctx, interval, true)
}

func (d *Driver) start(ctx context.Context, interval time.Duration, deriveCounter bool) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %v: must be positive", interval)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != Stopped {
		return ErrAlreadyRunning
	}
	if !d.haveCfg {
		return ErrNoConfig
	}
	d.state = Starting

	st, err := d.open(ctx, d.cfg)
	if err != nil {
		d.state = Stopped
		return err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		d.state = Stopped
		return err
	}
	if deriveCounter {
		max, err := st.MaxNumber(ctx)
		if err != nil {
			_ = st.Close()
			d.state = Stopped
			return err
		}
		d.lastWritten = max
	}

	d.interval = interval
	d.store = st
	d.tomb = &tomb.Tomb{}
	d.state = Running

	t := d.tomb
	t.Go(func() error {
		d.loop(t, interval)
		return nil
	})

	d.logger.Info("started continuous writes",
		zap.Duration("interval", interval),
		zap.Int64("last-written-value", d.lastWritten))
	return nil
}

// Stop signals the loop to exit, waits for the in-flight tick to complete,
// closes the connection and returns the last written value.
func (d *Driver) Stop() (int64, error) {
	d.mu.Lock()
	if d.state != Running {
		d.mu.Unlock()
		return 0, ErrNotRunning
	}
	d.state = Stopping
	t := d.tomb
	d.mu.Unlock()

	t.Kill(nil)
	_ = t.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("failed to close connection", zap.Error(err))
		}
		d.store = nil
	}
	d.tomb = nil
	d.state = Stopped

	d.logger.Info("stopped continuous writes", zap.Int64("last-written-value", d.lastWritten))
	return d.lastWritten, nil
}

// Reconfigure installs new relation data. While the loop is running this is a
// graceful reconnect: the loop is paused, the old connection closed, a new one
// opened against the new endpoint and the loop resumed with its counter
// intact.
func (d *Driver) Reconfigure(ctx context.Context, cfg relation.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	running := d.state == Running
	interval := d.interval
	if !running {
		d.cfg = cfg
		d.haveCfg = true
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if _, err := d.Stop(); err != nil {
		if !errors.Is(err, ErrNotRunning) {
			return err
		}
	}

	d.mu.Lock()
	d.cfg = cfg
	d.haveCfg = true
	d.mu.Unlock()

	if err := d.start(ctx, interval, false); err != nil {
		return fmt.Errorf("failed to resume continuous writes with new relation data: %w", err)
	}
	return nil
}

// Clear deletes all written rows and resets the counter to zero. Rejected
// while the loop is running.
func (d *Driver) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != Stopped {
		return ErrRunning
	}
	if !d.haveCfg {
		return ErrNoConfig
	}

	st, err := d.open(ctx, d.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := st.Clear(ctx); err != nil {
		return err
	}
	d.lastWritten = 0
	return nil
}

// LastWritten returns the value the driver believes it last wrote. This is
// process memory, not a query, so it answers even while the connection is
// degraded.
func (d *Driver) LastWritten() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastWritten
}

// CountRows queries the number of rows currently in the table over a fresh
// connection.
func (d *Driver) CountRows(ctx context.Context) (int64, error) {
	st, err := d.openConfigured(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = st.Close() }()
	return st.CountRows(ctx)
}

// MaxWritten queries MAX(number) over a fresh connection.
func (d *Driver) MaxWritten(ctx context.Context) (int64, error) {
	st, err := d.openConfigured(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = st.Close() }()
	return st.MaxNumber(ctx)
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// HasConfig reports whether relation data has been delivered.
func (d *Driver) HasConfig() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.haveCfg
}

// Config returns the current relation data snapshot.
func (d *Driver) Config() (relation.Config, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.haveCfg {
		return relation.Config{}, ErrNoConfig
	}
	return d.cfg, nil
}

// Failures returns the number of failed inserts and reconnect attempts since
// process start.
func (d *Driver) Failures() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures
}

func (d *Driver) openConfigured(ctx context.Context) (Store, error) {
	d.mu.Lock()
	if !d.haveCfg {
		d.mu.Unlock()
		return nil, ErrNoConfig
	}
	cfg := d.cfg
	d.mu.Unlock()
	return d.open(ctx, cfg)
}

func (d *Driver) loop(t *tomb.Tomb, interval time.Duration) {
	for {
		select {
		case <-t.Dying():
			return
		case <-d.clock.After(interval):
		}
		d.writeNext(t)
	}
}

// writeNext performs one tick: insert lastWritten+1 and advance the counter on
// confirmed success only. A failed insert is never retried within its own
// tick; the connection is re-established and the same value is written on the
// next tick, so the sequence has no gaps and no duplicates.
func (d *Driver) writeNext(t *tomb.Tomb) {
	d.mu.Lock()
	st := d.store
	next := d.lastWritten + 1
	cfg := d.cfg
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if st == nil {
		newStore, err := d.reconnect(ctx, cfg)
		if err != nil {
			d.noteFailure("failed to reconnect", err)
			return
		}
		d.mu.Lock()
		if d.tomb != t {
			// The driver was stopped while we were connecting.
			d.mu.Unlock()
			_ = newStore.Close()
			return
		}
		d.store = newStore
		d.mu.Unlock()
		st = newStore
	}

	if err := st.Insert(ctx, next); err != nil {
		d.noteFailure("insert failed", err, zap.Int64("number", next))
		_ = st.Close()
		d.mu.Lock()
		if d.store == st {
			d.store = nil
		}
		d.mu.Unlock()
		return
	}

	d.mu.Lock()
	d.lastWritten = next
	d.mu.Unlock()
}

func (d *Driver) reconnect(ctx context.Context, cfg relation.Config) (Store, error) {
	st, err := d.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func (d *Driver) noteFailure(msg string, err error, fields ...zap.Field) {
	d.mu.Lock()
	d.failures++
	d.mu.Unlock()
	d.logger.Warn(msg, append(fields, zap.Error(err))...)
}
