package relation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeRelationFile(t *testing.T, path string, contents string) {
	t.Helper()
	// Write to a temporary name and rename, mimicking how the platform
	// replaces relation data atomically.
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(contents), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func nextChange(t *testing.T, w *Watcher) Config {
	t.Helper()
	select {
	case cfg, ok := <-w.Changes():
		require.True(t, ok, "watcher closed unexpectedly")
		return cfg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a relation config")
		return Config{}
	}
}

func expectNoChange(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case cfg := <-w.Changes():
		t.Fatalf("unexpected relation config delivered: %+v", cfg)
	case <-time.After(250 * time.Millisecond):
	}
}

func TestWatcherDeliversInitialConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relation.yaml")
	writeRelationFile(t, path, "endpoints: 10.0.0.1:3306\nusername: u\npassword: p\ndatabase: d\n")

	w, err := NewWatcher(zaptest.NewLogger(t), path, "")
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	cfg := nextChange(t, w)
	assert.Equal(t, "10.0.0.1", cfg.Host)
}

func TestWatcherDeliversOnRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relation.yaml")

	w, err := NewWatcher(zaptest.NewLogger(t), path, "")
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	writeRelationFile(t, path, "endpoints: 10.0.0.1:3306\nusername: u\npassword: old\ndatabase: d\n")
	first := nextChange(t, w)
	assert.Equal(t, "old", first.Password)

	writeRelationFile(t, path, "endpoints: 10.0.0.1:3306\nusername: u\npassword: new\ndatabase: d\n")
	second := nextChange(t, w)
	assert.Equal(t, "new", second.Password)
}

func TestWatcherSuppressesUnchangedData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relation.yaml")
	contents := "endpoints: 10.0.0.1:3306\nusername: u\npassword: p\ndatabase: d\n"
	writeRelationFile(t, path, contents)

	w, err := NewWatcher(zaptest.NewLogger(t), path, "")
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	nextChange(t, w)
	writeRelationFile(t, path, contents)
	expectNoChange(t, w)
}

func TestWatcherIgnoresIncompleteData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relation.yaml")

	w, err := NewWatcher(zaptest.NewLogger(t), path, "")
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	writeRelationFile(t, path, "endpoints: 10.0.0.1:3306\ndatabase: d\n")
	expectNoChange(t, w)

	// Once the remaining keys are published the config goes through.
	writeRelationFile(t, path, "endpoints: 10.0.0.1:3306\nusername: u\npassword: p\ndatabase: d\n")
	cfg := nextChange(t, w)
	assert.Equal(t, "u", cfg.Username)
}

func TestWatcherCloseClosesChanges(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(zaptest.NewLogger(t), filepath.Join(dir, "relation.yaml"), "")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	select {
	case _, ok := <-w.Changes():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Changes to close")
	}
}
