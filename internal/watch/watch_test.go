package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu    sync.Mutex
	calls [][]string
	fired chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 16)}
}

func (r *recorder) handle(_ context.Context, changed []string) {
	r.mu.Lock()
	r.calls = append(r.calls, changed)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func startWatcher(t *testing.T, paths []string) (*recorder, context.CancelFunc, chan error) {
	t.Helper()
	w, err := New(paths, zaptest.NewLogger(t))
	require.NoError(t, err)
	w.SetDebounce(50 * time.Millisecond)

	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, rec.handle) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return rec, cancel, done
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcher_DebouncesScenarioChanges(t *testing.T) {
	dir := t.TempDir()
	rec, _, _ := startWatcher(t, []string{dir})

	target := filepath.Join(dir, "login.yaml")
	for i := 0; i < 3; i++ {
		writeFile(t, target, "name: login\n")
	}

	select {
	case <-rec.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}

	// No further calls once the burst settles.
	select {
	case <-rec.fired:
		t.Fatal("burst of writes should trigger a single run")
	case <-time.After(200 * time.Millisecond):
	}

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{target}, calls[0])
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	rec, _, _ := startWatcher(t, []string{dir})

	writeFile(t, filepath.Join(dir, "notes.txt"), "hello")
	writeFile(t, filepath.Join(dir, "README.md"), "# hi")

	select {
	case <-rec.fired:
		t.Fatal("non-scenario files must not trigger a run")
	case <-time.After(300 * time.Millisecond):
	}
	assert.Empty(t, rec.snapshot())
}

func TestWatcher_ExplicitFileIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "checkout.json")
	writeFile(t, target, `{"name":"checkout"}`)

	rec, _, _ := startWatcher(t, []string{target})

	writeFile(t, filepath.Join(dir, "other.yaml"), "name: other\n")
	select {
	case <-rec.fired:
		t.Fatal("sibling of a watched file must not trigger a run")
	case <-time.After(300 * time.Millisecond):
	}

	writeFile(t, target, `{"name":"checkout v2"}`)
	select {
	case <-rec.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called for the watched file")
	}
	assert.Equal(t, [][]string{{target}}, rec.snapshot())
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	dir := t.TempDir()
	rec, _, _ := startWatcher(t, []string{dir})

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a moment to register the new directory.
	time.Sleep(100 * time.Millisecond)

	target := filepath.Join(sub, "deep.yml")
	writeFile(t, target, "name: deep\n")

	select {
	case <-rec.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called for a file in a new directory")
	}
	assert.Contains(t, rec.snapshot()[0], target)
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	_, cancel, done := startWatcher(t, []string{dir})

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
		done <- nil // let the cleanup drain
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestNew_MissingPath(t *testing.T) {
	_, err := New([]string{filepath.Join(t.TempDir(), "missing")}, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "failed to watch")
}
