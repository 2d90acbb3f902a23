package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enginerr "github.com/docseek/docseek/internal/errors"
	"github.com/docseek/docseek/internal/scheduler"
)

// fakeSubmitter records submissions and can reject the first n of them.
type fakeSubmitter struct {
	mu        sync.Mutex
	calls     []string
	rejectErr error
	rejectN   int
}

func (f *fakeSubmitter) Submit(targetPath string, kind scheduler.Kind) (*scheduler.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rejectN > 0 {
		f.rejectN--
		return nil, f.rejectErr
	}
	f.calls = append(f.calls, targetPath)
	return &scheduler.Descriptor{
		JobID:      "job-1",
		TargetPath: targetPath,
		Kind:       kind,
		State:      scheduler.StateQueued,
	}, nil
}

func (f *fakeSubmitter) submissions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestWatcher(t *testing.T, sub Submitter) *Watcher {
	t.Helper()
	w, err := New(Options{
		DebounceWindow: 30 * time.Millisecond,
		RetryInterval:  20 * time.Millisecond,
	}, sub)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestWatcherFileWriteSubmitsIncrementalJob(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	w := newTestWatcher(t, sub)
	require.NoError(t, w.Watch(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.md"), []byte("# Note"), 0o644))

	require.Eventually(t, func() bool {
		return len(sub.submissions()) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	resolved, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved, sub.submissions()[0])
}

func TestWatcherBurstYieldsSingleSubmission(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	w := newTestWatcher(t, sub)
	require.NoError(t, w.Watch(dir))

	path := filepath.Join(dir, "note.md")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("draft"), 0o644))
	}

	require.Eventually(t, func() bool {
		return len(sub.submissions()) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	// The burst lands inside one debounce window, one job covers it.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, sub.submissions(), 1)
}

func TestWatcherRejectedSubmissionIsRetried(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{
		rejectErr: enginerr.DuplicateJobError(dir),
		rejectN:   2,
	}
	w := newTestWatcher(t, sub)
	require.NoError(t, w.Watch(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.md"), []byte("hello"), 0o644))

	// The first attempts are rejected; the retry ticker keeps the root
	// parked until the scheduler admits it.
	require.Eventually(t, func() bool {
		return len(sub.submissions()) >= 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherNewSubdirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	w := newTestWatcher(t, sub)
	require.NoError(t, w.Watch(dir))

	sub.mu.Lock()
	sub.calls = nil
	sub.mu.Unlock()

	nested := filepath.Join(dir, "chapter")
	require.NoError(t, os.Mkdir(nested, 0o755))

	// Give the create event time to register the new directory.
	require.Eventually(t, func() bool {
		require.NoError(t, os.WriteFile(filepath.Join(nested, "page.md"), []byte("text"), 0o644))
		return len(sub.submissions()) >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatcherUnwatchStopsSubmissions(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	w := newTestWatcher(t, sub)
	require.NoError(t, w.Watch(dir))
	require.NoError(t, w.Unwatch(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.md"), []byte("hello"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, sub.submissions())
}

func TestWatcherIgnoresDotfilesAndExcludedNames(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	w, err := New(Options{
		DebounceWindow: 30 * time.Millisecond,
		RetryInterval:  20 * time.Millisecond,
		Exclude:        []string{"*.tmp"},
	}, sub)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	require.NoError(t, w.Watch(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.tmp"), []byte("x"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, sub.submissions())
}

func TestWatcherWatchRejectsMissingPath(t *testing.T) {
	sub := &fakeSubmitter{}
	w := newTestWatcher(t, sub)

	err := w.Watch(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, enginerr.ErrCodeFileNotFound, enginerr.GetCode(err))
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	sub := &fakeSubmitter{}
	w, err := New(Options{}, sub)
	require.NoError(t, err)
	require.NoError(t, w.Start())

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
