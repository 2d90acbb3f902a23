package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveBatch(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for debounced batch")
		return nil
	}
}

func assertNoBatch(t *testing.T, d *Debouncer, wait time.Duration) {
	t.Helper()
	select {
	case batch := <-d.Output():
		t.Fatalf("unexpected batch: %v", batch)
	case <-time.After(wait):
	}
}

func TestDebouncerSingleEventPassesThrough(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()

	d.Add(FileEvent{Path: "/docs/note.md", Operation: OpCreate, Timestamp: time.Now()})

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "/docs/note.md", batch[0].Path)
	assert.Equal(t, OpCreate, batch[0].Operation)
}

func TestDebouncerModifyBurstCoalesces(t *testing.T) {
	d := NewDebouncer(50*time.Millisecond, nil)
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Add(FileEvent{Path: "/docs/note.md", Operation: OpModify, Timestamp: time.Now()})
	}

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Operation)
}

func TestDebouncerCreateThenModifyStaysCreate(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()

	d.Add(FileEvent{Path: "/docs/new.md", Operation: OpCreate, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "/docs/new.md", Operation: OpModify, Timestamp: time.Now()})

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpCreate, batch[0].Operation)
}

func TestDebouncerCreateThenDeleteCancelsOut(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()

	d.Add(FileEvent{Path: "/docs/tmp.md", Operation: OpCreate, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "/docs/tmp.md", Operation: OpDelete, Timestamp: time.Now()})

	assertNoBatch(t, d, 100*time.Millisecond)
}

func TestDebouncerDeleteThenCreateBecomesModify(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()

	d.Add(FileEvent{Path: "/docs/swap.md", Operation: OpDelete, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "/docs/swap.md", Operation: OpCreate, Timestamp: time.Now()})

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Operation)
}

func TestDebouncerModifyThenDeleteBecomesDelete(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()

	d.Add(FileEvent{Path: "/docs/gone.md", Operation: OpModify, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "/docs/gone.md", Operation: OpDelete, Timestamp: time.Now()})

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpDelete, batch[0].Operation)
}

func TestDebouncerDistinctPathsShareBatch(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, nil)
	defer d.Stop()

	d.Add(FileEvent{Path: "/docs/a.md", Operation: OpCreate, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "/docs/b.md", Operation: OpModify, Timestamp: time.Now()})

	batch := receiveBatch(t, d)
	require.Len(t, batch, 2)

	paths := map[string]Operation{}
	for _, ev := range batch {
		paths[ev.Path] = ev.Operation
	}
	assert.Equal(t, OpCreate, paths["/docs/a.md"])
	assert.Equal(t, OpModify, paths["/docs/b.md"])
}

func TestDebouncerStopIsIdempotent(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, nil)
	d.Stop()
	d.Stop()

	// Adds after Stop are dropped without panicking.
	d.Add(FileEvent{Path: "/docs/late.md", Operation: OpCreate, Timestamp: time.Now()})

	_, open := <-d.Output()
	assert.False(t, open)
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "MODIFY", OpModify.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "UNKNOWN", Operation(99).String())
}
