package barrier

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socketDir returns a short directory; t.TempDir paths can exceed the unix
// socket path limit.
func socketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "bar")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) exec(ctx context.Context, script string) error {
	r.add(script)
	if script == "broken" {
		return errors.New("exit status 1")
	}
	return nil
}

func TestBarrierOrdering(t *testing.T) {
	for _, controllerFirst := range []bool{true, false} {
		name := "participant first"
		if controllerFirst {
			name = "controller first"
		}
		t.Run(name, func(t *testing.T) {
			dir := socketDir(t)
			rec := &recorder{}
			ctrl := NewController(ControllerConfig{
				ServerPath: filepath.Join(dir, "s"),
				ClientPath: filepath.Join(dir, "c"),
				Timeout:    5 * time.Second,
				Pre:        []string{"pre-1", "broken", "pre-2"},
				Post:       []string{"post"},
				Exec:       rec.exec,
			})
			part := &Participant{
				ClientPath:    filepath.Join(dir, "c"),
				ServerPath:    filepath.Join(dir, "s"),
				Timeout:       5 * time.Second,
				TimestampFile: filepath.Join(dir, "time.json"),
			}
			defer part.Close()

			ctx := context.Background()
			done := make(chan error, 1)
			startController := func() { go func() { done <- ctrl.Run(ctx) }() }

			if controllerFirst {
				startController()
			}
			beginErr := make(chan error, 1)
			go func() { beginErr <- part.Begin(ctx) }()
			if !controllerFirst {
				time.Sleep(100 * time.Millisecond)
				startController()
			}

			require.NoError(t, <-beginErr)
			rec.add("begin")
			assert.Equal(t, PreDone, ctrl.State())

			rec.add("work")
			require.NoError(t, part.End(ctx))
			rec.add("end")

			require.NoError(t, <-done)
			assert.Equal(t, PostDone, ctrl.State())
			assert.Equal(t, []string{"pre-1", "broken", "pre-2", "begin", "work", "post", "end"}, rec.list())

			start, end, err := ReadTimestamps(filepath.Join(dir, "time.json"))
			require.NoError(t, err)
			assert.False(t, end.Before(start))

			_, err = os.Stat(filepath.Join(dir, "s"))
			assert.True(t, os.IsNotExist(err), "controller unlinks its path")
		})
	}
}

func TestControllerTimesOut(t *testing.T) {
	dir := socketDir(t)
	ctrl := NewController(ControllerConfig{
		ServerPath: filepath.Join(dir, "s"),
		ClientPath: filepath.Join(dir, "c"),
		Timeout:    100 * time.Millisecond,
	})

	err := ctrl.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyncTimeout)
	assert.Equal(t, WaitingForPeerReady, ctrl.State())
}

func TestControllerTimesOutAfterPre(t *testing.T) {
	dir := socketDir(t)
	ctrl := NewController(ControllerConfig{
		ServerPath: filepath.Join(dir, "s"),
		ClientPath: filepath.Join(dir, "c"),
		Timeout:    300 * time.Millisecond,
		Exec:       (&recorder{}).exec,
	})
	part := &Participant{ClientPath: filepath.Join(dir, "c"), ServerPath: filepath.Join(dir, "s"), Timeout: time.Second}
	defer part.Close()

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()
	require.NoError(t, part.Begin(context.Background()))

	// The participant never reaches End.
	err := <-done
	assert.ErrorIs(t, err, ErrSyncTimeout)
	assert.Equal(t, PreDone, ctrl.State())
}

func TestParticipantWithoutController(t *testing.T) {
	dir := socketDir(t)
	part := &Participant{
		ClientPath: filepath.Join(dir, "c"),
		ServerPath: filepath.Join(dir, "s"),
		Timeout:    100 * time.Millisecond,
	}
	defer part.Close()

	err := part.Begin(context.Background())
	assert.ErrorIs(t, err, ErrSyncTimeout)
	assert.Error(t, part.End(context.Background()))
}

func TestControllerCancelled(t *testing.T) {
	dir := socketDir(t)
	ctrl := NewController(ControllerConfig{
		ServerPath: filepath.Join(dir, "s"),
		ClientPath: filepath.Join(dir, "c"),
		Timeout:    10 * time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("controller ignored cancellation")
	}
}

func TestReadTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "time.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"start": 1000000000, "end": 3500000000}`), 0o644))
	start, end, err := ReadTimestamps(path)
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, end.Sub(start))

	require.NoError(t, os.WriteFile(path, []byte(`{"start": 5, "end": 1}`), 0o644))
	_, _, err = ReadTimestamps(path)
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Unknown", State(9).String())
}
