package runner

import (
	"context"

	"quicinterop/pkg/logging"
)

type cleanupEntry struct {
	name string
	fn   func(ctx context.Context) error
}

// cleanupList releases a cell's resources in reverse acquisition order.
// Entries are pushed as soon as a resource exists, so a failure in any
// phase still releases everything acquired before it.
type cleanupList struct {
	entries []cleanupEntry
}

func (l *cleanupList) push(name string, fn func(ctx context.Context) error) {
	l.entries = append(l.entries, cleanupEntry{name: name, fn: fn})
}

// mark returns a position that unwind can return to.
func (l *cleanupList) mark() int { return len(l.entries) }

// unwind runs and removes every entry pushed after mark, newest first.
// Failures are logged and do not stop the remaining entries.
func (l *cleanupList) unwind(ctx context.Context, mark int) {
	for len(l.entries) > mark {
		e := l.entries[len(l.entries)-1]
		l.entries = l.entries[:len(l.entries)-1]
		if err := e.fn(ctx); err != nil {
			logging.Warn("Runner", "Cleanup %s failed: %v", e.name, err)
		}
	}
}

// run releases everything.
func (l *cleanupList) run(ctx context.Context) { l.unwind(ctx, 0) }
