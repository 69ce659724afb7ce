package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanupList_ReverseOrderAndContinues(t *testing.T) {
	var order []string
	l := &cleanupList{}
	for _, name := range []string{"dirs", "observer", "server", "client"} {
		l.push(name, func(context.Context) error {
			order = append(order, name)
			if name == "server" {
				return errors.New("already gone")
			}
			return nil
		})
	}

	mark := 2
	l.unwind(context.Background(), mark)
	assert.Equal(t, []string{"client", "server"}, order)
	assert.Equal(t, mark, l.mark())

	l.run(context.Background())
	assert.Equal(t, []string{"client", "server", "observer", "dirs"}, order)
	assert.Equal(t, 0, l.mark())
}
