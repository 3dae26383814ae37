package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/csps/CSPS-redesign-backend-sub001/internal/auth"
)

func TestDispatcherWritesEveryAcceptedRecord(t *testing.T) {
	for round := 0; round < 50; round++ {
		var written atomic.Int64
		d := newDispatcher(4, func(context.Context, *auth.AuditRecord) {
			written.Add(1)
		})

		var (
			wg       sync.WaitGroup
			accepted atomic.Int64
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					if d.enqueue(context.Background(), &auth.AuditRecord{}) {
						accepted.Add(1)
					}
				}
			}()
		}
		d.close()
		wg.Wait()

		require.Equal(t, accepted.Load(), written.Load(), "round %d", round)
		require.False(t, d.enqueue(context.Background(), &auth.AuditRecord{}))
	}
}

func TestDispatcherEnqueueHonoursContext(t *testing.T) {
	block := make(chan struct{})
	d := newDispatcher(1, func(context.Context, *auth.AuditRecord) { <-block })

	// the first record parks the writer, the second fills the buffer
	require.True(t, d.enqueue(context.Background(), &auth.AuditRecord{}))
	require.True(t, d.enqueue(context.Background(), &auth.AuditRecord{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, d.enqueue(ctx, &auth.AuditRecord{}))

	close(block)
	d.close()
}
