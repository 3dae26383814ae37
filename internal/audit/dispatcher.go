package audit

import (
	"context"
	"sync"

	"github.com/csps/CSPS-redesign-backend-sub001/internal/auth"
)

// dispatcher moves audit records off the request goroutine.
type dispatcher struct {
	write     func(context.Context, *auth.AuditRecord)
	ch        chan *auth.AuditRecord
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	// mu orders sends against close: once closed is set under the write
	// lock no send can start, and every earlier send is drained by run.
	mu     sync.RWMutex
	closed bool
}

func newDispatcher(buffer int, write func(context.Context, *auth.AuditRecord)) *dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	d := &dispatcher{
		write: write,
		ch:    make(chan *auth.AuditRecord, buffer),
		done:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case rec := <-d.ch:
			d.write(context.Background(), rec)
		case <-d.done:
			for {
				select {
				case rec := <-d.ch:
					d.write(context.Background(), rec)
				default:
					return
				}
			}
		}
	}
}

// enqueue blocks until the record is buffered or ctx ends, and reports
// whether the record was accepted. It never accepts after close.
func (d *dispatcher) enqueue(ctx context.Context, rec *auth.AuditRecord) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.ch <- rec:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *dispatcher) close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.done)
		d.mu.Unlock()
		d.wg.Wait()
	})
}
