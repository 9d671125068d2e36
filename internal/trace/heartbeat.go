package trace

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Heartbeat emits periodic liveness events while a build runs. When
// heartbeats continue but no span ends, the front-end is stuck in a chunk.
type Heartbeat struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StartHeartbeat starts emitting heartbeats every interval until Stop is
// called or ctx is done. It returns nil when tracing is off.
func StartHeartbeat(ctx context.Context, tracer Tracer, interval time.Duration) *Heartbeat {
	if tracer == nil || !tracer.Enabled() || interval <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Heartbeat{cancel: cancel}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var n uint64
		for {
			select {
			case <-ticker.C:
				n++
				tracer.Emit(&Event{
					Time:   time.Now(),
					Seq:    NextSeq(),
					Kind:   KindHeartbeat,
					Scope:  ScopeDriver,
					GID:    getGoroutineID(),
					Name:   "heartbeat",
					Detail: "#" + strconv.FormatUint(n, 10),
				})
			case <-ctx.Done():
				return
			}
		}
	}()
	return h
}

// Stop halts the heartbeat goroutine and waits for it to exit.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.cancel()
	h.wg.Wait()
}
