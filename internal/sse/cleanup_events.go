package sse

import (
	"context"
	"sync"

	"ms-payments/internal/models"
)

const clientBuffer = 10

// CleanupEventEmitter fans finished cleanup runs out to connected operator
// streams. Slow clients miss runs instead of stalling the scheduler.
type CleanupEventEmitter struct {
	mu      sync.RWMutex
	clients map[chan models.CleanupRunResult]struct{}
}

func NewCleanupEventEmitter() *CleanupEventEmitter {
	return &CleanupEventEmitter{
		clients: make(map[chan models.CleanupRunResult]struct{}),
	}
}

// Subscribe returns a channel that is closed once ctx is done.
func (e *CleanupEventEmitter) Subscribe(ctx context.Context) <-chan models.CleanupRunResult {
	ch := make(chan models.CleanupRunResult, clientBuffer)

	e.mu.Lock()
	e.clients[ch] = struct{}{}
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(ch)
	}()

	return ch
}

// PublishCleanupRun never fails; it satisfies the scheduler's reporter hook.
func (e *CleanupEventEmitter) PublishCleanupRun(ctx context.Context, result models.CleanupRunResult) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for ch := range e.clients {
		select {
		case ch <- result:
		default:
		}
	}
	return nil
}

func (e *CleanupEventEmitter) remove(ch chan models.CleanupRunResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.clients[ch]; ok {
		delete(e.clients, ch)
		close(ch)
	}
}

func (e *CleanupEventEmitter) ClientCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients)
}
