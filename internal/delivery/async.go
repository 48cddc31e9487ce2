package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/angelmondragon/shopbot-backend/pkg/logger"
)

// AsyncDispatcher runs deliveries in the background after the purchase
// response is sent. When all slots are busy the purchase stays pending and
// the sweeper picks it up.
type AsyncDispatcher struct {
	dispatcher *Dispatcher
	sem        *semaphore.Weighted
	timeout    time.Duration
	logg       *logger.Logger
	mu         sync.Mutex
	wg         sync.WaitGroup
	closed     bool
}

func NewAsyncDispatcher(dispatcher *Dispatcher, concurrency int, timeout time.Duration, logg *logger.Logger) (*AsyncDispatcher, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &AsyncDispatcher{
		dispatcher: dispatcher,
		sem:        semaphore.NewWeighted(int64(concurrency)),
		timeout:    timeout,
		logg:       logg,
	}, nil
}

// Enqueue starts delivery without blocking. It reports false when the
// dispatcher is saturated or shutting down.
func (a *AsyncDispatcher) Enqueue(purchaseID uuid.UUID) bool {
	a.mu.Lock()
	if a.closed || !a.sem.TryAcquire(1) {
		a.mu.Unlock()
		return false
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		defer a.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		ctx = a.logg.WithPurchaseID(ctx, purchaseID.String())

		if _, err := a.dispatcher.Deliver(ctx, purchaseID, DeliverOptions{}); err != nil {
			a.logg.Warn(ctx, fmt.Sprintf("background delivery did not complete: %v", err))
		}
	}()
	return true
}

// Shutdown stops accepting work and waits for in-flight deliveries.
func (a *AsyncDispatcher) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
