package stream

import (
	"time"

	"go.uber.org/zap"

	"github.com/perchlabs/perch-client/internal/logger"
)

// ExpiryWorker periodically marks unconfirmed optimistic sends as
// failed. It runs as a background goroutine on a ticker.
type ExpiryWorker struct {
	rec      *Reconciler
	interval time.Duration
	timeout  time.Duration
	stopChan chan struct{}
}

// NewExpiryWorker creates an expiry worker.
// - interval: how often to sweep for stale pending entries
// - timeout: how long a send may stay unconfirmed before failing
func NewExpiryWorker(rec *Reconciler, interval, timeout time.Duration) *ExpiryWorker {
	return &ExpiryWorker{
		rec:      rec,
		interval: interval,
		timeout:  timeout,
		stopChan: make(chan struct{}),
	}
}

// Start begins the sweep loop. This method blocks and should be called
// with 'go'.
func (w *ExpiryWorker) Start() {
	logger.Log.Info("expiry_worker_started",
		zap.Duration("interval", w.interval), zap.Duration("timeout", w.timeout))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.rec.ExpirePending(w.timeout)
		case <-w.stopChan:
			logger.Log.Info("expiry_worker_stopped")
			return
		}
	}
}

// Stop gracefully shuts down the worker.
func (w *ExpiryWorker) Stop() {
	close(w.stopChan)
}
