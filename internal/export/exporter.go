// Package export ships published recommendation sets to an external webhook
// in batches, for dashboards or downstream audit storage. Export is
// best-effort: a failed delivery is logged and retried on the next flush
// with whatever accumulated since, never blocking the engine.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls the exporter.
type Config struct {
	WebhookURL    string
	WebhookAPIKey string
	BatchSize     int
	FlushInterval time.Duration
}

// Exporter batches payloads and flushes them on an interval or when the
// batch fills up.
type Exporter struct {
	config     Config
	httpClient *http.Client
	log        *logrus.Entry

	mu    sync.Mutex
	batch []interface{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New validates the config and builds an exporter.
func New(cfg Config) (*Exporter, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}

	return &Exporter{
		config:     cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logrus.WithField("component", "exporter"),
		done:       make(chan struct{}),
	}, nil
}

// Start launches the periodic flush loop.
func (e *Exporter) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.config.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.flush(ctx)
			case <-ctx.Done():
				// Final best-effort flush on shutdown.
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				e.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
}

// Stop flushes remaining payloads and stops the loop.
func (e *Exporter) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

// Add queues one payload for export. When the batch is full it is flushed
// inline.
func (e *Exporter) Add(payload interface{}) {
	e.mu.Lock()
	e.batch = append(e.batch, payload)
	full := len(e.batch) >= e.config.BatchSize
	e.mu.Unlock()

	if full {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.flush(ctx)
	}
}

func (e *Exporter) flush(ctx context.Context) {
	e.mu.Lock()
	if len(e.batch) == 0 {
		e.mu.Unlock()
		return
	}
	batch := e.batch
	e.batch = nil
	e.mu.Unlock()

	body, err := json.Marshal(map[string]interface{}{
		"exported_at": time.Now().Unix(),
		"count":       len(batch),
		"payloads":    batch,
	})
	if err != nil {
		e.log.WithError(err).Error("failed to encode export batch")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		e.log.WithError(err).Error("failed to build export request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.WebhookAPIKey != "" {
		req.Header.Set("X-API-Key", e.config.WebhookAPIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.requeue(batch)
		e.log.WithError(err).Warn("export delivery failed, will retry")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		e.requeue(batch)
		e.log.WithField("status", resp.StatusCode).Warn("export rejected, will retry")
		return
	}
	e.log.WithField("count", len(batch)).Debug("export batch delivered")
}

// requeue puts failed payloads back, bounded so a dead webhook cannot grow
// memory without limit.
func (e *Exporter) requeue(batch []interface{}) {
	const maxBuffered = 1000
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batch = append(batch, e.batch...)
	if len(e.batch) > maxBuffered {
		e.batch = e.batch[len(e.batch)-maxBuffered:]
	}
}
