package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/docmap/core/events"
	"github.com/artpar/docmap/core/storage"
)

// Journal buffers lifecycle events and appends them in batches to a
// backend collection.
type Journal struct {
	backend       storage.Backend
	collection    string
	logger        zerolog.Logger
	buffer        []storage.Document
	mu            sync.Mutex
	writeMu       sync.Mutex
	batchSize     int
	flushInterval time.Duration
	flushCh       chan struct{}
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

// NewJournal creates a journal writing to collection and starts its
// flush loop.
func NewJournal(backend storage.Backend, collection string, batchSize int, flushInterval time.Duration, logger zerolog.Logger) *Journal {
	if batchSize == 0 {
		batchSize = 100
	}
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	j := &Journal{
		backend:       backend,
		collection:    collection,
		logger:        logger.With().Str("component", "journal").Logger(),
		buffer:        make([]storage.Document, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		flushCh:       make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}

	j.wg.Add(1)
	go j.flushLoop()

	return j
}

// Subscribe records every event published on bus.
func (j *Journal) Subscribe(bus *events.Bus) {
	bus.Subscribe("*", func(ctx context.Context, e events.Event) error {
		j.Record(e)
		return nil
	})
}

// Record queues an event. A full batch wakes the flush loop.
func (j *Journal) Record(e events.Event) {
	entry := storage.Document{
		"event": e.Name,
		"kind":  e.Kind,
		"op":    e.Op,
		"at":    e.At.UTC().Format(time.RFC3339Nano),
	}
	if e.ID != "" {
		entry["record"] = e.ID
	}
	if e.Err != nil {
		entry["error"] = e.Err.Error()
	}
	// Saved payloads hold whole records; only the summaries of other
	// actions are kept.
	if e.Data != nil && e.Name != events.Name(e.Kind, events.Saved) {
		entry["data"] = e.Data
	}

	j.mu.Lock()
	j.buffer = append(j.buffer, entry)
	full := len(j.buffer) >= j.batchSize
	j.mu.Unlock()

	if full {
		select {
		case j.flushCh <- struct{}{}:
		default:
		}
	}
}

// Flush writes queued events immediately.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.Lock()
	if len(j.buffer) == 0 {
		j.mu.Unlock()
		return nil
	}
	batch := make([]storage.Document, len(j.buffer))
	copy(batch, j.buffer)
	j.buffer = j.buffer[:0]
	j.mu.Unlock()

	return j.write(ctx, batch)
}

// Pending returns the number of queued events.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.buffer)
}

func (j *Journal) write(ctx context.Context, batch []storage.Document) error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	for i, entry := range batch {
		if _, err := j.backend.Save(ctx, j.collection, "", entry); err != nil {
			j.logger.Error().
				Err(err).
				Int("dropped", len(batch)-i).
				Msg("journal write failed")
			return err
		}
	}
	j.logger.Debug().Int("events", len(batch)).Msg("journal flushed")
	return nil
}

func (j *Journal) flushLoop() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Flush(context.Background())
		case <-j.flushCh:
			j.Flush(context.Background())
		case <-j.stopCh:
			return
		}
	}
}

// Close stops the flush loop and writes remaining events.
func (j *Journal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		close(j.stopCh)
		j.wg.Wait()

		// Final flush with timeout
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err = j.Flush(ctx)
	})
	return err
}
