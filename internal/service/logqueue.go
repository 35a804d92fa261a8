package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

const logQueueSize = 256

type logEntry struct {
	model  string
	input  map[string]any
	output map[string]any
	tags   map[string]string
}

// logQueue hands prediction logs to the tracker from a single worker, so a
// slow tracking backend never holds up a response. A full queue drops the
// entry and counts it.
type logQueue struct {
	logger  PredictionLogger
	metrics MetricsInterface

	entries chan logEntry
	pending sync.WaitGroup
	stop    chan struct{}
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func newLogQueue(logger PredictionLogger, metrics MetricsInterface, size int) *logQueue {
	return &logQueue{
		logger:  logger,
		metrics: metrics,
		entries: make(chan logEntry, size),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (q *logQueue) start() {
	q.startOnce.Do(func() { go q.run() })
}

// enqueue never blocks.
func (q *logQueue) enqueue(e logEntry) {
	select {
	case <-q.stop:
		q.dropped(e)
		return
	default:
	}
	q.pending.Add(1)
	select {
	case q.entries <- e:
	default:
		q.pending.Done()
		q.dropped(e)
	}
}

func (q *logQueue) run() {
	defer close(q.done)
	for {
		select {
		case e := <-q.entries:
			q.write(e)
		case <-q.stop:
			for {
				select {
				case e := <-q.entries:
					q.write(e)
				default:
					return
				}
			}
		}
	}
}

func (q *logQueue) write(e logEntry) {
	defer q.pending.Done()
	q.logger.LogPrediction(context.Background(), e.model, e.input, e.output, e.tags)
}

// flush waits for every queued entry to be written.
func (q *logQueue) flush() {
	q.pending.Wait()
}

// close stops the worker once the queued entries are written, or when ctx
// ends first.
func (q *logQueue) close(ctx context.Context) error {
	q.stopOnce.Do(func() {
		close(q.stop)
		q.startOnce.Do(func() { close(q.done) })
	})
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *logQueue) dropped(e logEntry) {
	log.Warn().Str("model", e.model).Msg("Prediction log dropped")
	if q.metrics != nil {
		q.metrics.PredictionLogDroppedInc()
	}
}
