package logging

import (
	"log/slog"
	"sync"
	"time"
)

// eventKey identifies one batched event stream.
type eventKey struct {
	Component string
	Event     string
}

// eventTally tracks a batched event's count and most recent fields.
type eventTally struct {
	Count  int64
	Fields []slog.Attr
}

// Aggregator batches high-frequency events (poll ticks, capture hits) and
// emits one summary line per event type per flush interval.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	events map[eventKey]*eventTally

	done chan struct{}
	wg   sync.WaitGroup
}

// NewAggregator creates an aggregator flushing every intervalSecs seconds.
// A nil logger drops recorded events.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		events:   make(map[eventKey]*eventTally),
		done:     make(chan struct{}),
	}
}

// Start begins the background flush goroutine.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go a.loop()
}

// Stop flushes remaining events and stops the background goroutine.
func (a *Aggregator) Stop() {
	close(a.done)
	a.wg.Wait()
	a.flush()
}

// Record increments the counter for an event. Fields are kept from the most
// recent call.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := eventKey{Component: component, Event: event}
	tally, ok := a.events[key]
	if !ok {
		tally = &eventTally{}
		a.events[key] = tally
	}
	tally.Count++
	if len(fields) > 0 {
		tally.Fields = fields
	}
}

func (a *Aggregator) loop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.done:
			return
		}
	}
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	if len(a.events) == 0 {
		a.mu.Unlock()
		return
	}
	events := a.events
	a.events = make(map[eventKey]*eventTally)
	a.mu.Unlock()

	if a.logger == nil {
		return
	}

	for key, tally := range events {
		attrs := []any{
			slog.String("component", key.Component),
			slog.String("event", key.Event),
			slog.Int64("count", tally.Count),
			slog.Int("window_seconds", int(a.interval.Seconds())),
		}
		for _, f := range tally.Fields {
			attrs = append(attrs, f)
		}
		a.logger.Info("event_summary", attrs...)
	}
}
