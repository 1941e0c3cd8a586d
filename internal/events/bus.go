// Package events carries engine lifecycle notifications between the
// service layer and its observers (metrics, API push, logging).
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the engine.
type EventType string

const (
	EventDataFetched       EventType = "DATA_FETCHED"
	EventProviderFailed    EventType = "PROVIDER_FAILED"
	EventProviderSkipped   EventType = "PROVIDER_SKIPPED"
	EventCacheInvalidated  EventType = "CACHE_INVALIDATED"
	EventSignalDetected    EventType = "SIGNAL_DETECTED"
	EventScanStarted       EventType = "SCAN_STARTED"
	EventScanCompleted     EventType = "SCAN_COMPLETED"
	EventBacktestStarted   EventType = "BACKTEST_STARTED"
	EventBacktestCompleted EventType = "BACKTEST_COMPLETED"
	EventOptimizeStarted   EventType = "OPTIMIZE_STARTED"
	EventOptimizeCompleted EventType = "OPTIMIZE_COMPLETED"
	EventError             EventType = "ERROR"
)

// Event represents a single engine notification.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events.
type Subscriber func(Event)

// Bus manages event publishing and subscriptions.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type.
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events.
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Delivery is asynchronous so
// publishers never block on slow observers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := b.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishDataFetched publishes a successful acquisition.
func (b *Bus) PublishDataFetched(symbol, timeframe, provider string, bars int, cached bool) {
	b.Publish(Event{
		Type: EventDataFetched,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"timeframe": timeframe,
			"provider":  provider,
			"bars":      bars,
			"cached":    cached,
		},
	})
}

// PublishProviderFailed publishes one failed provider attempt.
func (b *Bus) PublishProviderFailed(provider, symbol, timeframe, reason string) {
	b.Publish(Event{
		Type: EventProviderFailed,
		Data: map[string]interface{}{
			"provider":  provider,
			"symbol":    symbol,
			"timeframe": timeframe,
			"reason":    reason,
		},
	})
}

// PublishProviderSkipped publishes a provider bypassed by its breaker or
// rate limiter before any request was made.
func (b *Bus) PublishProviderSkipped(provider, symbol, timeframe, reason string) {
	b.Publish(Event{
		Type: EventProviderSkipped,
		Data: map[string]interface{}{
			"provider":  provider,
			"symbol":    symbol,
			"timeframe": timeframe,
			"reason":    reason,
		},
	})
}

// PublishCacheInvalidated publishes a manual cache drop.
func (b *Bus) PublishCacheInvalidated(symbol, timeframe string, entries int) {
	b.Publish(Event{
		Type: EventCacheInvalidated,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"timeframe": timeframe,
			"entries":   entries,
		},
	})
}

// PublishSignalDetected publishes an entry signal found by the pipeline.
func (b *Bus) PublishSignalDetected(symbol, timeframe, direction string, price float64) {
	b.Publish(Event{
		Type: EventSignalDetected,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"timeframe": timeframe,
			"direction": direction,
			"price":     price,
		},
	})
}

// PublishScanStarted publishes the start of an opportunity scan.
func (b *Bus) PublishScanStarted(scanID string, symbols, pairs int) {
	b.Publish(Event{
		Type: EventScanStarted,
		Data: map[string]interface{}{
			"scan_id": scanID,
			"symbols": symbols,
			"pairs":   pairs,
		},
	})
}

// PublishScanCompleted publishes scan results volume and duration.
func (b *Bus) PublishScanCompleted(scanID string, symbols, opportunities int, elapsed time.Duration) {
	b.Publish(Event{
		Type: EventScanCompleted,
		Data: map[string]interface{}{
			"scan_id":       scanID,
			"symbols":       symbols,
			"opportunities": opportunities,
			"elapsed_ms":    elapsed.Milliseconds(),
		},
	})
}

// PublishBacktestStarted publishes the start of a backtest run.
func (b *Bus) PublishBacktestStarted(runID, symbol string, bars int) {
	b.Publish(Event{
		Type: EventBacktestStarted,
		Data: map[string]interface{}{
			"run_id": runID,
			"symbol": symbol,
			"bars":   bars,
		},
	})
}

// PublishBacktestCompleted publishes a finished backtest run.
func (b *Bus) PublishBacktestCompleted(runID, symbol string, trades int, elapsed time.Duration) {
	b.Publish(Event{
		Type: EventBacktestCompleted,
		Data: map[string]interface{}{
			"run_id":     runID,
			"symbol":     symbol,
			"trades":     trades,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
}

// PublishOptimizeStarted publishes the start of a walk-forward run.
func (b *Bus) PublishOptimizeStarted(runID, symbol string, windows, gridSize int) {
	b.Publish(Event{
		Type: EventOptimizeStarted,
		Data: map[string]interface{}{
			"run_id":    runID,
			"symbol":    symbol,
			"windows":   windows,
			"grid_size": gridSize,
		},
	})
}

// PublishOptimizeCompleted publishes a finished walk-forward run.
func (b *Bus) PublishOptimizeCompleted(runID, symbol string, windows, gridSize int, elapsed time.Duration) {
	b.Publish(Event{
		Type: EventOptimizeCompleted,
		Data: map[string]interface{}{
			"run_id":     runID,
			"symbol":     symbol,
			"windows":    windows,
			"grid_size":  gridSize,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
}

// PublishError publishes an error event.
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
