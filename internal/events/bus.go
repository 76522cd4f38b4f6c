package events

import (
	"sync"
	"time"
	"trader-bot/internal/models"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalGenerated    EventType = "SIGNAL_GENERATED"
	EventTradeOpened        EventType = "TRADE_OPENED"
	EventTradeClosed        EventType = "TRADE_CLOSED"
	EventPerformanceUpdated EventType = "PERFORMANCE_UPDATED"
	EventBotStarted         EventType = "BOT_STARTED"
	EventBotStopped         EventType = "BOT_STOPPED"
	EventBotReset           EventType = "BOT_RESET"
	EventLog                EventType = "LOG"
	EventWinRateUpdated     EventType = "WINRATE_UPDATED"
)

// Event represents a system event
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions.
// Subscribers run on their own goroutine and must not assume ordering.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

func (eb *EventBus) PublishSignal(signal models.Signal) {
	eb.Publish(Event{Type: EventSignalGenerated, Data: signal})
}

func (eb *EventBus) PublishTradeOpened(trade models.Trade) {
	eb.Publish(Event{Type: EventTradeOpened, Data: trade})
}

func (eb *EventBus) PublishTradeClosed(trade models.Trade) {
	eb.Publish(Event{Type: EventTradeClosed, Data: trade})
}

// PerformanceUpdate is the payload of PERFORMANCE_UPDATED.
type PerformanceUpdate struct {
	Stats   models.PerformanceStats `json:"stats"`
	Balance models.Balance          `json:"balance"`
	Price   float64                 `json:"price"`
}

func (eb *EventBus) PublishPerformance(stats models.PerformanceStats, balance models.Balance, price float64) {
	eb.Publish(Event{Type: EventPerformanceUpdated, Data: PerformanceUpdate{Stats: stats, Balance: balance, Price: price}})
}

// PublishStatus publishes BOT_STARTED, BOT_STOPPED or BOT_RESET.
func (eb *EventBus) PublishStatus(eventType EventType, status models.BotStatus) {
	eb.Publish(Event{Type: eventType, Data: status})
}

// PublishLog publishes a display log line.
func (eb *EventBus) PublishLog(level, message string) {
	eb.Publish(Event{Type: EventLog, Data: map[string]interface{}{
		"level":   level,
		"message": message,
	}})
}

func (eb *EventBus) PublishWinRates(snapshots []models.WinRateSnapshot) {
	eb.Publish(Event{Type: EventWinRateUpdated, Data: snapshots})
}
