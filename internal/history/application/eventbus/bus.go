package eventbus

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

// ErrInvalidEventType is returned by handlers that receive an unexpected payload.
var ErrInvalidEventType = errors.New("eventbus: invalid event type")

// EventHandler handles one published event.
type EventHandler func(ctx context.Context, event any) error

// EventBus publishes events to handlers subscribed by type name.
type EventBus interface {
	Publish(ctx context.Context, event any) error
	Subscribe(eventType string, handler EventHandler)
}

// EventTypeOf returns the subscription name of T. *T and T are distinct event types.
func EventTypeOf[T any]() string {
	var zero T
	return eventTypeName(reflect.TypeOf(zero))
}

func eventTypeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Pointer {
		return "*" + eventTypeName(t.Elem())
	}
	return t.PkgPath() + "." + t.Name()
}

// InMemoryBus dispatches events synchronously in subscription order.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewInMemoryBus constructs an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[string][]EventHandler)}
}

// Subscribe registers handler for eventType.
func (b *InMemoryBus) Subscribe(eventType string, handler EventHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish runs every handler of the event's type and stops at the first error.
func (b *InMemoryBus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrInvalidEventType
	}
	eventType := eventTypeName(reflect.TypeOf(event))
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
