package plugin

import (
	"sync"
	"time"
)

// EventType is the closed set of manager lifecycle notifications.
type EventType string

const (
	EventPluginRegistered   EventType = "plugin_registered"
	EventPluginUnregistered EventType = "plugin_unregistered"
	EventPluginInitFailed   EventType = "plugin_init_failed"
	EventHookFailed         EventType = "hook_failed"
)

// Event describes something that happened inside a Manager.
type Event struct {
	Type     EventType
	PluginID string
	Hook     HookName
	Err      error
	At       time.Time
}

type subscription struct {
	id int
	fn func(Event)
}

type eventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[EventType][]subscription
}

// Subscribe registers fn for events of type t and returns a function that
// removes the subscription. Handlers run synchronously on the publishing
// goroutine and must not call back into the manager's registration methods.
func (m *Manager) Subscribe(t EventType, fn func(Event)) (unsubscribe func()) {
	return m.bus.subscribe(t, fn)
}

func (b *eventBus) subscribe(t EventType, fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[EventType][]subscription)
	}
	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[t]
			for i, s := range list {
				if s.id == id {
					b.subs[t] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *eventBus) publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	b.mu.RLock()
	list := append([]subscription(nil), b.subs[evt.Type]...)
	b.mu.RUnlock()
	for _, s := range list {
		func() {
			defer func() { _ = recover() }()
			s.fn(evt)
		}()
	}
}
