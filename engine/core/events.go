package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Resized/resolution changed from the OS.
	/* Context usage:
	 * Data: *ResizeEvent
	 */
	EVENT_CODE_RESIZED SystemEventCode = 0x08

	// The configuration file changed on disk and was parsed again.
	/* Context usage:
	 * Data: the new configuration value
	 */
	EVENT_CODE_CONFIG_RELOADED SystemEventCode = 0x09

	// The graphics device was removed or hung.
	/* Context usage:
	 * Data: error
	 */
	EVENT_CODE_DEVICE_LOST SystemEventCode = 0x0A

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

type EventContext struct {
	Type   SystemEventCode
	Sender interface{}
	Data   interface{}
}

type ResizeEvent struct {
	Width  uint32
	Height uint32
}

// Should return true if handled.
type FnOnEvent func(context EventContext) bool

type registeredEvent struct {
	id       uint64
	callback FnOnEvent
}

// EventBus dispatches events synchronously on the calling goroutine. Listeners
// are invoked in registration order until one reports the event as handled.
type EventBus struct {
	mu         sync.RWMutex
	nextID     uint64
	registered map[SystemEventCode][]registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[SystemEventCode][]registeredEvent),
	}
}

// Register to listen for when events are sent with the provided code. The
// returned id is used to unregister.
func (b *EventBus) Register(code SystemEventCode, onEvent FnOnEvent) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.registered[code] = append(b.registered[code], registeredEvent{id: b.nextID, callback: onEvent})
	return b.nextID
}

// Unregister removes the listener registered under id. Returns false when no
// listener matched.
func (b *EventBus) Unregister(code SystemEventCode, id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.registered[code]
	for i, e := range events {
		if e.id == id {
			b.registered[code] = append(events[:i:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// Fire sends an event to listeners of its code. Returns true if handled.
func (b *EventBus) Fire(context EventContext) bool {
	b.mu.RLock()
	events := append([]registeredEvent(nil), b.registered[context.Type]...)
	b.mu.RUnlock()
	for _, e := range events {
		if e.callback(context) {
			// Message has been handled, do not send to other listeners.
			return true
		}
	}
	return false
}

func (b *EventBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered = make(map[SystemEventCode][]registeredEvent)
}
