package plugin

// EventType identifies what happened during a sync pass.
type EventType string

const (
	EventSyncStarted     EventType = "sync-started"
	EventSyncFinished    EventType = "sync-finished"
	EventProgress        EventType = "progress"
	EventInstalled       EventType = "installed"
	EventRemoved         EventType = "removed"
	EventFailed          EventType = "failed"
	EventUpdateAvailable EventType = "update-available"
	EventUpdated         EventType = "updated"
)

// Event is emitted to observers of the synchronisation engine. Plugin is
// empty for pass-level events.
type Event struct {
	Type     EventType
	Plugin   string
	Progress float64
	Err      error
}

// Notifier receives events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Event)

// Notify calls f(ev).
func (f NotifierFunc) Notify(ev Event) { f(ev) }

// Discard is a Notifier that drops every event.
var Discard Notifier = NotifierFunc(func(Event) {})
