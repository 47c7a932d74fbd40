package bus

import "time"

// Event is a domain event published on the bus. Kind is a dot-separated
// name ("sync.status_changed", "action.failed"); subscribers filter on a
// prefix of it.
type Event struct {
	Kind    string
	At      time.Time
	Payload any
}
