// Package events provides an event system for worker pool and acceptor notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventConnectionAccepted is emitted when the acceptor hands a connection to the pool
	EventConnectionAccepted EventType = "connection_accepted"
	// EventHandlerFailed is emitted when a connection handler returns an error
	EventHandlerFailed EventType = "handler_failed"
	// EventJobPanicked is emitted when a worker recovers from a panicking job
	EventJobPanicked EventType = "job_panicked"
	// EventJobDropped is emitted when a job is submitted after shutdown began
	EventJobDropped EventType = "job_dropped"
	// EventWorkerStopped is emitted when a worker exits during shutdown
	EventWorkerStopped EventType = "worker_stopped"
)

// Event represents a pool or acceptor event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data.
// WorkerID is nil for events that are not tied to a worker.
type EventData struct {
	WorkerID   *int   `json:"worker_id,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewConnectionAcceptedEvent creates a connection accepted event
func NewConnectionAcceptedEvent(connID, remoteAddr string) Event {
	return Event{
		Type:      EventConnectionAccepted,
		Timestamp: time.Now(),
		Source:    connID,
		Data: EventData{
			RemoteAddr: remoteAddr,
		},
	}
}

// NewHandlerFailedEvent creates a handler failed event
func NewHandlerFailedEvent(connID string, err error) Event {
	return Event{
		Type:      EventHandlerFailed,
		Timestamp: time.Now(),
		Source:    connID,
		Data: EventData{
			Error: errString(err),
		},
	}
}

// NewJobPanickedEvent creates a job panicked event
func NewJobPanickedEvent(workerID int, recovered any) Event {
	return Event{
		Type:      EventJobPanicked,
		Timestamp: time.Now(),
		Data: EventData{
			WorkerID: &workerID,
			Error:    fmtRecovered(recovered),
		},
	}
}

// NewJobDroppedEvent creates a job dropped event
func NewJobDroppedEvent(err error) Event {
	return Event{
		Type:      EventJobDropped,
		Timestamp: time.Now(),
		Data: EventData{
			Error: errString(err),
		},
	}
}

// NewWorkerStoppedEvent creates a worker stopped event
func NewWorkerStoppedEvent(workerID int) Event {
	return Event{
		Type:      EventWorkerStopped,
		Timestamp: time.Now(),
		Data: EventData{
			WorkerID: &workerID,
		},
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
