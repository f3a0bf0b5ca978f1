// Package events carries notifications about job lifecycle and reconciliation progress from the
// engine to whoever is interested, typically the command line's log output.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type Type string

const (
	JobLaunched        Type = "job_launched"
	JobLaunchFailed    Type = "job_launch_failed"
	JobTerminated      Type = "job_terminated"
	JobTerminateFailed Type = "job_terminate_failed"
	JobFinished        Type = "job_finished"
	PassStarted        Type = "pass_started"
	PassCompleted      Type = "pass_completed"
	ReconcilerStopped  Type = "reconciler_stopped"
)

type Event struct {
	Id      string
	Type    Type
	Time    time.Time
	Key     string
	JobId   string
	Message string
	Error   error
}

func (e Event) Fields() log.Fields {
	fields := log.Fields{"event": e.Type}
	if e.Key != "" {
		fields["key"] = e.Key
	}
	if e.JobId != "" {
		fields["jobId"] = e.JobId
	}
	return fields
}

// Publisher is implemented by anything that accepts events.
type Publisher interface {
	Publish(event Event)
}

// Broadcaster fans events out to subscribers. Publishing never blocks: a subscriber whose buffer is
// full misses the event.
type Broadcaster struct {
	mutex       sync.Mutex
	subscribers []chan Event
	bufferSize  int
	closed      bool
	now         func() time.Time
}

func NewBroadcaster(bufferSize int) *Broadcaster {
	return &Broadcaster{bufferSize: bufferSize, now: time.Now}
}

// Subscribe returns a channel receiving every event published from now on.
// The channel is closed by Close.
func (b *Broadcaster) Subscribe() <-chan Event {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

func (b *Broadcaster) Publish(event Event) {
	if event.Id == "" {
		event.Id = uuid.NewString()
	}
	if event.Time.IsZero() {
		event.Time = b.now()
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			log.WithFields(event.Fields()).Debug("Dropping event for slow subscriber")
		}
	}
}

func (b *Broadcaster) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}

// LogEvents writes each event received on ch to the log until ch is closed.
func LogEvents(ch <-chan Event) {
	for event := range ch {
		entry := log.WithFields(event.Fields())
		if event.Error != nil {
			entry.WithError(event.Error).Warn(event.Message)
			continue
		}
		entry.Info(event.Message)
	}
}

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}
