package testing

import (
	"fmt"
	"sync"

	"github.com/imamik/lxc-compose/internal/provisioning"
)

// RecordingObserver is a provisioning.Observer that keeps every event and
// message. Observers derived with WithFields share the same log.
type RecordingObserver struct {
	mu       *sync.Mutex
	events   *[]provisioning.Event
	messages *[]string
	fields   map[string]string
}

var _ provisioning.Observer = (*RecordingObserver)(nil)

// NewRecordingObserver creates an empty recorder.
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{
		mu:       &sync.Mutex{},
		events:   &[]provisioning.Event{},
		messages: &[]string{},
		fields:   map[string]string{},
	}
}

// Printf records the formatted message.
func (o *RecordingObserver) Printf(format string, v ...interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	*o.messages = append(*o.messages, fmt.Sprintf(format, v...))
}

// Event records the event with context fields merged in.
func (o *RecordingObserver) Event(event provisioning.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fields := make(map[string]string, len(o.fields)+len(event.Fields))
	for k, v := range o.fields {
		fields[k] = v
	}
	for k, v := range event.Fields {
		fields[k] = v
	}
	event.Fields = fields
	*o.events = append(*o.events, event)
}

// Progress records a progress event.
func (o *RecordingObserver) Progress(phase string, current, total int) {
	o.Event(provisioning.Event{
		Type:    provisioning.EventProgress,
		Phase:   phase,
		Message: fmt.Sprintf("%d/%d", current, total),
	})
}

// WithFields returns a scoped recorder sharing this one's log.
func (o *RecordingObserver) WithFields(fields map[string]string) provisioning.Observer {
	child := &RecordingObserver{mu: o.mu, events: o.events, messages: o.messages, fields: map[string]string{}}
	for k, v := range o.fields {
		child.fields[k] = v
	}
	for k, v := range fields {
		child.fields[k] = v
	}
	return child
}

// Events returns a copy of the recorded events.
func (o *RecordingObserver) Events() []provisioning.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]provisioning.Event(nil), *o.events...)
}

// EventsOfType filters recorded events by type.
func (o *RecordingObserver) EventsOfType(t provisioning.EventType) []provisioning.Event {
	var out []provisioning.Event
	for _, e := range o.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Messages returns a copy of the recorded Printf messages.
func (o *RecordingObserver) Messages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), *o.messages...)
}
