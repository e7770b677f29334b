package pipeline

import "sync"

// EventType names a job lifecycle event.
type EventType string

const (
	EventStageStarted   EventType = "stage_started"
	EventStageCompleted EventType = "stage_completed"
	EventJobCompleted   EventType = "job_completed"
	EventJobFailed      EventType = "job_failed"
)

// Event is published whenever a job moves forward.
type Event struct {
	JobID string    `json:"job_id"`
	Type  EventType `json:"type"`
	Stage string    `json:"stage,omitempty"`
	Pages int       `json:"pages,omitempty"`
	Error string    `json:"error,omitempty"`
}

// Terminal reports whether no further events follow for the job.
func (e Event) Terminal() bool {
	return e.Type == EventJobCompleted || e.Type == EventJobFailed
}

// Broker fans job events out to subscribers. Slow subscribers lose events
// rather than stall the pipeline.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a channel of events for jobID and a function that ends
// the subscription.
func (b *Broker) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan Event]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[jobID], ch)
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
			b.mu.Unlock()
		})
	}
}

func (b *Broker) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[e.JobID] {
		select {
		case ch <- e:
		default:
		}
	}
}
