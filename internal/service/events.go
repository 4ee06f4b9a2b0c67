package service

import (
	"context"
	"log"
	"time"

	"github.com/bezhas/chat-gatekeeper/internal/models"
)

// GateEventSink is the write side of the gate-event audit trail.
type GateEventSink interface {
	CreateBatch(ctx context.Context, events []models.GateEvent) error
}

// GateEventSource is the read side used for listings and analytics.
type GateEventSource interface {
	GateEventSink
	FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]models.GateEvent, error)
	FindBySubject(ctx context.Context, subject string, from, to time.Time, limit, offset int) ([]models.GateEvent, error)
	CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error)
	CountByReason(ctx context.Context, from, to time.Time) (map[string]int64, error)
	TopSubjects(ctx context.Context, from, to time.Time, limit int) ([]map[string]interface{}, error)
}

// Collects gate denials through a buffered channel and batch-inserts them, so
// recording never blocks a gate decision.
type EventRecorder struct {
	repo   GateEventSink
	events chan models.GateEvent
	done   chan struct{}
}

func NewEventRecorder(repo GateEventSink, bufferSize int) *EventRecorder {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	r := &EventRecorder{
		repo:   repo,
		events: make(chan models.GateEvent, bufferSize),
		done:   make(chan struct{}),
	}

	go r.worker()

	return r
}

func (r *EventRecorder) worker() {
	batch := make([]models.GateEvent, 0, 100)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.repo.CreateBatch(context.Background(), batch); err != nil {
			log.Printf("ERROR: failed to insert gate events: %v", err)
		}
		batch = make([]models.GateEvent, 0, 100)
	}

	for {
		select {
		case event := <-r.events:
			batch = append(batch, event)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.done:
			// Drain whatever is queued before stopping
			for {
				select {
				case event := <-r.events:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Queues an event; drops it if the buffer is full rather than blocking
func (r *EventRecorder) Record(event models.GateEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case r.events <- event:
	default:
		log.Println("Gate event buffer full, dropping event")
	}
}

func (r *EventRecorder) Stop() {
	close(r.done)
}

// Read-side listings and analytics over recorded gate events
type EventsService struct {
	repo GateEventSource
}

func NewEventsService(repo GateEventSource) *EventsService {
	return &EventsService{repo: repo}
}

// ListEvents returns raw denial events, newest first. An empty subject means
// all subjects.
func (s *EventsService) ListEvents(ctx context.Context, subject string, from, to time.Time, limit, offset int) ([]models.GateEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	if subject != "" {
		return s.repo.FindBySubject(ctx, subject, from, to, limit, offset)
	}
	return s.repo.FindByTimeRange(ctx, from, to, limit, offset)
}

type EventsSummary struct {
	TotalDenials int64                    `json:"total_denials"`
	ByReason     map[string]int64         `json:"by_reason"`
	TopSubjects  []map[string]interface{} `json:"top_subjects"`
	From         time.Time                `json:"from"`
	To           time.Time                `json:"to"`
}

func (s *EventsService) GetSummary(ctx context.Context, from, to time.Time) (*EventsSummary, error) {
	summary := &EventsSummary{From: from, To: to}

	total, err := s.repo.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.TotalDenials = total

	if total == 0 {
		summary.ByReason = map[string]int64{}
		summary.TopSubjects = []map[string]interface{}{}
		return summary, nil
	}

	byReason, err := s.repo.CountByReason(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.ByReason = byReason

	top, err := s.repo.TopSubjects(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	summary.TopSubjects = top

	return summary, nil
}
