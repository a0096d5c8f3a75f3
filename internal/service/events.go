package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/crashguard/internal/model"
	"github.com/t77yq/crashguard/internal/storage"
)

// StreamName is the JetStream stream holding every crashguard event
const StreamName = "CRASHGUARD"

const (
	SubjectAlertAppended  = "alert.appended"
	SubjectAlertDismissed = "alert.dismissed"
	SubjectStatus         = "status.heartbeat"

	subjectEmergencyPrefix = "emergency."
)

// StreamSubjects are the subjects captured by the stream
var StreamSubjects = []string{"alert.*", "emergency.*", "notify.*", "status.*"}

const (
	publishTimeout = 5 * time.Second
	eventQueueSize = 256
)

var eventsDropped = metrics.NewCounter(`crashguard_events_dropped_total`)

// Event is the envelope published for every event
type Event struct {
	ID        string          `json:"id"`
	Subject   string          `json:"subject"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// queuedEvent is a change waiting to be published by Run
type queuedEvent struct {
	subject string
	value   any
}

// EventService publishes pipeline events to JetStream
type EventService struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	queue  chan queuedEvent
}

// NewEventService creates a new event service. Call Run to publish the
// changes handed to OnAlertChange and OnEmergencyChange.
func NewEventService(js nats.JetStreamContext, logger *zap.Logger) *EventService {
	return &EventService{
		js:     js,
		logger: logger.Named("events"),
		queue:  make(chan queuedEvent, eventQueueSize),
	}
}

// Run publishes queued changes until ctx is done
func (s *EventService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.queue:
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := s.Publish(pubCtx, event.subject, event.value); err != nil {
				s.logger.Warn("Event dropped", zap.String("subject", event.subject), zap.Error(err))
			}
			cancel()
		}
	}
}

// enqueue hands a change to Run without waiting on the server
func (s *EventService) enqueue(subject string, v any) {
	select {
	case s.queue <- queuedEvent{subject: subject, value: v}:
	default:
		eventsDropped.Inc()
		s.logger.Warn("Event queue full, dropping event", zap.String("subject", subject))
	}
}

// EnsureStream creates the event stream if it does not exist yet
func (s *EventService) EnsureStream(ctx context.Context) error {
	_, err := s.js.StreamInfo(StreamName, nats.Context(ctx))
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = s.js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: StreamSubjects,
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	}, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	s.logger.Info("Event stream created", zap.String("stream", StreamName))
	return nil
}

// Publish wraps v in an Event and publishes it on subject
func (s *EventService) Publish(ctx context.Context, subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := Event{
		ID:        uuid.NewString(),
		Subject:   subject,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := s.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(event.ID)); err != nil {
		s.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.String("event_id", event.ID),
			zap.Error(err))
		return err
	}

	s.logger.Debug("Event published",
		zap.String("subject", subject),
		zap.String("event_id", event.ID))
	return nil
}

// Subscribe delivers events on subject to handler until ctx is done
func (s *EventService) Subscribe(ctx context.Context, subject string, handler func(Event)) error {
	sub, err := s.js.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			s.logger.Error("Failed to unmarshal event", zap.Error(err))
			msg.Term()
			return
		}

		handler(event)
		msg.Ack()
	}, nats.ManualAck())
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return nil
}

// OnAlertChange is a storage.ChangeListener queueing alert events
func (s *EventService) OnAlertChange(change storage.Change) {
	subject := SubjectAlertAppended
	if change.Kind == storage.ChangeDismissed {
		subject = SubjectAlertDismissed
	}
	s.enqueue(subject, change.Alert)
}

// OnEmergencyChange is an emergency listener queueing the new state for
// emergency.<phase>
func (s *EventService) OnEmergencyChange(state model.EmergencyState) {
	s.enqueue(EmergencySubject(state.Phase()), state)
}

// EmergencySubject returns the subject for an emergency phase
func EmergencySubject(phase model.EmergencyPhase) string {
	return subjectEmergencyPrefix + string(phase)
}
