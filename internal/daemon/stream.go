package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/zero-day-ai/aegis/internal/events"
	"github.com/zero-day-ai/aegis/internal/types"
)

// Stream message types, mirroring the monitoring client protocol.
const (
	MessageConnected      = "connected"
	MessageSubscribe      = "subscribe"
	MessageSubscribed     = "subscribed"
	MessageWorkflowStatus = "workflow-status"
	MessageWorkflowUpdate = "workflow-update"
	MessageProgress       = "progress"
	MessageResult         = "result"
	MessageError          = "error"
	MessageRestraint      = "restraint"
	MessageHITL           = "hitl"
)

// StreamMessage is the wire envelope for monitoring sessions. Update carries
// status strings; Data carries structured payloads.
type StreamMessage struct {
	Type       string    `json:"type"`
	WorkflowID types.ID  `json:"workflowId,omitempty"`
	Update     string    `json:"update,omitempty"`
	Data       any       `json:"data,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Encode renders the message as JSON.
func (m StreamMessage) Encode() ([]byte, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return json.Marshal(m)
}

// DecodeStreamMessage parses a client wire message.
func DecodeStreamMessage(data []byte) (StreamMessage, error) {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return StreamMessage{}, types.WrapError(types.VALIDATION_FAILED, "malformed stream message", err)
	}
	return msg, nil
}

// StreamSink receives encoded messages for one connected client.
type StreamSink interface {
	Send(msg StreamMessage) error
}

// StreamSession manages one monitoring connection: the connected ack, the
// subscribe handshake, and event-to-message translation. It is transport
// agnostic; the caller pumps decoded client messages in and wires a sink
// for output.
type StreamSession struct {
	service *Service
	bus     events.Bus
	sink    StreamSink
	logger  *slog.Logger

	cancelSub func()
}

// NewStreamSession starts a session, immediately sending the connected ack.
func NewStreamSession(service *Service, bus events.Bus, sink StreamSink, logger *slog.Logger) (*StreamSession, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &StreamSession{
		service: service,
		bus:     bus,
		sink:    sink,
		logger:  logger,
	}
	if err := sink.Send(StreamMessage{Type: MessageConnected, Timestamp: time.Now()}); err != nil {
		return nil, err
	}
	return s, nil
}

// Handle processes a single client message. Only subscribe is meaningful;
// anything else gets an error reply.
func (s *StreamSession) Handle(ctx context.Context, msg StreamMessage) error {
	switch msg.Type {
	case MessageSubscribe:
		return s.subscribe(ctx, msg.WorkflowID)
	default:
		return s.sink.Send(StreamMessage{
			Type:      MessageError,
			Update:    "unknown message type: " + msg.Type,
			Timestamp: time.Now(),
		})
	}
}

// subscribe acknowledges, replies immediately with current status (so
// already-terminal workflows resolve without waiting for events), then fans
// workflow events into the sink until the context ends.
func (s *StreamSession) subscribe(ctx context.Context, workflowID types.ID) error {
	status, err := s.service.Status(ctx, workflowID)
	if err != nil {
		return s.sink.Send(StreamMessage{
			Type:       MessageError,
			WorkflowID: workflowID,
			Update:     err.Error(),
			Timestamp:  time.Now(),
		})
	}

	if err := s.sink.Send(StreamMessage{
		Type:       MessageSubscribed,
		WorkflowID: workflowID,
		Timestamp:  time.Now(),
	}); err != nil {
		return err
	}
	if err := s.sink.Send(StreamMessage{
		Type:       MessageWorkflowStatus,
		WorkflowID: workflowID,
		Update:     status.Status.String(),
		Data:       status,
		Timestamp:  time.Now(),
	}); err != nil {
		return err
	}
	if status.Status.IsTerminal() {
		return s.sendResult(ctx, workflowID, status)
	}

	ch, cancel := s.bus.Subscribe(ctx, events.Filter{WorkflowID: workflowID}, 256)
	s.cancelSub = cancel

	go s.pump(ctx, workflowID, ch)
	return nil
}

func (s *StreamSession) pump(ctx context.Context, workflowID types.ID, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			msg, terminal := TranslateEvent(ev)
			if err := s.sink.Send(msg); err != nil {
				s.logger.Warn("stream send failed", "workflow_id", workflowID, "error", err)
				return
			}
			if terminal {
				if status, err := s.service.Status(ctx, workflowID); err == nil {
					_ = s.sendResult(ctx, workflowID, status)
				}
				return
			}
		}
	}
}

func (s *StreamSession) sendResult(_ context.Context, workflowID types.ID, status StatusResponse) error {
	return s.sink.Send(StreamMessage{
		Type:       MessageResult,
		WorkflowID: workflowID,
		Update:     status.Status.String(),
		Data:       status,
		Timestamp:  time.Now(),
	})
}

// Close releases the event subscription.
func (s *StreamSession) Close() {
	if s.cancelSub != nil {
		s.cancelSub()
		s.cancelSub = nil
	}
}

// TranslateEvent maps a bus event to its wire message. The second return is
// true for terminal workflow events.
func TranslateEvent(ev events.Event) (StreamMessage, bool) {
	msg := StreamMessage{
		WorkflowID: ev.WorkflowID,
		Timestamp:  ev.Timestamp,
	}

	switch ev.Type {
	case events.EventWorkflowCompleted, events.EventWorkflowFailed, events.EventWorkflowCancelled:
		msg.Type = MessageWorkflowUpdate
		msg.Update = statusForEvent(ev.Type).String()
		return msg, true

	case events.EventWorkflowQueued, events.EventWorkflowStarted, events.EventWorkflowPhase:
		msg.Type = MessageWorkflowUpdate
		msg.Update = ev.Type.String()
		msg.Data = map[string]any{"phase": ev.Phase}

	case events.EventWorkflowProgress:
		msg.Type = MessageProgress
		msg.Data = ev.Payload

	case events.EventRestraint:
		msg.Type = MessageRestraint
		msg.Data = ev.Payload

	case events.EventHITL:
		msg.Type = MessageHITL
		msg.Data = ev.Attrs

	case events.EventFindingDiscovered:
		msg.Type = MessageWorkflowUpdate
		msg.Update = ev.Type.String()
		msg.Data = ev.Payload

	default:
		msg.Type = MessageWorkflowUpdate
		msg.Update = ev.Type.String()
		msg.Data = ev.Payload
	}
	return msg, false
}

func statusForEvent(t events.EventType) types.WorkflowStatus {
	switch t {
	case events.EventWorkflowFailed:
		return types.WorkflowStatusFailed
	case events.EventWorkflowCancelled:
		return types.WorkflowStatusCancelled
	default:
		return types.WorkflowStatusCompleted
	}
}
