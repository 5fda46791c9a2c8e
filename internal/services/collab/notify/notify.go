// Package notify publishes admission events to downstream consumers.
//
// Emission is fire-and-forget: a sink failure is logged and never propagated,
// so notification outages cannot roll back or block an admission write.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/louisbranch/atelier.space/internal/services/collab/domain"
	"github.com/louisbranch/atelier.space/internal/services/collab/event"
)

// Sink delivers events to a downstream consumer.
type Sink interface {
	Emit(ctx context.Context, ev event.Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev event.Event) error

// Emit calls the wrapped function.
func (f SinkFunc) Emit(ctx context.Context, ev event.Event) error {
	return f(ctx, ev)
}

// LogSink writes events to the process log. Used when no external sink is
// configured.
func LogSink() Sink {
	return SinkFunc(func(_ context.Context, ev event.Event) error {
		log.Printf("event %s entity=%s actor=%s", ev.Type, ev.EntityName, ev.ActorType)
		return nil
	})
}

// Actor identifies who triggered an emitted event.
type Actor struct {
	Type event.ActorType
	ID   string
}

// SystemActor is the actor for events produced by background processes.
var SystemActor = Actor{Type: event.ActorTypeSystem}

// Notifier builds and emits admission events.
type Notifier struct {
	sink  Sink
	clock func() time.Time
}

// New creates a Notifier emitting to the given sink.
func New(sink Sink, clock func() time.Time) *Notifier {
	if clock == nil {
		clock = time.Now
	}
	return &Notifier{sink: sink, clock: clock}
}

// CollaborationStatusChanged emits the lifecycle event for a collaboration
// status transition, plus the transition-specific event when one exists.
// Cancellation emits no specific event here; the cascade summary from
// CollaborationCancelled is its single collaboration.cancelled emit.
func (n *Notifier) CollaborationStatusChanged(ctx context.Context, collaboration domain.Collaboration, from domain.Status, requestID string, actor Actor) {
	payload := event.StatusChangedPayload{
		From: domain.StatusLabel(from),
		To:   domain.StatusLabel(collaboration.Status),
	}
	n.emit(ctx, collaboration.ID, requestID, actor, event.TypeCollaborationStatusChanged,
		event.CollaborationName(collaboration.ID), payload)

	var specific event.Type
	switch collaboration.Status {
	case domain.StatusOpen:
		specific = event.TypeCollaborationPublished
	case domain.StatusCompleted:
		specific = event.TypeCollaborationCompleted
	default:
		return
	}
	n.emit(ctx, collaboration.ID, requestID, actor, specific,
		event.CollaborationName(collaboration.ID), payload)
}

// CollaborationCreated emits the creation event for a new collaboration.
func (n *Notifier) CollaborationCreated(ctx context.Context, collaboration domain.Collaboration, requestID string, actor Actor) {
	n.emit(ctx, collaboration.ID, requestID, actor, event.TypeCollaborationCreated,
		event.CollaborationName(collaboration.ID), nil)
}

// CollaborationCancelled emits the cancellation cascade summary.
func (n *Notifier) CollaborationCancelled(ctx context.Context, collaborationID string, cascade event.CancellationPayload, requestID string, actor Actor) {
	n.emit(ctx, collaborationID, requestID, actor, event.TypeCollaborationCancelled,
		event.CollaborationName(collaborationID), cascade)
}

// Requirement emits a requirement event with the requirement's fill state.
func (n *Notifier) Requirement(ctx context.Context, eventType event.Type, requirement domain.Requirement, requestID string, actor Actor) {
	payload := event.RequirementPayload{
		Role:           requirement.Role,
		QuantityNeeded: requirement.QuantityNeeded,
		QuantityFilled: requirement.QuantityFilled,
	}
	n.emit(ctx, requirement.CollaborationID, requestID, actor, eventType,
		event.RequirementName(requirement.CollaborationID, requirement.ID), payload)
}

// Application emits an application event with the application's decision state.
func (n *Notifier) Application(ctx context.Context, eventType event.Type, application domain.Application, requestID string, actor Actor) {
	payload := event.ApplicationPayload{
		ApplicantID:   application.ApplicantID,
		RequirementID: application.RequirementID,
		Status:        domain.ApplicationStatusLabel(application.Status),
	}
	n.emit(ctx, application.CollaborationID, requestID, actor, eventType,
		event.ApplicationName(application.CollaborationID, application.RequirementID, application.ID), payload)
}

func (n *Notifier) emit(ctx context.Context, collaborationID, requestID string, actor Actor, eventType event.Type, entityName string, payload any) {
	if n == nil || n.sink == nil {
		return
	}

	var payloadJSON []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			log.Printf("encode %s payload: %v", eventType, err)
			return
		}
		payloadJSON = encoded
	}

	ev := event.Event{
		Type:            eventType,
		Timestamp:       n.clock().UTC(),
		CollaborationID: collaborationID,
		RequestID:       requestID,
		ActorType:       actor.Type,
		ActorID:         actor.ID,
		EntityName:      entityName,
		PayloadJSON:     payloadJSON,
	}
	if err := n.sink.Emit(ctx, ev); err != nil {
		log.Printf("emit %s event: %v", eventType, err)
	}
}
