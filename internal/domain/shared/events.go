package shared

import (
	"strconv"
	"time"
)

// EventType represents the type of domain event.
type EventType string

const (
	// Ingestion: every check-in path (chat, SMS, email, form) ends here.
	EventCheckinRecorded EventType = "checkin.recorded"

	// Reconciliation output consumed by the notification projector.
	EventMedalAwarded EventType = "medal.awarded"

	// Final results for a challenge became available.
	EventChallengeResultsReady EventType = "challenge.results_ready"
)

// Event is the base interface for all domain events.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	Payload() map[string]interface{}
}

// EventHandler processes a single event.
type EventHandler func(event Event) error

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber registers handlers for event types.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.AggregateId }

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Check-in events
// ═══════════════════════════════════════════════════════════════════════════

// CheckinRecordedEvent is emitted once a check-in has been stored.
// The aggregate is the challenge, so handlers can serialize per challenge.
type CheckinRecordedEvent struct {
	BaseEvent
	ChallengeID   int64 `json:"challenge_id"`
	WeekID        int64 `json:"week_id"`
	CheckinID     int64 `json:"checkin_id"`
	ParticipantID int64 `json:"participant_id"`
	Tier          int   `json:"tier"`
}

func (e CheckinRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"challenge_id":   e.ChallengeID,
		"week_id":        e.WeekID,
		"checkin_id":     e.CheckinID,
		"participant_id": e.ParticipantID,
		"tier":           e.Tier,
	}
}

// NewCheckinRecordedEvent creates a new CheckinRecordedEvent.
func NewCheckinRecordedEvent(challengeID, weekID, checkinID, participantID int64, tier int) CheckinRecordedEvent {
	return CheckinRecordedEvent{
		BaseEvent:     NewBaseEvent(EventCheckinRecorded, strconv.FormatInt(challengeID, 10)),
		ChallengeID:   challengeID,
		WeekID:        weekID,
		CheckinID:     checkinID,
		ParticipantID: participantID,
		Tier:          tier,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Medal events
// ═══════════════════════════════════════════════════════════════════════════

// AwardOutcome classifies a freshly appended ledger row for messaging.
type AwardOutcome string

const (
	OutcomeEarned    AwardOutcome = "earned"
	OutcomeStole     AwardOutcome = "stole"
	OutcomeSurpassed AwardOutcome = "surpassed"
)

// MedalAwardedEvent carries one newly appended ledger row with enough
// context for the projector to render a message without another lookup.
type MedalAwardedEvent struct {
	BaseEvent
	AwardID         int64        `json:"award_id"`
	Kind            string       `json:"kind"`
	Emoji           string       `json:"emoji"`
	ChallengeID     int64        `json:"challenge_id"`
	WeekID          *int64       `json:"week_id,omitempty"`
	CheckinID       int64        `json:"checkin_id"`
	Outcome         AwardOutcome `json:"outcome"`
	Triggered       bool         `json:"triggered"`
	ParticipantID   int64        `json:"participant_id"`
	ParticipantName string       `json:"participant_name"`
	Handle          string       `json:"handle"`

	StolenFromCheckinID     *int64 `json:"stolen_from_checkin_id,omitempty"`
	StolenFromParticipantID *int64 `json:"stolen_from_participant_id,omitempty"`
	StolenFromName          string `json:"stolen_from_name,omitempty"`
	StolenFromHandle        string `json:"stolen_from_handle,omitempty"`
}

func (e MedalAwardedEvent) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"award_id":         e.AwardID,
		"kind":             e.Kind,
		"emoji":            e.Emoji,
		"challenge_id":     e.ChallengeID,
		"checkin_id":       e.CheckinID,
		"outcome":          string(e.Outcome),
		"triggered":        e.Triggered,
		"participant_id":   e.ParticipantID,
		"participant_name": e.ParticipantName,
		"handle":           e.Handle,
	}
	if e.WeekID != nil {
		p["week_id"] = *e.WeekID
	}
	if e.StolenFromCheckinID != nil {
		p["stolen_from_checkin_id"] = *e.StolenFromCheckinID
	}
	if e.StolenFromParticipantID != nil {
		p["stolen_from_participant_id"] = *e.StolenFromParticipantID
		p["stolen_from_name"] = e.StolenFromName
		p["stolen_from_handle"] = e.StolenFromHandle
	}
	return p
}

// ═══════════════════════════════════════════════════════════════════════════
// Results events
// ═══════════════════════════════════════════════════════════════════════════

// ChallengeResultsReadyEvent is emitted by the results job the day after a
// challenge's effective end.
type ChallengeResultsReadyEvent struct {
	BaseEvent
	ChallengeID   int64     `json:"challenge_id"`
	ChallengeName string    `json:"challenge_name"`
	EffectiveEnd  time.Time `json:"effective_end"`
}

func (e ChallengeResultsReadyEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"challenge_id":   e.ChallengeID,
		"challenge_name": e.ChallengeName,
		"effective_end":  e.EffectiveEnd.Format("2006-01-02"),
	}
}

// NewChallengeResultsReadyEvent creates a new ChallengeResultsReadyEvent.
func NewChallengeResultsReadyEvent(challengeID int64, name string, effectiveEnd time.Time) ChallengeResultsReadyEvent {
	return ChallengeResultsReadyEvent{
		BaseEvent:     NewBaseEvent(EventChallengeResultsReady, strconv.FormatInt(challengeID, 10)),
		ChallengeID:   challengeID,
		ChallengeName: name,
		EffectiveEnd:  effectiveEnd,
	}
}
