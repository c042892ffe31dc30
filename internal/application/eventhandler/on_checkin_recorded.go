// Package eventhandler contains handlers for domain events.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fitness-challenge/medal-engine/internal/application/command"
	"github.com/fitness-challenge/medal-engine/internal/domain/challenge"
	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON CHECKIN RECORDED HANDLER
// Every ingestion path funnels into one checkin.recorded event. The handler
// reconciles the week the check-in belongs to and flags the awards whose
// evidence is that check-in.
// ═══════════════════════════════════════════════════════════════════════════

// Reconciler runs one reconciliation.
type Reconciler interface {
	Handle(ctx context.Context, cmd command.ReconcileMedalsCommand) (*command.ReconcileMedalsResult, error)
}

// CheckinRecordedConfig contains handler configuration.
type CheckinRecordedConfig struct {
	// Timeout bounds one reconciliation including its retries.
	Timeout time.Duration
}

// DefaultCheckinRecordedConfig returns the default configuration.
func DefaultCheckinRecordedConfig() CheckinRecordedConfig {
	return CheckinRecordedConfig{Timeout: 30 * time.Second}
}

// OnCheckinRecordedHandler reconciles medals after each check-in.
type OnCheckinRecordedHandler struct {
	reconciler Reconciler
	logger     *slog.Logger
	config     CheckinRecordedConfig
}

// NewOnCheckinRecordedHandler creates the handler.
func NewOnCheckinRecordedHandler(reconciler Reconciler, logger *slog.Logger, config CheckinRecordedConfig) *OnCheckinRecordedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config = DefaultCheckinRecordedConfig()
	}
	return &OnCheckinRecordedHandler{
		reconciler: reconciler,
		logger:     logger.With("handler", "on_checkin_recorded"),
		config:     config,
	}
}

// Handle implements shared.EventHandler.
//
// Malformed events and data inconsistencies are logged and dropped: replaying
// them cannot succeed. Other failures are returned.
func (h *OnCheckinRecordedHandler) Handle(event shared.Event) error {
	evt, err := decodeCheckinRecorded(event)
	if err != nil {
		h.logger.Warn("dropping malformed checkin event",
			"event_type", event.EventType(),
			"error", err,
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	res, err := h.reconciler.Handle(ctx, command.ReconcileMedalsCommand{
		ChallengeID:      evt.ChallengeID,
		WeekID:           evt.WeekID,
		TriggerCheckinID: evt.CheckinID,
	})
	if err != nil {
		if shared.IsValidation(err) || shared.IsDataInconsistency(err) || shared.IsNotFound(err) {
			h.logger.Error("checkin cannot be reconciled",
				"challenge_id", evt.ChallengeID,
				"week_id", evt.WeekID,
				"checkin_id", evt.CheckinID,
				"error", err,
			)
			return nil
		}
		return fmt.Errorf("reconcile after checkin %d: %w", evt.CheckinID, err)
	}

	h.logger.Debug("checkin reconciled",
		"challenge_id", evt.ChallengeID,
		"checkin_id", evt.CheckinID,
		"run_id", res.RunID,
		"appended", len(res.Appended),
	)
	return nil
}

// decodeCheckinRecorded accepts the typed event published in-process and the
// payload-only form received from Redis.
func decodeCheckinRecorded(event shared.Event) (shared.CheckinRecordedEvent, error) {
	switch e := event.(type) {
	case shared.CheckinRecordedEvent:
		return e, nil
	case *shared.CheckinRecordedEvent:
		return *e, nil
	}
	if event.EventType() != shared.EventCheckinRecorded {
		return shared.CheckinRecordedEvent{}, fmt.Errorf("unexpected event type %q", event.EventType())
	}

	p := event.Payload()
	var (
		out  shared.CheckinRecordedEvent
		errs []error
	)
	out.ChallengeID, errs = payloadInt(p, "challenge_id", errs)
	out.WeekID, errs = payloadInt(p, "week_id", errs)
	out.CheckinID, errs = payloadInt(p, "checkin_id", errs)
	out.ParticipantID, errs = payloadInt(p, "participant_id", errs)
	switch tier := p["tier"].(type) {
	case float64:
		out.Tier = int(tier)
	case string:
		// Older producers send the "T<n>" label.
		n, err := challenge.ParseTier(tier)
		if err != nil {
			errs = append(errs, fmt.Errorf("tier: %w", err))
		}
		out.Tier = n
	}
	return out, errors.Join(errs...)
}

// payloadInt reads an integer that JSON decoding turned into float64.
func payloadInt(p map[string]interface{}, key string, errs []error) (int64, []error) {
	switch v := p[key].(type) {
	case int64:
		return v, errs
	case int:
		return int64(v), errs
	case float64:
		if v != math.Trunc(v) {
			return 0, append(errs, fmt.Errorf("%s: not an integer: %v", key, v))
		}
		return int64(v), errs
	case nil:
		return 0, append(errs, fmt.Errorf("%s: missing", key))
	default:
		return 0, append(errs, fmt.Errorf("%s: unexpected type %T", key, v))
	}
}
