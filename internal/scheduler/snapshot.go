package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/complyarc/grc/internal/models"
	"github.com/complyarc/grc/internal/notifications"
	"github.com/complyarc/grc/internal/store"
)

// Invalidator drops cached reports for an organization after fresh
// snapshots land. Satisfied by the report cache; nil disables it.
type Invalidator interface {
	InvalidateOrg(ctx context.Context, orgID uuid.UUID) error
}

// Snapshotter recomputes each active (entity, framework) compliance
// score from assignment completion and appends it to the history
// ledger. Scores that fall below the alert threshold raise an event
// on the injected notifier.
type Snapshotter struct {
	db             *sqlx.DB
	store          *store.Store
	notifier       notifications.Notifier
	cache          Invalidator
	logger         *slog.Logger
	alertThreshold float64
}

func NewSnapshotter(db *sqlx.DB, st *store.Store, notifier notifications.Notifier, cache Invalidator, alertThreshold float64, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notifications.NopNotifier{}
	}
	if alertThreshold <= 0 {
		alertThreshold = 50
	}
	return &Snapshotter{
		db:             db,
		store:          st,
		notifier:       notifier,
		cache:          cache,
		logger:         logger,
		alertThreshold: alertThreshold,
	}
}

type snapshotPair struct {
	EntityID      uuid.UUID `db:"entity_id"`
	FrameworkID   uuid.UUID `db:"framework_id"`
	OrgID         uuid.UUID `db:"organization_id"`
	EntityName    string    `db:"entity_name"`
	FrameworkName string    `db:"framework_name"`
	CurrentScore  float64   `db:"current_score"`
}

// Run executes one snapshot pass over every active assignment pair.
// Per-pair failures are logged and skipped; the pass continues.
func (s *Snapshotter) Run(ctx context.Context) error {
	start := time.Now()

	query := `
		SELECT ef.entity_id, ef.framework_id, e.organization_id,
			e.name AS entity_name, f.name AS framework_name,
			ef.compliance_score AS current_score
		FROM entity_frameworks ef
		JOIN entities e ON e.id = ef.entity_id AND e.is_active = true
		JOIN frameworks f ON f.id = ef.framework_id
		WHERE ef.is_active = true
	`
	var pairs []snapshotPair
	if err := s.db.SelectContext(ctx, &pairs, query); err != nil {
		return fmt.Errorf("listing active assignments: %w", err)
	}

	written := 0
	touched := make(map[uuid.UUID]struct{})
	for _, pair := range pairs {
		score, err := s.computeScore(ctx, pair.EntityID, pair.FrameworkID)
		if err != nil {
			s.logger.Error("snapshot score computation failed",
				"entity_id", pair.EntityID,
				"framework_id", pair.FrameworkID,
				"error", err)
			continue
		}

		if err := s.record(ctx, pair, score); err != nil {
			s.logger.Error("snapshot write failed",
				"entity_id", pair.EntityID,
				"framework_id", pair.FrameworkID,
				"error", err)
			continue
		}
		written++
		touched[pair.OrgID] = struct{}{}

		if score < s.alertThreshold && score < pair.CurrentScore {
			if err := s.notifier.Notify(ctx, scoreDropEvent(pair, score)); err != nil {
				s.logger.Warn("score drop notification failed",
					"entity_id", pair.EntityID,
					"error", err)
			}
		}
	}

	if s.cache != nil {
		for orgID := range touched {
			if err := s.cache.InvalidateOrg(ctx, orgID); err != nil {
				s.logger.Warn("report cache invalidation failed", "org_id", orgID, "error", err)
			}
		}
	}

	s.logger.Info("compliance snapshot pass complete",
		"pairs", len(pairs),
		"written", written,
		"duration", time.Since(start),
	)
	return nil
}

// computeScore derives the pair's compliance score as the average
// completion rate of the entity's assignments under the framework.
func (s *Snapshotter) computeScore(ctx context.Context, entityID, frameworkID uuid.UUID) (float64, error) {
	query := `
		SELECT COALESCE(AVG(ca.completion_rate), 0)
		FROM control_assignments ca
		JOIN controls c ON c.id = ca.control_id
		WHERE ca.entity_id = $1 AND c.framework_id = $2
	`
	var score float64
	if err := s.db.GetContext(ctx, &score, query, entityID, frameworkID); err != nil {
		return 0, err
	}
	return models.ClampScore(score), nil
}

func (s *Snapshotter) record(ctx context.Context, pair snapshotPair, score float64) error {
	update := `
		UPDATE entity_frameworks SET compliance_score = $1, updated_at = $2
		WHERE entity_id = $3 AND framework_id = $4
	`
	if _, err := s.db.ExecContext(ctx, update, score, time.Now(), pair.EntityID, pair.FrameworkID); err != nil {
		return fmt.Errorf("updating assignment score: %w", err)
	}

	return s.store.AppendComplianceHistory(ctx, &models.ComplianceHistory{
		EntityID:        pair.EntityID,
		FrameworkID:     pair.FrameworkID,
		ComplianceScore: score,
	})
}

func scoreDropEvent(pair snapshotPair, score float64) *notifications.Event {
	severity := models.RiskHigh
	if score < 30 {
		severity = models.RiskCritical
	}
	return &notifications.Event{
		Type:     notifications.EventScoreDrop,
		Title:    "Compliance Score Dropped",
		Message:  fmt.Sprintf("%s compliance for %s fell from %.1f to %.1f", pair.FrameworkName, pair.EntityName, pair.CurrentScore, score),
		Severity: severity,
		Data: map[string]interface{}{
			"entity":         pair.EntityName,
			"framework":      pair.FrameworkName,
			"score":          score,
			"previous_score": pair.CurrentScore,
		},
		Timestamp: time.Now(),
	}
}
