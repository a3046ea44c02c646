package reports

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Granularity selects the trend bucket width. All bucketing is done in
// UTC regardless of the timestamps' original zone.
type Granularity string

const (
	GranularityHourly  Granularity = "hourly"
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// ParseGranularity maps a query-string value to a Granularity,
// defaulting to daily for empty or unknown input.
func ParseGranularity(s string) Granularity {
	switch Granularity(s) {
	case GranularityHourly, GranularityWeekly, GranularityMonthly:
		return Granularity(s)
	default:
		return GranularityDaily
	}
}

type TrendPoint struct {
	Period             string  `json:"period"`
	EntitiesCount      int     `json:"entitiesCount"`
	FrameworksCount    int     `json:"frameworksCount"`
	AvgComplianceScore float64 `json:"avgComplianceScore"`
	MinComplianceScore float64 `json:"minComplianceScore"`
	MaxComplianceScore float64 `json:"maxComplianceScore"`
	TotalChecks        int     `json:"totalChecks"`
}

// HistoryRow is one compliance_history snapshot as fed to the bucketer.
type HistoryRow struct {
	EntityID        uuid.UUID `db:"entity_id"`
	FrameworkID     uuid.UUID `db:"framework_id"`
	ComplianceScore float64   `db:"compliance_score"`
	CreatedAt       time.Time `db:"created_at"`
}

// Trends returns score trend points for an organization, one per
// non-empty bucket, oldest first. Buckets with no snapshots are
// omitted rather than zero-filled.
func (a *Aggregator) Trends(ctx context.Context, orgID uuid.UUID, f Filters) ([]TrendPoint, error) {
	start := a.now()

	query := `
		SELECT ch.entity_id, ch.framework_id, ch.compliance_score, ch.created_at
		FROM compliance_history ch
		JOIN entities e ON e.id = ch.entity_id
		WHERE e.organization_id = $1 AND e.is_active = true
	`
	cb := condBuilder{args: []interface{}{orgID}}
	if f.EntityID != nil {
		cb.add("ch.entity_id", *f.EntityID)
	}
	if f.FrameworkID != nil {
		cb.add("ch.framework_id", *f.FrameworkID)
	}
	cb.addRange("ch.created_at", f.DateFrom, f.DateTo)
	query += cb.String() + ` ORDER BY ch.created_at ASC`

	var rows []HistoryRow
	if err := a.db.SelectContext(ctx, &rows, query, cb.args...); err != nil {
		return nil, fmt.Errorf("fetching compliance history: %w", err)
	}

	points := BucketHistory(rows, f.Granularity)

	a.logger.Debug("trends computed",
		"org_id", orgID,
		"granularity", f.Granularity,
		"snapshots", len(rows),
		"buckets", len(points),
		"duration", time.Since(start),
	)
	return points, nil
}

// bucketStart truncates t to the start of its bucket in UTC. Weekly
// buckets start on Monday.
func bucketStart(t time.Time, g Granularity) time.Time {
	t = t.UTC()
	switch g {
	case GranularityHourly:
		return t.Truncate(time.Hour)
	case GranularityWeekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case GranularityMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

func bucketLabel(start time.Time, g Granularity) string {
	switch g {
	case GranularityHourly:
		return start.Format("2006-01-02 15:00")
	case GranularityMonthly:
		return start.Format("2006-01")
	default:
		return start.Format("2006-01-02")
	}
}

// BucketHistory groups history snapshots into trend points. Entity and
// framework counts are distinct within each bucket; totalChecks is the
// raw snapshot count.
func BucketHistory(rows []HistoryRow, g Granularity) []TrendPoint {
	if g == "" {
		g = GranularityDaily
	}

	type bucket struct {
		start      time.Time
		entities   map[uuid.UUID]struct{}
		frameworks map[uuid.UUID]struct{}
		sum        float64
		min        float64
		max        float64
		count      int
	}

	buckets := make(map[time.Time]*bucket)
	for _, row := range rows {
		start := bucketStart(row.CreatedAt, g)
		b, ok := buckets[start]
		if !ok {
			b = &bucket{
				start:      start,
				entities:   make(map[uuid.UUID]struct{}),
				frameworks: make(map[uuid.UUID]struct{}),
				min:        row.ComplianceScore,
				max:        row.ComplianceScore,
			}
			buckets[start] = b
		}
		b.entities[row.EntityID] = struct{}{}
		b.frameworks[row.FrameworkID] = struct{}{}
		b.sum += row.ComplianceScore
		if row.ComplianceScore < b.min {
			b.min = row.ComplianceScore
		}
		if row.ComplianceScore > b.max {
			b.max = row.ComplianceScore
		}
		b.count++
	}

	ordered := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].start.Before(ordered[j].start) })

	points := make([]TrendPoint, 0, len(ordered))
	for _, b := range ordered {
		points = append(points, TrendPoint{
			Period:             bucketLabel(b.start, g),
			EntitiesCount:      len(b.entities),
			FrameworksCount:    len(b.frameworks),
			AvgComplianceScore: b.sum / float64(b.count),
			MinComplianceScore: b.min,
			MaxComplianceScore: b.max,
			TotalChecks:        b.count,
		})
	}
	return points
}
