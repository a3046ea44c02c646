package reports

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/complyarc/grc/internal/models"
)

// Filters is the shared filter vocabulary for all report rollups. Every
// present field narrows the underlying join with a SQL predicate; rows
// are never post-filtered in application code.
type Filters struct {
	DateFrom         *time.Time               `json:"dateFrom,omitempty"`
	DateTo           *time.Time               `json:"dateTo,omitempty"`
	EntityID         *uuid.UUID               `json:"entityId,omitempty"`
	FrameworkID      *uuid.UUID               `json:"frameworkId,omitempty"`
	ControlID        *uuid.UUID               `json:"controlId,omitempty"`
	AssigneeID       *uuid.UUID               `json:"assigneeId,omitempty"`
	TaskStatus       *models.TaskStatus       `json:"status,omitempty"`
	AssignmentStatus *models.AssignmentStatus `json:"assignmentStatus,omitempty"`
	Priority         *models.Priority         `json:"priority,omitempty"`
	Category         *string                  `json:"category,omitempty"`
	Region           *string                  `json:"region,omitempty"`
	RiskLevel        *models.RiskLevel        `json:"riskLevel,omitempty"`
	Granularity      Granularity              `json:"granularity,omitempty"`
}

// Hash produces a stable cache key component for a filter set.
func (f Filters) Hash() string {
	var b strings.Builder
	writeID := func(label string, v *uuid.UUID) {
		if v != nil {
			fmt.Fprintf(&b, "%s=%s;", label, v.String())
		}
	}
	if f.DateFrom != nil {
		fmt.Fprintf(&b, "from=%d;", f.DateFrom.Unix())
	}
	if f.DateTo != nil {
		fmt.Fprintf(&b, "to=%d;", f.DateTo.Unix())
	}
	writeID("entity", f.EntityID)
	writeID("framework", f.FrameworkID)
	writeID("control", f.ControlID)
	writeID("assignee", f.AssigneeID)
	if f.TaskStatus != nil {
		fmt.Fprintf(&b, "status=%s;", *f.TaskStatus)
	}
	if f.AssignmentStatus != nil {
		fmt.Fprintf(&b, "astatus=%s;", *f.AssignmentStatus)
	}
	if f.Priority != nil {
		fmt.Fprintf(&b, "priority=%s;", *f.Priority)
	}
	if f.Category != nil {
		fmt.Fprintf(&b, "category=%s;", *f.Category)
	}
	if f.Region != nil {
		fmt.Fprintf(&b, "region=%s;", *f.Region)
	}
	if f.RiskLevel != nil {
		fmt.Fprintf(&b, "risk=%s;", *f.RiskLevel)
	}
	if f.Granularity != "" {
		fmt.Fprintf(&b, "granularity=%s;", f.Granularity)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// condBuilder accumulates " AND col = $n" predicates with positional
// args, matching the allow-listed column set; filter values are only
// ever bound, never interpolated.
type condBuilder struct {
	conds strings.Builder
	args  []interface{}
}

func (cb *condBuilder) add(column string, value interface{}) {
	cb.args = append(cb.args, value)
	fmt.Fprintf(&cb.conds, " AND %s = $%d", column, len(cb.args))
}

func (cb *condBuilder) addRange(column string, from, to *time.Time) {
	if from != nil {
		cb.args = append(cb.args, *from)
		fmt.Fprintf(&cb.conds, " AND %s >= $%d", column, len(cb.args))
	}
	if to != nil {
		cb.args = append(cb.args, *to)
		fmt.Fprintf(&cb.conds, " AND %s <= $%d", column, len(cb.args))
	}
}

func (cb *condBuilder) String() string { return cb.conds.String() }
