package reports

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFiltersHash(t *testing.T) {
	empty := Filters{}
	if empty.Hash() != (Filters{}).Hash() {
		t.Error("Expected empty filter hashes to match")
	}

	entity := uuid.New()
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a := Filters{EntityID: &entity, DateFrom: &from}
	b := Filters{EntityID: &entity, DateFrom: &from}
	if a.Hash() != b.Hash() {
		t.Error("Expected identical filters to hash identically")
	}
	if a.Hash() == empty.Hash() {
		t.Error("Expected populated filters to hash differently from empty")
	}

	other := uuid.New()
	c := Filters{EntityID: &other, DateFrom: &from}
	if a.Hash() == c.Hash() {
		t.Error("Expected different entity ids to change the hash")
	}

	d := Filters{EntityID: &entity, DateFrom: &from, Granularity: GranularityWeekly}
	if a.Hash() == d.Hash() {
		t.Error("Expected granularity to change the hash")
	}
}
