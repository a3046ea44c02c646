package reports

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad test timestamp %q: %v", value, err)
	}
	return ts
}

func TestParseGranularity(t *testing.T) {
	cases := []struct {
		in   string
		want Granularity
	}{
		{"hourly", GranularityHourly},
		{"daily", GranularityDaily},
		{"weekly", GranularityWeekly},
		{"monthly", GranularityMonthly},
		{"", GranularityDaily},
		{"fortnightly", GranularityDaily},
	}
	for _, tc := range cases {
		if got := ParseGranularity(tc.in); got != tc.want {
			t.Errorf("ParseGranularity(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestBucketHistory_Daily(t *testing.T) {
	entity := uuid.New()
	framework := uuid.New()
	otherEntity := uuid.New()

	rows := []HistoryRow{
		{EntityID: entity, FrameworkID: framework, ComplianceScore: 60, CreatedAt: mustTime(t, "2024-01-01T01:00:00Z")},
		{EntityID: otherEntity, FrameworkID: framework, ComplianceScore: 80, CreatedAt: mustTime(t, "2024-01-01T23:00:00Z")},
		{EntityID: entity, FrameworkID: framework, ComplianceScore: 70, CreatedAt: mustTime(t, "2024-01-02T05:00:00Z")},
	}

	points := BucketHistory(rows, GranularityDaily)
	if len(points) != 2 {
		t.Fatalf("Expected 2 buckets, got %d", len(points))
	}

	first := points[0]
	if first.Period != "2024-01-01" {
		t.Errorf("Expected first period 2024-01-01, got %s", first.Period)
	}
	if first.EntitiesCount != 2 {
		t.Errorf("Expected 2 distinct entities, got %d", first.EntitiesCount)
	}
	if first.FrameworksCount != 1 {
		t.Errorf("Expected 1 distinct framework, got %d", first.FrameworksCount)
	}
	if first.AvgComplianceScore != 70 {
		t.Errorf("Expected avg 70, got %f", first.AvgComplianceScore)
	}
	if first.MinComplianceScore != 60 || first.MaxComplianceScore != 80 {
		t.Errorf("Expected min/max 60/80, got %f/%f", first.MinComplianceScore, first.MaxComplianceScore)
	}
	if first.TotalChecks != 2 {
		t.Errorf("Expected 2 checks, got %d", first.TotalChecks)
	}

	second := points[1]
	if second.Period != "2024-01-02" {
		t.Errorf("Expected second period 2024-01-02, got %s", second.Period)
	}
	if second.TotalChecks != 1 {
		t.Errorf("Expected 1 check in second bucket, got %d", second.TotalChecks)
	}
}

func TestBucketHistory_SparseBucketsOmitted(t *testing.T) {
	entity := uuid.New()
	framework := uuid.New()

	// Three days apart: the empty middle day must not appear
	rows := []HistoryRow{
		{EntityID: entity, FrameworkID: framework, ComplianceScore: 50, CreatedAt: mustTime(t, "2024-03-01T12:00:00Z")},
		{EntityID: entity, FrameworkID: framework, ComplianceScore: 55, CreatedAt: mustTime(t, "2024-03-03T12:00:00Z")},
	}

	points := BucketHistory(rows, GranularityDaily)
	if len(points) != 2 {
		t.Fatalf("Expected 2 buckets, got %d", len(points))
	}
	if points[0].Period != "2024-03-01" || points[1].Period != "2024-03-03" {
		t.Errorf("Expected periods 2024-03-01 and 2024-03-03, got %s and %s", points[0].Period, points[1].Period)
	}
}

func TestBucketHistory_WeeklyStartsMonday(t *testing.T) {
	entity := uuid.New()
	framework := uuid.New()

	// 2024-01-03 is a Wednesday; its week starts Monday 2024-01-01.
	// 2024-01-08 is the following Monday.
	rows := []HistoryRow{
		{EntityID: entity, FrameworkID: framework, ComplianceScore: 40, CreatedAt: mustTime(t, "2024-01-03T09:00:00Z")},
		{EntityID: entity, FrameworkID: framework, ComplianceScore: 45, CreatedAt: mustTime(t, "2024-01-07T09:00:00Z")},
		{EntityID: entity, FrameworkID: framework, ComplianceScore: 50, CreatedAt: mustTime(t, "2024-01-08T09:00:00Z")},
	}

	points := BucketHistory(rows, GranularityWeekly)
	if len(points) != 2 {
		t.Fatalf("Expected 2 weekly buckets, got %d", len(points))
	}
	if points[0].Period != "2024-01-01" {
		t.Errorf("Expected first week to start 2024-01-01, got %s", points[0].Period)
	}
	if points[0].TotalChecks != 2 {
		t.Errorf("Expected 2 checks in first week, got %d", points[0].TotalChecks)
	}
	if points[1].Period != "2024-01-08" {
		t.Errorf("Expected second week to start 2024-01-08, got %s", points[1].Period)
	}
}

func TestBucketHistory_HourlyAndMonthlyLabels(t *testing.T) {
	entity := uuid.New()
	framework := uuid.New()
	row := HistoryRow{EntityID: entity, FrameworkID: framework, ComplianceScore: 90, CreatedAt: mustTime(t, "2024-06-15T14:37:00Z")}

	hourly := BucketHistory([]HistoryRow{row}, GranularityHourly)
	if len(hourly) != 1 || hourly[0].Period != "2024-06-15 14:00" {
		t.Errorf("Expected hourly period 2024-06-15 14:00, got %v", hourly)
	}

	monthly := BucketHistory([]HistoryRow{row}, GranularityMonthly)
	if len(monthly) != 1 || monthly[0].Period != "2024-06" {
		t.Errorf("Expected monthly period 2024-06, got %v", monthly)
	}
}

func TestBucketHistory_NonUTCInput(t *testing.T) {
	entity := uuid.New()
	framework := uuid.New()
	loc := time.FixedZone("UTC+5", 5*3600)

	// 2024-01-02 03:00 +05:00 is 2024-01-01 22:00 UTC
	rows := []HistoryRow{
		{EntityID: entity, FrameworkID: framework, ComplianceScore: 65, CreatedAt: time.Date(2024, 1, 2, 3, 0, 0, 0, loc)},
	}

	points := BucketHistory(rows, GranularityDaily)
	if len(points) != 1 || points[0].Period != "2024-01-01" {
		t.Errorf("Expected bucketing in UTC (2024-01-01), got %v", points)
	}
}

func TestRate(t *testing.T) {
	if got := Rate(0, 0); got != 0 {
		t.Errorf("Expected rate 0 for zero total, got %f", got)
	}
	if got := Rate(3, 4); got != 75 {
		t.Errorf("Expected rate 75, got %f", got)
	}
}
