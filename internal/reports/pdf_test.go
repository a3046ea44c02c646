package reports

import (
	"bytes"
	"testing"
)

func TestPDFReport_Output(t *testing.T) {
	r := NewPDFReport("Compliance Overview")
	r.AddSection("Summary")
	r.AddSummaryTable([]SummaryItem{
		{Label: "Total Entities", Value: "4"},
		{Label: "Total Frameworks", Value: "2"},
	})
	r.AddScoreRow("Average Compliance", 72.5)
	r.AddSection("Frameworks")
	r.AddTable(
		[]string{"Name", "Entities", "Score"},
		[][]string{
			{"GDPR", "3", "81.0"},
			{"A framework name long enough to truncate", "1", "44.2"},
		},
	)
	r.AddParagraph("Scores are daily averages over active entities.")

	out, err := r.Output()
	if err != nil {
		t.Fatalf("Output failed: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("Expected non-empty PDF output")
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Errorf("Expected PDF magic header, got %q", out[:8])
	}
}
