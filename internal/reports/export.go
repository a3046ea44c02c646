package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type ExportType string

const (
	ExportOverview   ExportType = "overview"
	ExportFrameworks ExportType = "frameworks"
	ExportControls   ExportType = "controls"
	ExportTasks      ExportType = "tasks"
)

type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

type ExportRequest struct {
	Type    ExportType   `json:"type"`
	Format  ExportFormat `json:"format"`
	Title   string       `json:"title"`
	Filters Filters      `json:"filters"`
}

type Export struct {
	Type        ExportType
	Format      ExportFormat
	Title       string
	GeneratedAt time.Time
	Data        []byte
	Filename    string
	MimeType    string
}

// Exporter renders report rollups as downloadable CSV or PDF files.
type Exporter struct {
	agg *Aggregator
}

func NewExporter(agg *Aggregator) *Exporter {
	return &Exporter{agg: agg}
}

func (g *Exporter) Export(ctx context.Context, orgID uuid.UUID, req *ExportRequest) (*Export, error) {
	var (
		data []byte
		err  error
	)
	switch req.Type {
	case ExportOverview:
		data, err = g.exportOverview(ctx, orgID, req)
	case ExportFrameworks:
		data, err = g.exportFrameworks(ctx, orgID, req)
	case ExportControls:
		data, err = g.exportControls(ctx, orgID, req)
	case ExportTasks:
		data, err = g.exportTasks(ctx, orgID, req)
	default:
		return nil, fmt.Errorf("unsupported export type: %s", req.Type)
	}
	if err != nil {
		return nil, err
	}

	ext := "csv"
	mime := "text/csv"
	if req.Format == FormatPDF {
		ext = "pdf"
		mime = "application/pdf"
	}

	return &Export{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    fmt.Sprintf("%s_%s.%s", req.Type, time.Now().Format("20060102_150405"), ext),
		MimeType:    mime,
	}, nil
}

func (g *Exporter) exportOverview(ctx context.Context, orgID uuid.UUID, req *ExportRequest) ([]byte, error) {
	stats, err := g.agg.Overview(ctx, orgID, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("fetching overview: %w", err)
	}

	switch req.Format {
	case FormatCSV:
		return g.overviewToCSV(stats)
	case FormatPDF:
		return g.overviewToPDF(stats, req.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func (g *Exporter) overviewToCSV(stats *OverviewStats) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{
		{"Metric", "Value"},
		{"Total Entities", strconv.Itoa(stats.TotalEntities)},
		{"Total Frameworks", strconv.Itoa(stats.TotalFrameworks)},
		{"Total Controls", strconv.Itoa(stats.TotalControls)},
		{"Total Tasks", strconv.Itoa(stats.TotalTasks)},
		{"Completed Tasks", strconv.Itoa(stats.CompletedTasks)},
		{"Pending Tasks", strconv.Itoa(stats.PendingTasks)},
		{"In Progress Tasks", strconv.Itoa(stats.InProgressTasks)},
		{"Overdue Tasks", strconv.Itoa(stats.OverdueTasks)},
		{"Evidence Documents", strconv.Itoa(stats.TotalEvidence)},
		{"Audit Gaps", strconv.Itoa(stats.TotalGaps)},
		{"Open Audit Gaps", strconv.Itoa(stats.OpenGaps)},
		{"Average Compliance Score", fmt.Sprintf("%.1f", stats.AvgComplianceScore)},
		{"Task Completion Rate", fmt.Sprintf("%.1f", stats.TaskCompletionRate)},
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), w.Error()
}

func (g *Exporter) overviewToPDF(stats *OverviewStats, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Compliance Summary")
	pdf.AddScoreRow("Average Compliance Score", stats.AvgComplianceScore)
	pdf.AddScoreRow("Task Completion Rate", stats.TaskCompletionRate)
	pdf.AddSummaryTable([]SummaryItem{
		{"Entities", strconv.Itoa(stats.TotalEntities)},
		{"Frameworks", strconv.Itoa(stats.TotalFrameworks)},
		{"Controls", strconv.Itoa(stats.TotalControls)},
		{"Evidence Documents", strconv.Itoa(stats.TotalEvidence)},
	})

	pdf.AddSection("Task Status")
	pdf.AddSummaryTable([]SummaryItem{
		{"Total", strconv.Itoa(stats.TotalTasks)},
		{"Completed", strconv.Itoa(stats.CompletedTasks)},
		{"In Progress", strconv.Itoa(stats.InProgressTasks)},
		{"Pending", strconv.Itoa(stats.PendingTasks)},
		{"Overdue", strconv.Itoa(stats.OverdueTasks)},
	})

	pdf.AddSection("Audit Gaps")
	pdf.AddSummaryTable([]SummaryItem{
		{"Total", strconv.Itoa(stats.TotalGaps)},
		{"Open", strconv.Itoa(stats.OpenGaps)},
	})

	return pdf.Output()
}

func (g *Exporter) exportFrameworks(ctx context.Context, orgID uuid.UUID, req *ExportRequest) ([]byte, error) {
	rows, err := g.agg.FrameworksReport(ctx, orgID, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("fetching frameworks report: %w", err)
	}

	switch req.Format {
	case FormatCSV:
		return g.frameworksToCSV(rows)
	case FormatPDF:
		return g.frameworksToPDF(rows, req.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func (g *Exporter) frameworksToCSV(rows []FrameworkStats) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"Framework", "Category", "Region", "Priority", "Entities",
		"Controls", "Tasks", "Completed Tasks", "Overdue Tasks",
		"Evidence", "Open Gaps", "Avg Compliance", "Completion Rate",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range rows {
		record := []string{
			r.Name, r.Category, r.Region, r.Priority,
			strconv.Itoa(r.EntitiesAssigned),
			strconv.Itoa(r.TotalControls),
			strconv.Itoa(r.TotalTasks),
			strconv.Itoa(r.CompletedTasks),
			strconv.Itoa(r.OverdueTasks),
			strconv.Itoa(r.EvidenceCount),
			strconv.Itoa(r.OpenGaps),
			fmt.Sprintf("%.1f", r.AvgComplianceScore),
			fmt.Sprintf("%.1f", r.CompletionRate),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Exporter) frameworksToPDF(rows []FrameworkStats, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Framework Progress")
	for _, r := range rows {
		pdf.AddScoreRow(r.Name, r.AvgComplianceScore)
	}

	pdf.AddSection("Detail")
	var table [][]string
	for _, r := range rows {
		table = append(table, []string{
			r.Name,
			strconv.Itoa(r.EntitiesAssigned),
			strconv.Itoa(r.TotalTasks),
			strconv.Itoa(r.OverdueTasks),
			strconv.Itoa(r.OpenGaps),
			fmt.Sprintf("%.1f%%", r.CompletionRate),
		})
	}
	pdf.AddTable([]string{"Framework", "Entities", "Tasks", "Overdue", "Gaps", "Completion"}, table)

	return pdf.Output()
}

func (g *Exporter) exportControls(ctx context.Context, orgID uuid.UUID, req *ExportRequest) ([]byte, error) {
	rows, err := g.agg.ControlsReport(ctx, orgID, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("fetching controls report: %w", err)
	}

	switch req.Format {
	case FormatCSV:
		return g.controlsToCSV(rows)
	case FormatPDF:
		return g.controlsToPDF(rows, req.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func (g *Exporter) controlsToCSV(rows []ControlStats) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"Control", "Framework", "Category", "Priority",
		"Assignments", "Completed", "In Progress", "Not Started",
		"Tasks", "Completed Tasks", "Evidence", "Open Gaps", "Completion Rate",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range rows {
		record := []string{
			r.Title, r.FrameworkName, r.Category, r.Priority,
			strconv.Itoa(r.TotalAssignments),
			strconv.Itoa(r.CompletedAssignments),
			strconv.Itoa(r.InProgressAssignments),
			strconv.Itoa(r.NotStartedAssignments),
			strconv.Itoa(r.TotalTasks),
			strconv.Itoa(r.CompletedTasks),
			strconv.Itoa(r.EvidenceCount),
			strconv.Itoa(r.OpenGaps),
			fmt.Sprintf("%.1f", r.AssignmentCompletionRate),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Exporter) controlsToPDF(rows []ControlStats, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Control Progress")
	var table [][]string
	for _, r := range rows {
		table = append(table, []string{
			r.Title,
			r.FrameworkName,
			strconv.Itoa(r.TotalAssignments),
			strconv.Itoa(r.CompletedAssignments),
			strconv.Itoa(r.EvidenceCount),
			fmt.Sprintf("%.1f%%", r.AssignmentCompletionRate),
		})
	}
	pdf.AddTable([]string{"Control", "Framework", "Assigned", "Completed", "Evidence", "Rate"}, table)

	return pdf.Output()
}

func (g *Exporter) exportTasks(ctx context.Context, orgID uuid.UUID, req *ExportRequest) ([]byte, error) {
	rows, err := g.agg.TasksReport(ctx, orgID, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("fetching tasks report: %w", err)
	}

	switch req.Format {
	case FormatCSV:
		return g.tasksToCSV(rows)
	case FormatPDF:
		return g.tasksToPDF(rows, req.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func (g *Exporter) tasksToCSV(rows []TaskStats) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"Task", "Status", "Priority", "Due Date", "Entity",
		"Control", "Framework", "Assignee", "Evidence", "Overdue",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range rows {
		due := ""
		if r.DueDate != nil {
			due = r.DueDate.Format("2006-01-02")
		}
		record := []string{
			r.Title, r.Status, r.Priority, due, r.EntityName,
			r.ControlTitle, r.FrameworkName, r.AssigneeName,
			strconv.Itoa(r.EvidenceCount),
			strconv.FormatBool(r.IsOverdue),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Exporter) tasksToPDF(rows []TaskStats, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	overdue := 0
	for _, r := range rows {
		if r.IsOverdue {
			overdue++
		}
	}
	pdf.AddSection("Summary")
	pdf.AddSummaryTable([]SummaryItem{
		{"Tasks", strconv.Itoa(len(rows))},
		{"Overdue", strconv.Itoa(overdue)},
	})

	pdf.AddSection("Tasks")
	var table [][]string
	for _, r := range rows {
		due := ""
		if r.DueDate != nil {
			due = r.DueDate.Format("2006-01-02")
		}
		table = append(table, []string{
			r.Title, r.EntityName, r.FrameworkName, r.Status, due,
		})
	}
	pdf.AddTable([]string{"Task", "Entity", "Framework", "Status", "Due"}, table)

	return pdf.Output()
}
