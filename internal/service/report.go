package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"crawler-dashboard/internal/detail"

	"github.com/jung-kurt/gofpdf"
)

const reportTimeout = 30 * time.Second

type ReportTask struct {
	AnalysisID string
	Result     chan []byte
	Error      chan error
}

func (s *AnalysisService) StartWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Report worker shutting down...")
			return
		case task := <-s.pendingReports:
			if task != nil {
				s.processReportTask(ctx, task)
			}
		}
	}
}

func (s *AnalysisService) processReportTask(ctx context.Context, task *ReportTask) {
	pdfData, err := s.GenerateReport(ctx, task.AnalysisID)
	if err != nil {
		task.Error <- err
	} else {
		task.Result <- pdfData
	}
}

// GenerateReportAsync queues a report for the worker, rendering inline when
// the queue is full.
func (s *AnalysisService) GenerateReportAsync(ctx context.Context, id string) ([]byte, error) {
	if s.IsShutdown() {
		return nil, fmt.Errorf("service is shutting down")
	}

	task := &ReportTask{
		AnalysisID: id,
		Result:     make(chan []byte, 1),
		Error:      make(chan error, 1),
	}

	select {
	case s.pendingReports <- task:
		s.logger.Infof("Queued report task for analysis %s", id)

		select {
		case pdfData := <-task.Result:
			return pdfData, nil
		case err := <-task.Error:
			return nil, err
		case <-time.After(reportTimeout):
			return nil, fmt.Errorf("report generation timeout")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	default:
		s.logger.Warnf("Report queue full, generating report synchronously for analysis %s", id)
		return s.GenerateReport(ctx, id)
	}
}

// GenerateReport renders the detail view of one analysis as a PDF.
func (s *AnalysisService) GenerateReport(ctx context.Context, id string) ([]byte, error) {
	q := s.NewSingleQuery(id)
	defer q.Close()

	result := q.Load(ctx)
	if result.Err != nil {
		return nil, fmt.Errorf("failed to load analysis %s: %w", id, result.Err)
	}

	view := detail.Build(result)
	if view.State != detail.StateReady {
		return nil, fmt.Errorf("analysis %s is not available", id)
	}

	return renderPDF(view)
}

func renderPDF(view detail.View) ([]byte, error) {
	a := view.Analysis

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Website Analysis Report")
	pdf.Ln(15)

	pdf.SetFont("Arial", "", 12)
	pdf.Cell(40, 10, fmt.Sprintf("Generated: %s", time.Now().Format("2006-01-02 15:04:05")))
	pdf.Ln(10)
	pdf.Cell(40, 10, fmt.Sprintf("URL: %s", a.URL))
	pdf.Ln(8)
	pdf.Cell(40, 10, fmt.Sprintf("Status: %s", view.Status.Label))
	pdf.Ln(8)
	if view.Cancelled {
		pdf.Cell(40, 10, "This analysis was cancelled. No data available.")
		pdf.Ln(8)
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(40, 10, "Key Metrics")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	for _, m := range view.Metrics {
		pdf.Cell(40, 8, fmt.Sprintf("- %s: %s", m.Title, m.Value))
		pdf.Ln(6)
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(40, 10, "Details")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	for _, d := range view.Details {
		pdf.Cell(40, 8, fmt.Sprintf("- %s: %s", d.Label, d.Value))
		pdf.Ln(6)
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(40, 10, "Headings")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	if view.Headings.Empty {
		pdf.Cell(40, 8, "No heading tags found.")
		pdf.Ln(6)
	}
	for _, bar := range view.Headings.Bars {
		pdf.Cell(40, 8, fmt.Sprintf("- %s: %d", bar.Name, bar.Value))
		pdf.Ln(6)
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(40, 10, "Broken Links")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	if len(view.BrokenLinks) == 0 {
		pdf.Cell(40, 8, "No broken links found.")
		pdf.Ln(6)
	}
	for _, link := range view.BrokenLinks {
		pdf.Cell(40, 8, fmt.Sprintf("- [%s] %s", link.Code, link.URL))
		pdf.Ln(6)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
