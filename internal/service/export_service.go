package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/iep-collab-api/internal/dto"
	"github.com/noah-isme/iep-collab-api/internal/models"
	appErrors "github.com/noah-isme/iep-collab-api/pkg/errors"
	"github.com/noah-isme/iep-collab-api/pkg/export"
)

type documentReader interface {
	GetDocument(ctx context.Context, id string) (*models.IEPDocument, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportResult is a rendered document ready to be streamed.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders IEP documents for printing and records keeping.
type ExportService struct {
	documents documentReader
	csv       csvRenderer
	pdf       pdfRenderer
	logger    *zap.Logger
}

var exportHeaders = []string{"Section", "Title", "Description", "Criteria", "Detail", "Version", "Updated By"}

// NewExportService constructs the exporter.
func NewExportService(documents documentReader, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{documents: documents, csv: csv, pdf: pdf, logger: logger}
}

// Export renders the current document state in the requested format.
func (s *ExportService) Export(ctx context.Context, id string, format dto.ExportFormat) (*ExportResult, error) {
	if format == "" {
		format = dto.ExportFormatPDF
	}
	if format != dto.ExportFormatCSV && format != dto.ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	doc, err := s.documents.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	dataset := buildDataset(doc)
	filename := sanitizeFilename(fmt.Sprintf("iep_%s_%s_v%d", doc.StudentName, doc.SchoolYear, doc.Version))

	var (
		payload     []byte
		contentType string
	)
	switch format {
	case dto.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv"
	case dto.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, "Individualized Education Program")
		contentType = "application/pdf"
	}
	if err != nil {
		s.logger.Error("failed to render export", zap.String("iep_id", id), zap.String("format", string(format)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &ExportResult{
		Filename:    filename + "." + string(format),
		ContentType: contentType,
		Data:        payload,
	}, nil
}

func buildDataset(doc *models.IEPDocument) export.Dataset {
	summary := []export.Field{
		{Label: "Student", Value: doc.StudentName},
		{Label: "Student ID", Value: doc.StudentID},
		{Label: "School Year", Value: doc.SchoolYear},
		{Label: "Effective", Value: dateRange(doc.EffectiveDate, doc.ExpiryDate)},
		{Label: "Status", Value: string(doc.Status)},
		{Label: "Version", Value: strconv.FormatUint(doc.Version, 10)},
		{Label: "Present Levels", Value: doc.PresentLevels},
	}
	if doc.Placement != "" {
		summary = append(summary, export.Field{Label: "Placement", Value: doc.Placement})
	}
	if doc.TransitionServices != "" {
		summary = append(summary, export.Field{Label: "Transition Services", Value: doc.TransitionServices})
	}
	if len(doc.SpecialFactors) > 0 {
		summary = append(summary, export.Field{Label: "Special Factors", Value: strings.Join(doc.SpecialFactors, "; ")})
	}
	if doc.ApprovedAt != nil {
		summary = append(summary, export.Field{Label: "Approved", Value: doc.ApprovedAt.Format("2006-01-02")})
	}

	rows := make([]map[string]string, 0, len(doc.Goals)+len(doc.Accommodations)+len(doc.ApprovalRecords))
	for i, goal := range doc.Goals {
		rows = append(rows, map[string]string{
			"Section":     fmt.Sprintf("Goal %d", i+1),
			"Title":       goal.Title,
			"Description": goal.Description,
			"Criteria":    goal.MeasurableCriteria,
			"Detail":      joinNonEmpty(goal.Domain, goal.TargetDate),
			"Version":     strconv.FormatUint(goal.Version, 10),
			"Updated By":  goal.UpdatedBy,
		})
	}
	for i, acc := range doc.Accommodations {
		rows = append(rows, map[string]string{
			"Section":     fmt.Sprintf("Accommodation %d", i+1),
			"Title":       acc.Title,
			"Description": acc.Description,
			"Detail":      joinNonEmpty(acc.Category, acc.Setting),
			"Version":     strconv.FormatUint(acc.Version, 10),
			"Updated By":  acc.UpdatedBy,
		})
	}
	for _, record := range doc.ApprovalRecords {
		detail := record.Comments
		if record.RejectionReason != nil {
			detail = *record.RejectionReason
		}
		rows = append(rows, map[string]string{
			"Section":     "Approval",
			"Title":       string(record.Status),
			"Description": joinNonEmpty(record.ApproverID, record.ApproverRole),
			"Detail":      detail,
			"Updated By":  record.ApproverID,
		})
	}
	return export.Dataset{Summary: summary, Headers: exportHeaders, Rows: rows}
}

func dateRange(from, to string) string {
	switch {
	case from != "" && to != "":
		return from + " to " + to
	case from != "":
		return from
	default:
		return to
	}
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " / ")
}

func sanitizeFilename(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "iep_export"
	}
	return b.String()
}
