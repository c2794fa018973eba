package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/iep-collab-api/internal/dto"
	appErrors "github.com/noah-isme/iep-collab-api/pkg/errors"
	"github.com/noah-isme/iep-collab-api/pkg/export"
)

type failingPDF struct{}

func (failingPDF) Render(export.Dataset, string) ([]byte, error) {
	return nil, errors.New("font missing")
}

func TestExportServiceCSV(t *testing.T) {
	f := newServiceFixture(t)
	doc := f.createComplete(t)
	svc := NewExportService(f.svc, nil, nil, nil)

	result, err := svc.Export(context.Background(), doc.ID, dto.ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Equal(t, "iep_sam_lee_2024-2025_v3.csv", result.Filename)

	reader := csv.NewReader(bytes.NewReader(result.Data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	require.NoError(t, err)
	var sections []string
	for _, record := range records {
		if len(record) == len(exportHeaders) {
			sections = append(sections, record[0])
		}
	}
	assert.Equal(t, []string{"Section", "Goal 1", "Accommodation 1"}, sections)
}

func TestExportServicePDF(t *testing.T) {
	f := newServiceFixture(t)
	doc := f.createComplete(t)
	svc := NewExportService(f.svc, nil, nil, nil)

	result, err := svc.Export(context.Background(), doc.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, bytes.HasPrefix(result.Data, []byte("%PDF")))
}

func TestExportServiceErrors(t *testing.T) {
	f := newServiceFixture(t)
	doc := f.createComplete(t)

	_, err := NewExportService(f.svc, nil, nil, nil).Export(context.Background(), doc.ID, "docx")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	_, err = NewExportService(f.svc, nil, nil, nil).Export(context.Background(), "missing", dto.ExportFormatCSV)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))

	_, err = NewExportService(f.svc, nil, failingPDF{}, nil).Export(context.Background(), doc.ID, dto.ExportFormatPDF)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInternal.Code))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "iep_obrien_2024", sanitizeFilename("IEP O'Brien 2024"))
	assert.Equal(t, "iep_export", sanitizeFilename("***"))
}
