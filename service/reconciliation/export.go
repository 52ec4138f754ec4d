/*
 * @module service/reconciliation/export
 * @description Export of run results and season discrepancies as json, csv or xlsx
 * @architecture Layered architecture - business service layer, read-only
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow Load persisted rows -> render requested format -> bytes + filename
 * @rules Exports never mutate state; unknown formats are a request error
 * @dependencies github.com/xuri/excelize/v2
 * @refs api/controllers/validation_controller.go
 */

package reconciliation

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"nhlrecon-service/service/models"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ExportFile is a rendered export ready for download.
type ExportFile struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ExportService renders persisted engine data for download.
type ExportService struct {
	db *gorm.DB
}

// NewExportService creates an export service instance.
func NewExportService(db *gorm.DB) *ExportService {
	return &ExportService{db: db}
}

// ExportRun renders one run with all its results.
func (s *ExportService) ExportRun(ctx context.Context, runID, format string) (*ExportFile, error) {
	var run models.ValidationRun
	if err := s.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		return nil, err
	}
	var results []models.ValidationResult
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("loading run results failed: %w", err)
	}

	stamp := run.StartedAt.Format("20060102_150405")
	base := fmt.Sprintf("validation_run_%s_%s", shortID(runID), stamp)

	switch format {
	case FormatJSON, "":
		content, err := json.MarshalIndent(RunDetail{ValidationRun: run, Results: results}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding run export failed: %w", err)
		}
		return &ExportFile{content, "application/json", base + ".json"}, nil
	case FormatCSV:
		content, err := renderCSV(resultHeader, resultRows(results))
		if err != nil {
			return nil, err
		}
		return &ExportFile{content, "text/csv", base + ".csv"}, nil
	case FormatXLSX:
		content, err := renderXLSX("Results", resultHeader, resultRows(results))
		if err != nil {
			return nil, err
		}
		return &ExportFile{content, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", base + ".xlsx"}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// ExportSeasonDiscrepancies renders a season's discrepancy backlog.
func (s *ExportService) ExportSeasonDiscrepancies(ctx context.Context, seasonID, format string) (*ExportFile, error) {
	var items []models.Discrepancy
	if err := s.db.WithContext(ctx).
		Where("season_id = ?", seasonID).
		Order("last_seen_at DESC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("loading season discrepancies failed: %w", err)
	}

	base := fmt.Sprintf("discrepancies_%s_%s", seasonID, time.Now().Format("20060102"))

	switch format {
	case FormatJSON, "":
		content, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding discrepancy export failed: %w", err)
		}
		return &ExportFile{content, "application/json", base + ".json"}, nil
	case FormatCSV:
		content, err := renderCSV(discrepancyHeader, discrepancyRows(items))
		if err != nil {
			return nil, err
		}
		return &ExportFile{content, "text/csv", base + ".csv"}, nil
	case FormatXLSX:
		content, err := renderXLSX("Discrepancies", discrepancyHeader, discrepancyRows(items))
		if err != nil {
			return nil, err
		}
		return &ExportFile{content, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", base + ".xlsx"}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

var resultHeader = []string{
	"result_id", "rule_name", "game_id", "entity_type", "entity_id",
	"field_name", "passed", "severity", "difference", "message", "created_at",
}

func resultRows(results []models.ValidationResult) [][]string {
	rows := make([][]string, 0, len(results))
	for i := range results {
		r := &results[i]
		rows = append(rows, []string{
			r.ID, r.RuleName, deref(r.GameID), r.EntityType, r.EntityID,
			r.FieldName, strconv.FormatBool(r.Passed), r.Severity,
			floatText(r.Difference), r.Message, r.CreatedAt.Format(time.RFC3339),
		})
	}
	return rows
}

var discrepancyHeader = []string{
	"discrepancy_id", "rule_name", "game_id", "entity_type", "entity_id", "field_name",
	"source_a", "source_a_value", "source_b", "source_b_value",
	"difference", "severity", "resolution_status", "seen_count", "first_seen_at", "last_seen_at",
}

func discrepancyRows(items []models.Discrepancy) [][]string {
	rows := make([][]string, 0, len(items))
	for i := range items {
		d := &items[i]
		rows = append(rows, []string{
			d.ID, d.RuleName, deref(d.GameID), d.EntityType, d.EntityID, d.FieldName,
			d.SourceA, deref(d.SourceAValue), d.SourceB, deref(d.SourceBValue),
			floatText(d.Difference), d.Severity, d.ResolutionStatus,
			strconv.Itoa(d.SeenCount),
			d.FirstSeenAt.Format(time.RFC3339), d.LastSeenAt.Format(time.RFC3339),
		})
	}
	return rows
}

func renderCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing csv failed: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing csv failed: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("writing csv failed: %w", err)
	}
	return buf.Bytes(), nil
}

func renderXLSX(sheet string, header []string, rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("creating sheet failed: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	writeRow := func(rowIdx int, values []string) error {
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
		return nil
	}

	if err := writeRow(1, header); err != nil {
		return nil, fmt.Errorf("writing xlsx header failed: %w", err)
	}
	for i, row := range rows {
		if err := writeRow(i+2, row); err != nil {
			return nil, fmt.Errorf("writing xlsx row failed: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("encoding xlsx failed: %w", err)
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func floatText(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'g', -1, 64)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
