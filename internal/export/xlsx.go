// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package export

import (
	"fmt"
	"io"
	"time"

	"github.com/mobiletoly/go-snapsync/snapsync"
	"github.com/xuri/excelize/v2"
)

const (
	SummarySheet  = "Sync Logs"
	AttemptsSheet = "Attempts"
)

var (
	summaryHeaders  = []any{"Client ID", "Timestamp", "Status", "Error", "Total Users", "Total Tasks"}
	attemptsHeaders = []any{"Client ID", "Timestamp", "Status", "Error", "Created At", "Updated At"}
)

// WriteLogsXLSX writes the latest-per-client summaries to w as an XLSX workbook. When
// attempts is non-empty a second sheet lists them.
func WriteLogsXLSX(w io.Writer, logs []snapsync.LogSummary, attempts []snapsync.SyncAttempt) error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(SummarySheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(idx)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("error creating header style: %w", err)
	}
	failedStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "#C00000"},
	})
	if err != nil {
		return fmt.Errorf("error creating status style: %w", err)
	}

	if err := writeHeader(f, SummarySheet, summaryHeaders, headerStyle); err != nil {
		return err
	}
	for i, l := range logs {
		row := i + 2
		values := []any{l.ClientID, l.Timestamp, l.Status, deref(l.ErrorMessage), l.TotalUsers, l.TotalTasks}
		if err := writeRow(f, SummarySheet, row, values); err != nil {
			return err
		}
		if l.Status == snapsync.StatusFailed {
			cell, _ := excelize.CoordinatesToCellName(3, row)
			_ = f.SetCellStyle(SummarySheet, cell, cell, failedStyle)
		}
	}
	_ = f.SetColWidth(SummarySheet, "A", "C", 22)
	_ = f.SetColWidth(SummarySheet, "D", "D", 48)
	_ = f.SetColWidth(SummarySheet, "E", "F", 14)
	_ = f.SetPanes(SummarySheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if len(attempts) > 0 {
		if _, err := f.NewSheet(AttemptsSheet); err != nil {
			return fmt.Errorf("error creating sheet: %w", err)
		}
		if err := writeHeader(f, AttemptsSheet, attemptsHeaders, headerStyle); err != nil {
			return err
		}
		for i, a := range attempts {
			values := []any{a.ClientID, a.Timestamp, a.Status, deref(a.ErrorMessage),
				a.CreatedAt.UTC().Format(time.RFC3339), a.UpdatedAt.UTC().Format(time.RFC3339)}
			if err := writeRow(f, AttemptsSheet, i+2, values); err != nil {
				return err
			}
		}
		_ = f.SetColWidth(AttemptsSheet, "A", "F", 22)
	}

	_ = f.DeleteSheet("Sheet1")

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []any, style int) error {
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	return f.SetCellStyle(sheet, "A1", last, style)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("error writing row %d: %w", row, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
