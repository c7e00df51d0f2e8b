package history

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"motorent/internal/models"
)

const maxSheetName = 31

var bookingColumns = []string{
	"ID", "Customer", "Phone", "Motorcycle", "Start date", "Start time",
	"End date", "End time", "Raincoats", "Helmets", "Total", "Status", "Created",
}

// sheetWriter fills an xlsx workbook one row at a time.
type sheetWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

func (w *sheetWriter) addSheet(name string) error {
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

func (w *sheetWriter) writeHeader(columns []string) error {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.writeRow(row); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, w.currentRow-1)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow-1)
		_ = w.file.SetCellStyle(w.currentSheet, startCell, endCell, style)
	}
	return nil
}

func (w *sheetWriter) writeRow(row []any) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &row); err != nil {
		return err
	}
	w.currentRow++
	return nil
}

// Export writes bookings and their summary as an xlsx workbook to out.
func Export(out io.Writer, bookings []models.Booking) error {
	w := newSheetWriter()
	defer w.file.Close()

	if err := fill(w, bookings); err != nil {
		return err
	}
	return w.file.Write(out)
}

// ExportFile writes the workbook to path.
func ExportFile(path string, bookings []models.Booking) error {
	w := newSheetWriter()
	defer w.file.Close()

	if err := fill(w, bookings); err != nil {
		return err
	}
	if err := w.file.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func fill(w *sheetWriter, bookings []models.Booking) error {
	if err := w.addSheet("Bookings"); err != nil {
		return err
	}
	if err := w.writeHeader(bookingColumns); err != nil {
		return err
	}
	for _, b := range bookings {
		if err := w.writeRow(bookingRow(b)); err != nil {
			return fmt.Errorf("write booking %d: %w", b.ID, err)
		}
	}

	sum := Summarize(bookings)
	if err := w.addSheet("Summary"); err != nil {
		return err
	}
	if err := w.writeHeader([]string{"Metric", "Value"}); err != nil {
		return err
	}
	rows := [][]any{
		{"Bookings", sum.Bookings},
		{"Total spent", sum.TotalSpent},
	}
	statuses := make([]string, 0, len(sum.ByStatus))
	for s := range sum.ByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		rows = append(rows, []any{s, sum.ByStatus[models.BookingStatus(s)]})
	}
	for _, r := range rows {
		if err := w.writeRow(r); err != nil {
			return err
		}
	}
	return nil
}

func bookingRow(b models.Booking) []any {
	unit := ""
	if b.Unit != nil {
		unit = b.Unit.DisplayName()
	}
	created := ""
	if !b.CreatedAt.IsZero() {
		created = b.CreatedAt.UTC().Format("2006-01-02 15:04")
	}
	return []any{
		b.ID, b.CustomerName, b.Phone, unit, b.StartDate, b.StartTime,
		b.EndDate, b.EndTime, b.RaincoatCount, b.HelmetCount, b.TotalPrice,
		string(b.Status), created,
	}
}
