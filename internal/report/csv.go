package report

import (
	"encoding/csv"
	"os"
	"path/filepath"

	"divrecon/internal/domain"
)

// WriteCSV writes the flat row view with a header, one line per break.
func WriteCSV(path string, breaks []domain.BreakDetail) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(domain.RowColumns); err != nil {
		return err
	}
	record := make([]string, len(domain.RowColumns))
	for _, b := range breaks {
		row := b.Row()
		for i, col := range domain.RowColumns {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
