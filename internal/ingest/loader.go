// Package ingest detects the layout of a bookings file and normalises its
// rows into canonical records.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"divrecon/internal/domain"
)

// LoadFile reads one bookings file. Any schema or normalization problem
// aborts the whole file; no partial result is returned.
func LoadFile(path, source string) ([]domain.CanonicalRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	records, layout, err := Parse(bytes.NewReader(data), source)
	if err != nil {
		var schemaErr *SchemaError
		if errors.As(err, &schemaErr) {
			schemaErr.Path = path
		}
		var normErr *NormalizationError
		if errors.As(err, &normErr) {
			normErr.Path = path
		}
		return nil, err
	}
	log.Info().
		Str("path", path).
		Str("source", source).
		Str("layout", layout.Name).
		Int("records", len(records)).
		Msg("ingest loaded file")
	return records, nil
}

// Parse reads delimited text from r.
func Parse(r io.Reader, source string) ([]domain.CanonicalRecord, Layout, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, Layout{}, err
	}
	data := stripBOM(raw)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, Layout{}, &SchemaError{}
	}
	if err != nil {
		return nil, Layout{}, fmt.Errorf("read header: %w", err)
	}

	layout, ok := DetectLayout(header)
	if !ok {
		return nil, Layout{}, &SchemaError{Header: header}
	}
	idx := layout.indexes(header)

	var records []domain.CanonicalRecord
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, layout, fmt.Errorf("read row: %w", err)
		}
		if blankRow(fields) {
			continue
		}
		line, _ := reader.FieldPos(0)

		row := make(map[string]string, len(idx))
		for canonical, i := range idx {
			if i < len(fields) {
				row[canonical] = fields[i]
			}
		}
		record, err := NormalizeRow(row, source)
		if err != nil {
			var normErr *NormalizationError
			if errors.As(err, &normErr) {
				normErr.Line = line
			}
			return nil, layout, err
		}
		records = append(records, record)
	}
	return records, layout, nil
}

func blankRow(fields []string) bool {
	for _, f := range fields {
		if len(bytes.TrimSpace([]byte(f))) > 0 {
			return false
		}
	}
	return true
}

// LoadSources loads the internal ledger and the custodian feed.
func LoadSources(nbimPath, custodianPath string) ([]domain.CanonicalRecord, []domain.CanonicalRecord, error) {
	nbim, err := LoadFile(nbimPath, domain.SourceNBIM)
	if err != nil {
		return nil, nil, err
	}
	custodian, err := LoadFile(custodianPath, domain.SourceCustodian)
	if err != nil {
		return nil, nil, err
	}
	return nbim, custodian, nil
}
