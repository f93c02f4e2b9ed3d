package cities

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Column names expected in the CSV header.
const (
	ColumnCity   = "city"
	ColumnStatus = "farming_status"
)

// ErrMissingColumn is returned when the CSV header lacks a required column.
var ErrMissingColumn = errors.New("missing column")

// LoadCSV reads the city table from a CSV file with a header row.
func LoadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open city table: %w", err)
	}
	defer f.Close()
	t, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("city table %s: %w", path, err)
	}
	return t, nil
}

// ReadCSV parses CSV data. The city and farming_status columns are located by
// header name (case-insensitive); other columns are ignored.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty file: %w", ErrMissingColumn)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cityIdx, statusIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))) {
		case ColumnCity:
			cityIdx = i
		case ColumnStatus:
			statusIdx = i
		}
	}
	if cityIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnCity)
	}
	if statusIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnStatus)
	}

	var records []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		if cityIdx >= len(row) {
			continue
		}
		rec := Record{Name: row[cityIdx]}
		if statusIdx < len(row) {
			rec.FarmingStatus = row[statusIdx]
		}
		records = append(records, rec)
	}
	return NewTable(records), nil
}
