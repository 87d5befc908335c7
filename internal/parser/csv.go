// Package parser provides CSV parsing for rotated hourly observation
// files, used as a pre-upload sanity check before a closed file is
// shipped to the external data repository.
package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fieldwatch/telemetry-collector/pkg/models"
)

// CSVParser parses observation rows from a rotated hourly CSV file.
type CSVParser struct {
	filePath  string
	file      *os.File
	reader    *csv.Reader
	headers   []string
	headerMap map[string]int
}

// expectedColumns mirrors models.CSVHeader's fields (case-insensitive).
var expectedColumns = []string{
	"precipitation",
	"temperature",
	"humidity",
	"flooding",
	"node_id",
	"station_id",
	"collectiontime",
	"lat_deg",
	"lon_deg",
}

// NewCSVParser creates a new CSV parser for the given file.
func NewCSVParser(filePath string) (*CSVParser, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable fields
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	// Read header row
	headers, err := reader.Read()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}

	// Build header map (case-insensitive)
	headerMap := make(map[string]int)
	for i, h := range headers {
		headerMap[strings.ToLower(strings.TrimSpace(stripBOM(h)))] = i
	}

	return &CSVParser{
		filePath:  filePath,
		file:      file,
		reader:    reader,
		headers:   headers,
		headerMap: headerMap,
	}, nil
}

func stripBOM(s string) string {
	return strings.TrimPrefix(s, string(rune(0xFEFF)))
}

// Close closes the parser and underlying file.
func (p *CSVParser) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// Reset resets the parser to the beginning of the file.
func (p *CSVParser) Reset() error {
	if p.file != nil {
		p.file.Close()
	}

	file, err := os.Open(p.filePath)
	if err != nil {
		return fmt.Errorf("failed to reopen CSV file: %w", err)
	}

	p.file = file
	p.reader = csv.NewReader(file)
	p.reader.FieldsPerRecord = -1
	p.reader.LazyQuotes = true
	p.reader.TrimLeadingSpace = true

	// Skip header row
	if _, err := p.reader.Read(); err != nil {
		return fmt.Errorf("failed to skip header row: %w", err)
	}

	return nil
}

// ReadNext reads and parses the next row from the CSV.
// Returns nil when EOF is reached.
func (p *CSVParser) ReadNext() (*models.ObservationRow, error) {
	record, err := p.reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV row: %w", err)
	}

	return p.parseRecord(record)
}

// ReadBatch reads up to n records from the CSV.
func (p *CSVParser) ReadBatch(n int) ([]*models.ObservationRow, error) {
	rows := make([]*models.ObservationRow, 0, n)

	for i := 0; i < n; i++ {
		row, err := p.ReadNext()
		if err != nil {
			return rows, err
		}
		if row == nil {
			break // EOF
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// ReadAll reads all remaining records from the CSV.
func (p *CSVParser) ReadAll() ([]*models.ObservationRow, error) {
	var rows []*models.ObservationRow

	for {
		row, err := p.ReadNext()
		if err != nil {
			return rows, err
		}
		if row == nil {
			break
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// parseRecord converts a CSV record to an ObservationRow.
func (p *CSVParser) parseRecord(record []string) (*models.ObservationRow, error) {
	row := &models.ObservationRow{}

	// Helper to get field value safely
	getField := func(name string) string {
		if idx, ok := p.headerMap[strings.ToLower(name)]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	row.NodeID = getField("node_id")

	if v := getField("precipitation"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			row.Precipitation = &f
		}
	}
	if v := getField("temperature"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			row.Temperature = &f
		}
	}
	if v := getField("humidity"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			row.Humidity = &f
		}
	}
	if v := getField("flooding"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			row.Flooding = &i
		}
	}
	if v := getField("station_id"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			row.StationID = &i
		}
	}
	if v := getField("lat_deg"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			row.Lat = &f
		}
	}
	if v := getField("lon_deg"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			row.Lon = &f
		}
	}

	if collectionTimeStr := getField("collectiontime"); collectionTimeStr != "" {
		t, err := time.Parse("2006-01-02 15:04:05", collectionTimeStr)
		if err != nil {
			return nil, fmt.Errorf("invalid collectiontime %q: %w", collectionTimeStr, err)
		}
		row.CollectionTime = t
	}

	if row.NodeID == "" {
		return nil, fmt.Errorf("missing required field: node_id")
	}

	return row, nil
}

// CountRecords counts the total number of data records in the CSV.
func CountRecords(filePath string) (int, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	// Skip header
	if _, err := reader.Read(); err != nil {
		return 0, err
	}

	count := 0
	for {
		_, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

// ValidateCSV checks whether a rotated file has the expected header
// and a well-formed first data row, before the writer ships it. Rows
// after the first are not checked.
func ValidateCSV(filePath string) error {
	parser, err := NewCSVParser(filePath)
	if err != nil {
		return err
	}
	defer parser.Close()

	for _, col := range expectedColumns {
		if _, ok := parser.headerMap[col]; !ok {
			return fmt.Errorf("missing required column: %s", col)
		}
	}

	row, err := parser.ReadNext()
	if err != nil {
		return fmt.Errorf("failed to parse first record: %w", err)
	}
	if row == nil {
		return fmt.Errorf("CSV file is empty")
	}

	return nil
}
