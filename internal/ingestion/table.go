package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Reserved table columns. Every other column becomes a clip property.
const (
	ColumnFieldID = "fieldId"
	ColumnValue   = "value"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// ParseTable reads a CSV or XLSX upload into data clips. The first
// non-empty row is the header and must name the fieldId and value columns;
// empty property cells are omitted.
func ParseTable(fileName string, payload []byte) ([]DataInput, error) {
	var (
		rows [][]string
		err  error
	)
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		rows, err = readCSV(payload)
	case ".xlsx":
		rows, err = readExcel(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}
	return tableToInputs(rows)
}

func readCSV(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

func readExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return rows, nil
}

func tableToInputs(records [][]string) ([]DataInput, error) {
	var (
		headers []string
		inputs  []DataInput
	)
	fieldCol, valueCol := -1, -1

	for _, row := range records {
		if isEmptyRow(row) {
			continue
		}
		if headers == nil {
			headers = make([]string, len(row))
			for i, cell := range row {
				headers[i] = strings.TrimSpace(cell)
				switch headers[i] {
				case ColumnFieldID:
					fieldCol = i
				case ColumnValue:
					valueCol = i
				}
			}
			if fieldCol < 0 || valueCol < 0 {
				return nil, fmt.Errorf("header must contain %q and %q columns", ColumnFieldID, ColumnValue)
			}
			continue
		}

		row = padRow(row, len(headers))
		input := DataInput{
			FieldID: strings.TrimSpace(row[fieldCol]),
			Value:   strings.TrimSpace(row[valueCol]),
		}
		for i, header := range headers {
			if i == fieldCol || i == valueCol || header == "" {
				continue
			}
			cell := strings.TrimSpace(row[i])
			if cell == "" {
				continue
			}
			if input.Properties == nil {
				input.Properties = make(map[string]any)
			}
			input.Properties[header] = cell
		}
		inputs = append(inputs, input)
	}

	if headers == nil {
		return nil, errors.New("no rows found in file")
	}
	return inputs, nil
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
