package ingestion

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
)

func TestParseTable_CSV(t *testing.T) {
	payload := append([]byte{0xEF, 0xBB, 0xBF}, []byte("fieldId,value,participantId,visit\n"+
		"age, 42,P1,1\n"+
		",,,\n"+
		"height,180,P1,\n")...)

	inputs, err := ParseTable("upload.csv", payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []DataInput{
		{FieldID: "age", Value: "42", Properties: map[string]any{"participantId": "P1", "visit": "1"}},
		{FieldID: "height", Value: "180", Properties: map[string]any{"participantId": "P1"}},
	}
	if diff := cmp.Diff(want, inputs); diff != "" {
		t.Fatalf("unexpected inputs (-want +got):\n%s", diff)
	}
}

func TestParseTable_XLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"fieldId", "value", "participantId"},
		{"age", "42", "P1"},
		{"sex", "F", ""},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	inputs, err := ParseTable("Upload.XLSX", buf.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []DataInput{
		{FieldID: "age", Value: "42", Properties: map[string]any{"participantId": "P1"}},
		{FieldID: "sex", Value: "F"},
	}
	if diff := cmp.Diff(want, inputs); diff != "" {
		t.Fatalf("unexpected inputs (-want +got):\n%s", diff)
	}
}

func TestParseTable_Errors(t *testing.T) {
	if _, err := ParseTable("upload.txt", []byte("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := ParseTable("upload.csv", []byte("field,val\nage,1\n")); err == nil {
		t.Fatalf("expected error for missing reserved columns")
	}
	if _, err := ParseTable("upload.csv", []byte("\n\n")); err == nil {
		t.Fatalf("expected error for empty file")
	}
}
