// Package frame shapes calendar events into the host's columnar data format.
package frame

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/beekhof/calendar-datasource/internal/calendar"
)

// FieldType is the column type understood by the host.
type FieldType string

const (
	FieldTypeTime   FieldType = "time"
	FieldTypeString FieldType = "string"
)

// Column names of an event frame, in order.
const (
	FieldStartTime   = "startTime"
	FieldEndTime     = "endTime"
	FieldSummary     = "summary"
	FieldDisplayName = "displayName"
	FieldDescription = "description"
)

// Field is one column of a Frame.
type Field struct {
	Name   string    `json:"name"`
	Type   FieldType `json:"type"`
	Values []any     `json:"values"`
}

// Frame is a table of equally long columns, tagged with the query it answers.
type Frame struct {
	RefID  string   `json:"refId"`
	Fields []*Field `json:"fields"`
}

// NewEventFrame returns an empty frame with the event columns.
func NewEventFrame(refID string) *Frame {
	return &Frame{
		RefID: refID,
		Fields: []*Field{
			{Name: FieldStartTime, Type: FieldTypeTime, Values: []any{}},
			{Name: FieldEndTime, Type: FieldTypeTime, Values: []any{}},
			{Name: FieldSummary, Type: FieldTypeString, Values: []any{}},
			{Name: FieldDisplayName, Type: FieldTypeString, Values: []any{}},
			{Name: FieldDescription, Type: FieldTypeString, Values: []any{}},
		},
	}
}

// Shape builds the event frame for refID, one row per event in the given order.
func Shape(refID string, events []calendar.NormalizedEvent) *Frame {
	f := NewEventFrame(refID)
	for _, ev := range events {
		f.AppendRow(ev.StartTime, ev.EndTime, ev.Summary, ev.OrganizerDisplayName, ev.Description)
	}
	return f
}

// AppendRow adds one value to every column. len(values) must equal len(f.Fields).
func (f *Frame) AppendRow(values ...any) {
	if len(values) != len(f.Fields) {
		panic(fmt.Sprintf("frame: row has %d values, frame has %d fields", len(values), len(f.Fields)))
	}
	for i, v := range values {
		f.Fields[i].Values = append(f.Fields[i].Values, v)
	}
}

// Rows returns the number of rows.
func (f *Frame) Rows() int {
	if len(f.Fields) == 0 {
		return 0
	}
	return len(f.Fields[0].Values)
}

// FieldNames returns the column names in order.
func (f *Frame) FieldNames() []string {
	names := make([]string, len(f.Fields))
	for i, field := range f.Fields {
		names[i] = field.Name
	}
	return names
}

// WriteTable renders the frame as a text table.
func (f *Frame) WriteTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(f.FieldNames())
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for row := 0; row < f.Rows(); row++ {
		cells := make([]string, len(f.Fields))
		for i, field := range f.Fields {
			cells[i] = formatCell(field.Values[row])
		}
		table.Append(cells)
	}
	table.Render()
}

func formatCell(v any) string {
	switch v := v.(type) {
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
