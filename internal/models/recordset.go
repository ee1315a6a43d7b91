// internal/models/recordset.go
package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Row maps a column label to a scalar cell value (string or number).
type Row map[string]interface{}

// Clone returns a shallow copy of the row. Cells are scalars, so a shallow
// copy is enough to keep the original untouched.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RecordSet is an ordered table exchanged with the outside world.
type RecordSet struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

func NewRecordSet(columns []string, rows ...Row) RecordSet {
	cols := make([]string, len(columns))
	copy(cols, columns)
	if rows == nil {
		rows = []Row{}
	}
	return RecordSet{Columns: cols, Rows: rows}
}

func (rs RecordSet) Len() int {
	return len(rs.Rows)
}

// HasColumn reports whether label is one of the table's columns.
func (rs RecordSet) HasColumn(label string) bool {
	for _, c := range rs.Columns {
		if c == label {
			return true
		}
	}
	return false
}

// Clone deep-copies the column list and every row.
func (rs RecordSet) Clone() RecordSet {
	rows := make([]Row, len(rs.Rows))
	for i, r := range rs.Rows {
		rows[i] = r.Clone()
	}
	return NewRecordSet(rs.Columns, rows...)
}

// CellText renders a cell as trimmed text. Whole floats lose their ".0" so a
// numeric institute code read from a spreadsheet compares equal to its text form.
func CellText(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return ""
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return CellText(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case json.Number:
		return strings.TrimSpace(val.String())
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
}

// CellInt coerces a cell to an integer. Anything that is not a finite number
// yields 0; fractional values are truncated.
func CellInt(v interface{}) int {
	switch val := v.(type) {
	case nil:
		return 0
	case int:
		return val
	case int64:
		return int(val)
	case int32:
		return int(val)
	case float64:
		return floatToInt(val)
	case float32:
		return floatToInt(float64(val))
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
		f, err := val.Float64()
		if err != nil {
			return 0
		}
		return floatToInt(f)
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0
		}
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
		if err != nil {
			return 0
		}
		return floatToInt(f)
	default:
		return 0
	}
}

func floatToInt(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(f)
}
