// internal/models/capacity.go
package models

// InstituteCapacityRecord is one row of the capacity table.
type InstituteCapacityRecord struct {
	InstituteCode string `json:"instituteCode"`
	BC            int    `json:"bc"`
	MGR           int    `json:"mgr"`
	PHD           int    `json:"phd"`
	All           int    `json:"all"`
	Extra         Row    `json:"-"`
}

func DecodeCapacities(set RecordSet, schema ColumnSchema) []InstituteCapacityRecord {
	records := make([]InstituteCapacityRecord, 0, len(set.Rows))
	for _, row := range set.Rows {
		rec := InstituteCapacityRecord{Extra: row.Clone()}
		if label, ok := schema.Label(FieldInstituteCode); ok {
			rec.InstituteCode = CellText(row[label])
		}
		if label, ok := schema.Label(FieldBC); ok {
			rec.BC = CellInt(row[label])
		}
		if label, ok := schema.Label(FieldMGR); ok {
			rec.MGR = CellInt(row[label])
		}
		if label, ok := schema.Label(FieldPHD); ok {
			rec.PHD = CellInt(row[label])
		}
		if label, ok := schema.Label(FieldAll); ok {
			rec.All = CellInt(row[label])
		}
		records = append(records, rec)
	}
	return records
}

// EncodeCapacities writes the four counters into every row whose counter
// column exists. Columns that are not mapped are left as they were.
func EncodeCapacities(records []InstituteCapacityRecord, columns []string, schema ColumnSchema) RecordSet {
	type counter struct {
		field string
		value func(InstituteCapacityRecord) int
	}
	counters := []counter{
		{FieldBC, func(r InstituteCapacityRecord) int { return r.BC }},
		{FieldMGR, func(r InstituteCapacityRecord) int { return r.MGR }},
		{FieldPHD, func(r InstituteCapacityRecord) int { return r.PHD }},
		{FieldAll, func(r InstituteCapacityRecord) int { return r.All }},
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		row := rec.Extra.Clone()
		for _, c := range counters {
			if label, ok := schema.Present(columns, c.field); ok {
				row[label] = c.value(rec)
			}
		}
		rows = append(rows, row)
	}
	return NewRecordSet(columns, rows...)
}
