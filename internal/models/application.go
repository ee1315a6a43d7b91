// internal/models/application.go
package models

import "strings"

// Nomination flag values.
const (
	NominationAccepted = "ANO"
	NominationRejected = "NE"
)

// ApplicationKey identifies an application by student and institute.
type ApplicationKey struct {
	StudentID     string `json:"studentId"`
	InstituteCode string `json:"instituteCode"`
}

// Valid reports whether both parts of the key are non-empty.
func (k ApplicationKey) Valid() bool {
	return k.StudentID != "" && k.InstituteCode != ""
}

// ApplicationRecord is one student's application to one partner institute.
// Extra holds the source row so untouched columns survive encoding.
type ApplicationRecord struct {
	StudentID     string `json:"studentId"`
	InstituteCode string `json:"instituteCode"`
	DegreeText    string `json:"degreeText"`
	Priority      int    `json:"priority"`
	Rank          int    `json:"rank"`
	Nomination    string `json:"nomination"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Extra         Row    `json:"-"`
}

func (a ApplicationRecord) Key() ApplicationKey {
	return ApplicationKey{StudentID: a.StudentID, InstituteCode: a.InstituteCode}
}

// Accepted reports an ANO flag, ignoring case and surrounding spaces.
func (a ApplicationRecord) Accepted() bool {
	return strings.EqualFold(strings.TrimSpace(a.Nomination), NominationAccepted)
}

// Rejected reports an NE flag, ignoring case and surrounding spaces.
func (a ApplicationRecord) Rejected() bool {
	return strings.EqualFold(strings.TrimSpace(a.Nomination), NominationRejected)
}

// NormalizeFlag upper-cases and trims the nomination flag in place.
func (a *ApplicationRecord) NormalizeFlag() {
	a.Nomination = strings.ToUpper(strings.TrimSpace(a.Nomination))
}

// DecodeApplications converts table rows into typed records. Unmapped fields
// keep their zero value; malformed numbers become 0.
func DecodeApplications(set RecordSet, schema ColumnSchema) []ApplicationRecord {
	records := make([]ApplicationRecord, 0, len(set.Rows))
	for _, row := range set.Rows {
		records = append(records, DecodeApplication(row, schema))
	}
	return records
}

func DecodeApplication(row Row, schema ColumnSchema) ApplicationRecord {
	rec := ApplicationRecord{Extra: row.Clone()}
	if label, ok := schema.Label(FieldStudentID); ok {
		rec.StudentID = CellText(row[label])
	}
	if label, ok := schema.Label(FieldInstituteCode); ok {
		rec.InstituteCode = CellText(row[label])
	}
	if label, ok := schema.Label(FieldDegree); ok {
		rec.DegreeText = CellText(row[label])
	}
	if label, ok := schema.Label(FieldPriority); ok {
		rec.Priority = CellInt(row[label])
	}
	if label, ok := schema.Label(FieldRank); ok {
		rec.Rank = CellInt(row[label])
	}
	if label, ok := schema.Label(FieldNomination); ok {
		rec.Nomination = CellText(row[label])
	}
	if label, ok := schema.Label(FieldEmail); ok {
		rec.Email = CellText(row[label])
	}
	if label, ok := schema.Label(FieldPhone); ok {
		rec.Phone = CellText(row[label])
	}
	return rec
}

// EncodeApplications writes records back into rows over the given columns.
// Only the fields the pipeline rewrites (priority, rank, nomination) are
// written, and only when their column exists; everything else is carried
// over from Extra verbatim.
func EncodeApplications(records []ApplicationRecord, columns []string, schema ColumnSchema) RecordSet {
	priorityLabel, hasPriority := schema.Present(columns, FieldPriority)
	rankLabel, hasRank := schema.Present(columns, FieldRank)
	nominationLabel, hasNomination := schema.Present(columns, FieldNomination)

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		row := rec.Extra.Clone()
		if hasPriority {
			row[priorityLabel] = rec.Priority
		}
		if hasRank {
			row[rankLabel] = rec.Rank
		}
		if hasNomination {
			// An absent flag stays absent until a step assigns one.
			if rec.Nomination != "" || row[nominationLabel] != nil {
				row[nominationLabel] = rec.Nomination
			}
		}
		rows = append(rows, row)
	}
	return NewRecordSet(columns, rows...)
}
