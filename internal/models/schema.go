// internal/models/schema.go
package models

import (
	"strings"

	apperrors "nomination-workers/internal/common/errors"
)

// Logical field names used by the allocation pipeline.
const (
	FieldInstituteCode = "instituteCode"
	FieldBC            = "bc"
	FieldMGR           = "mgr"
	FieldPHD           = "phd"
	FieldAll           = "all"

	FieldStudentID  = "studentId"
	FieldDegree     = "degree"
	FieldNomination = "nomination"
	FieldPriority   = "priority"
	FieldRank       = "rank"
	FieldEmail      = "email"
	FieldPhone      = "phone"
)

var knownFields = []string{
	FieldInstituteCode, FieldBC, FieldMGR, FieldPHD, FieldAll,
	FieldStudentID, FieldDegree, FieldNomination, FieldPriority, FieldRank, FieldEmail, FieldPhone,
}

// CanonicalField maps a case-insensitive field name onto its constant.
// Configuration loaders lower-case map keys, so "studentid" means studentId.
func CanonicalField(name string) string {
	for _, f := range knownFields {
		if strings.EqualFold(f, name) {
			return f
		}
	}
	return name
}

// Table names used in error reports.
const (
	TableCapacities   = "capacities"
	TableApplications = "applications"
)

// ColumnSchema maps a logical field name to the column label that holds it.
type ColumnSchema map[string]string

// DefaultCapacitySchema returns the labels of the nomination office's capacity sheet.
func DefaultCapacitySchema() ColumnSchema {
	return ColumnSchema{
		FieldInstituteCode: "ID code",
		FieldBC:            "BC",
		FieldMGR:           "MGR",
		FieldPHD:           "PHD",
		FieldAll:           "ALL",
	}
}

// DefaultApplicationSchema returns the labels of the nomination office's application sheet.
func DefaultApplicationSchema() ColumnSchema {
	return ColumnSchema{
		FieldStudentID:     "Číslo UK",
		FieldInstituteCode: "ID code",
		FieldDegree:        "Studying for degree",
		FieldNomination:    "NOMINOVÁN",
		FieldPriority:      "PRIORITA",
		FieldRank:          "Pořadí",
		FieldEmail:         "E-mail",
	}
}

// Label returns the mapped label for field. Empty labels count as unmapped.
func (s ColumnSchema) Label(field string) (string, bool) {
	label, ok := s[field]
	if !ok || label == "" {
		return "", false
	}
	return label, true
}

// Merge returns a copy of s with overrides applied. Override keys are matched
// case-insensitively and an empty value removes the mapping.
func (s ColumnSchema) Merge(overrides map[string]string) ColumnSchema {
	out := make(ColumnSchema, len(s)+len(overrides))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range overrides {
		k = CanonicalField(k)
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Present returns the label for field when it is mapped and the column exists.
func (s ColumnSchema) Present(columns []string, field string) (string, bool) {
	label, ok := s.Label(field)
	if !ok {
		return "", false
	}
	for _, c := range columns {
		if c == label {
			return label, true
		}
	}
	return "", false
}

// Resolve returns the label for field, failing with SCHEMA_COLUMN_MISSING when
// the field is unmapped or its column is absent from the table.
func (s ColumnSchema) Resolve(table string, set RecordSet, field string) (string, error) {
	label, ok := s.Label(field)
	if !ok {
		return "", apperrors.NewSchemaColumnMissingError(table, field, "")
	}
	if !set.HasColumn(label) {
		return "", apperrors.NewSchemaColumnMissingError(table, field, label)
	}
	return label, nil
}
