package allocation

import "nomination-workers/internal/models"

// DefaultResultColumns is the column layout of the nomination office's result sheet.
var DefaultResultColumns = []string{
	"Institut",
	"Domácí katedra",
	"ID code",
	"Subject area2",
	"Číslo UK",
	"Číslo přihlášky",
	"Studying for degree",
	"NOMINOVÁN",
	"PRIORITA",
	"Pořadí",
	"Status přijetí",
	"Pomocné - důvod přijetí",
	"UserID",
	"Rozřazovací kolo",
}

// ProjectResult copies the result rows onto a fixed column list. A report
// column is filled from the source column of the same name; columns the
// source lacks become empty strings.
func ProjectResult(result models.RecordSet, columns []string) models.RecordSet {
	if len(columns) == 0 {
		columns = DefaultResultColumns
	}
	rows := make([]models.Row, 0, len(result.Rows))
	for _, src := range result.Rows {
		row := make(models.Row, len(columns))
		for _, col := range columns {
			v, ok := src[col]
			if !ok || v == nil || !result.HasColumn(col) {
				row[col] = ""
				continue
			}
			row[col] = v
		}
		rows = append(rows, row)
	}
	return models.NewRecordSet(columns, rows...)
}
