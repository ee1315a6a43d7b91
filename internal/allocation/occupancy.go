package allocation

import (
	"strings"

	"nomination-workers/internal/models"
)

// DegreeBucket is the capacity column a degree counts toward.
type DegreeBucket string

const (
	DegreeNone DegreeBucket = ""
	DegreeBC   DegreeBucket = "BC"
	DegreeMGR  DegreeBucket = "MGR"
	DegreePHD  DegreeBucket = "PHD"
)

// degreeKeywords is checked in order; the first bucket with a matching
// keyword wins. "UNDERGRADUATE" lands in BC, and the bare "GRADUATE" is only a
// fallback for MGR once no doctoral keyword matched.
var degreeKeywords = []struct {
	bucket   DegreeBucket
	keywords []string
}{
	{DegreeBC, []string{"BACHELOR", "BSC", "BC", "UNDERGRADUATE"}},
	{DegreeMGR, []string{"MASTER", "MSC", "MGR"}},
	{DegreePHD, []string{"PHD", "DOCTOR", "DOCTORAL", "DR"}},
	{DegreeMGR, []string{"GRADUATE"}},
}

// NormalizeDegree maps free-form degree text to a bucket by case-insensitive
// keyword search. Text matching no keyword yields DegreeNone.
func NormalizeDegree(text string) DegreeBucket {
	upper := strings.ToUpper(strings.TrimSpace(text))
	if upper == "" {
		return DegreeNone
	}
	for _, group := range degreeKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(upper, kw) {
				return group.bucket
			}
		}
	}
	return DegreeNone
}

// CounterColumns records which capacity counters are mapped in the schema.
// Unmapped counters are neither overwritten nor used for quotas.
type CounterColumns struct {
	BC  bool `json:"bc"`
	MGR bool `json:"mgr"`
	PHD bool `json:"phd"`
	All bool `json:"all"`
}

// CountersFromSchema reports which counters have a label in schema.
func CountersFromSchema(schema models.ColumnSchema) CounterColumns {
	_, bc := schema.Label(models.FieldBC)
	_, mgr := schema.Label(models.FieldMGR)
	_, phd := schema.Label(models.FieldPHD)
	_, all := schema.Label(models.FieldAll)
	return CounterColumns{BC: bc, MGR: mgr, PHD: phd, All: all}
}

type occupancy struct {
	bc, mgr, phd, all int
}

// ComputeOccupancy overwrites each mapped counter with the number of accepted
// applications at that institute. Existing figures are replaced, not reduced.
// Applications without an institute code are skipped; degree text without a
// bucket counts toward ALL only.
func ComputeOccupancy(capacities []models.InstituteCapacityRecord, applications []models.ApplicationRecord, counters CounterColumns) []models.InstituteCapacityRecord {
	counts := make(map[string]*occupancy)
	for _, app := range applications {
		if !app.Accepted() || app.InstituteCode == "" {
			continue
		}
		occ, ok := counts[app.InstituteCode]
		if !ok {
			occ = &occupancy{}
			counts[app.InstituteCode] = occ
		}
		occ.all++
		switch NormalizeDegree(app.DegreeText) {
		case DegreeBC:
			occ.bc++
		case DegreeMGR:
			occ.mgr++
		case DegreePHD:
			occ.phd++
		}
	}

	out := make([]models.InstituteCapacityRecord, len(capacities))
	for i, rec := range capacities {
		occ := counts[rec.InstituteCode]
		if occ == nil || rec.InstituteCode == "" {
			occ = &occupancy{}
		}
		if counters.BC {
			rec.BC = occ.bc
		}
		if counters.MGR {
			rec.MGR = occ.mgr
		}
		if counters.PHD {
			rec.PHD = occ.phd
		}
		if counters.All {
			rec.All = occ.all
		}
		out[i] = rec
	}
	return out
}

// Quotas maps an institute code to the number of seats steps 4 and 6 work with.
type Quotas map[string]int

// Of returns the quota for code; unknown institutes have no seats.
func (q Quotas) Of(code string) int {
	return q[code]
}

// QuotasFromCapacities takes the ALL figure of the first row for each code.
// Without a mapped ALL column the mapped degree counters are summed instead.
func QuotasFromCapacities(capacities []models.InstituteCapacityRecord, counters CounterColumns) Quotas {
	quotas := make(Quotas, len(capacities))
	for _, rec := range capacities {
		if rec.InstituteCode == "" {
			continue
		}
		if _, seen := quotas[rec.InstituteCode]; seen {
			continue
		}
		if counters.All {
			quotas[rec.InstituteCode] = rec.All
			continue
		}
		total := 0
		if counters.BC {
			total += rec.BC
		}
		if counters.MGR {
			total += rec.MGR
		}
		if counters.PHD {
			total += rec.PHD
		}
		quotas[rec.InstituteCode] = total
	}
	return quotas
}
