package allocation

import (
	"sort"

	"nomination-workers/internal/models"
)

// recordGroup is a run of records sharing a key, in first-appearance order.
type recordGroup struct {
	key     string
	records []models.ApplicationRecord
}

// groupRecords partitions records by key preserving first appearance of each
// key and the original order inside a group. Records whose key is empty form
// a group of their own.
func groupRecords(records []models.ApplicationRecord, keyOf func(models.ApplicationRecord) string) []*recordGroup {
	var groups []*recordGroup
	index := make(map[string]*recordGroup)
	for _, rec := range records {
		key := keyOf(rec)
		if key == "" {
			groups = append(groups, &recordGroup{records: []models.ApplicationRecord{rec}})
			continue
		}
		g, ok := index[key]
		if !ok {
			g = &recordGroup{key: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.records = append(g.records, rec)
	}
	return groups
}

func byStudent(rec models.ApplicationRecord) string   { return rec.StudentID }
func byInstitute(rec models.ApplicationRecord) string { return rec.InstituteCode }

// FilterDuplicates keeps, for every student holding an accepted application,
// only the records whose priority is at most the best accepted priority.
// Students without an accepted application are left alone. Tied priorities
// are all retained. Flags come out trimmed and upper-cased.
func FilterDuplicates(working []models.ApplicationRecord) []models.ApplicationRecord {
	normalized := make([]models.ApplicationRecord, len(working))
	for i, rec := range working {
		rec.NormalizeFlag()
		normalized[i] = rec
	}

	out := make([]models.ApplicationRecord, 0, len(normalized))
	for _, g := range groupRecords(normalized, byStudent) {
		best, found := 0, false
		for _, rec := range g.records {
			if rec.Nomination != models.NominationAccepted {
				continue
			}
			if !found || rec.Priority < best {
				best, found = rec.Priority, true
			}
		}
		if !found {
			out = append(out, g.records...)
			continue
		}
		for _, rec := range g.records {
			if rec.Priority <= best {
				out = append(out, rec)
			}
		}
	}
	return out
}

// NormalizeOrdering renumbers ranks densely from 1 inside each institute,
// keeping the relative order of the current ranks. Records without an
// institute code keep their rank.
func NormalizeOrdering(working []models.ApplicationRecord) []models.ApplicationRecord {
	out := make([]models.ApplicationRecord, 0, len(working))
	for _, g := range groupRecords(working, byInstitute) {
		if g.key == "" {
			out = append(out, g.records...)
			continue
		}
		sorted := sortedByRank(g.records)
		for i := range sorted {
			sorted[i].Rank = i + 1
		}
		out = append(out, sorted...)
	}
	return out
}

// SelectByCapacity builds the result set: for each institute with a positive
// quota, the best ranked records up to the quota. The working set is not
// modified. A (student, institute) pair is admitted at most once.
func SelectByCapacity(working []models.ApplicationRecord, quotas Quotas) []models.ApplicationRecord {
	result := make([]models.ApplicationRecord, 0)
	admitted := make(map[models.ApplicationKey]struct{})
	for _, g := range groupRecords(working, byInstitute) {
		if g.key == "" {
			continue
		}
		capacity := quotas.Of(g.key)
		if capacity <= 0 {
			continue
		}
		taken := 0
		for _, rec := range sortedByRank(g.records) {
			if taken >= capacity {
				break
			}
			if _, dup := admitted[rec.Key()]; dup && rec.StudentID != "" {
				continue
			}
			admitted[rec.Key()] = struct{}{}
			result = append(result, rec)
			taken++
		}
	}
	return result
}

// UpdateNominations flags every working record ANO when its (student,
// institute) pair was selected and NE otherwise. Every result record is ANO.
func UpdateNominations(working, result []models.ApplicationRecord) ([]models.ApplicationRecord, []models.ApplicationRecord) {
	accepted := make(map[models.ApplicationKey]struct{}, len(result))
	for _, rec := range result {
		if key := rec.Key(); key.Valid() {
			accepted[key] = struct{}{}
		}
	}

	updatedWorking := make([]models.ApplicationRecord, len(working))
	for i, rec := range working {
		rec.Nomination = models.NominationRejected
		if _, ok := accepted[rec.Key()]; ok && rec.Key().Valid() {
			rec.Nomination = models.NominationAccepted
		}
		updatedWorking[i] = rec
	}

	updatedResult := make([]models.ApplicationRecord, len(result))
	for i, rec := range result {
		rec.Nomination = models.NominationAccepted
		updatedResult[i] = rec
	}
	return updatedWorking, updatedResult
}

func sortedByRank(records []models.ApplicationRecord) []models.ApplicationRecord {
	sorted := make([]models.ApplicationRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Rank < sorted[j].Rank
	})
	return sorted
}
