package parcels

import "sort"

// CategoryCount is one entry of a frequency table.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Summary holds whole-dataset statistics.
type Summary struct {
	Total                int
	CategoryCounts       map[string]int
	ClassificationCounts map[string]int
}

func summarize(ps []*Parcel) Summary {
	return Summary{
		Total:                len(ps),
		CategoryCounts:       CountCategories(ps),
		ClassificationCounts: CountClassifications(ps),
	}
}

// CountCategories tallies Category over ps. Parcels with a null category are not counted.
func CountCategories(ps []*Parcel) map[string]int {
	counts := make(map[string]int)
	for _, p := range ps {
		if p.Category != "" {
			counts[p.Category]++
		}
	}
	return counts
}

// CountClassifications tallies Classification over ps, skipping null values.
func CountClassifications(ps []*Parcel) map[string]int {
	counts := make(map[string]int)
	for _, p := range ps {
		if p.Classification != "" {
			counts[p.Classification]++
		}
	}
	return counts
}

// TopN returns the n most frequent entries, by count descending then name.
// n <= 0 returns every entry.
func TopN(counts map[string]int, n int) []CategoryCount {
	out := make([]CategoryCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, CategoryCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
