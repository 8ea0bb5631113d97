package investor

// DedupResult is the outcome of a deduplication pass.
type DedupResult struct {
	Unique            []Record
	DuplicatesRemoved int
	InvalidRemoved    int
}

// Deduplicate keeps one record per normalized name in a single pass.
//
// Records without a usable name are dropped and counted invalid. On a name
// collision the later record replaces the kept one only when its
// Completeness is strictly greater; the kept slot keeps its position.
// Running it again on Unique removes nothing.
func Deduplicate(records []Record) DedupResult {
	var res DedupResult
	index := make(map[string]int, len(records))
	unique := make([]Record, 0, len(records))
	for _, r := range records {
		key := NormalizeName(r.Name)
		if key == "" {
			res.InvalidRemoved++
			continue
		}
		pos, ok := index[key]
		if !ok {
			index[key] = len(unique)
			unique = append(unique, r)
			continue
		}
		res.DuplicatesRemoved++
		if Completeness(r) > Completeness(unique[pos]) {
			unique[pos] = r
		}
	}
	res.Unique = unique
	return res
}
