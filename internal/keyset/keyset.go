// Package keyset implements the pure set algebra over discovery keys that
// the introduction matcher builds on: deduplicated join/leave application
// and intersection.
package keyset

// ApplyJoinLeave returns (current ∪ join) \ leave, deduplicated. A key
// present in both join and leave is dropped, since leave is applied after
// the union.
func ApplyJoinLeave(current, join, leave []string) []string {
	leaving := make(map[string]struct{}, len(leave))
	for _, k := range leave {
		leaving[k] = struct{}{}
	}

	seen := make(map[string]struct{}, len(current)+len(join))
	result := make([]string, 0, len(current)+len(join))

	add := func(k string) {
		if _, gone := leaving[k]; gone {
			return
		}
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		result = append(result, k)
	}

	for _, k := range current {
		add(k)
	}
	for _, k := range join {
		add(k)
	}

	return result
}

// Intersect returns the deduplicated intersection of a and b. Order is
// stable within a single call (it follows a's order) but otherwise
// unspecified.
func Intersect(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, k := range b {
		inB[k] = struct{}{}
	}

	seen := make(map[string]struct{}, len(a))
	result := make([]string, 0, len(a))
	for _, k := range a {
		if _, ok := inB[k]; !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		result = append(result, k)
	}

	return result
}
