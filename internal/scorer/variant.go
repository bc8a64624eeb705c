package scorer

import "hash/fnv"

// PickVariant deterministically assigns a company to a test arm. The
// same (testName, companyID) pair always lands in the same arm, with
// no stored assignment state.
func PickVariant(testName, companyID string, variants []Variant) Variant {
	if len(variants) == 0 {
		return Variant{Name: "control"}
	}

	h := fnv.New64a()
	h.Write([]byte(testName))
	h.Write([]byte{0})
	h.Write([]byte(companyID))
	bucket := float64(h.Sum64()%100) / 100.0

	cumulative := 0.0
	for _, v := range variants {
		cumulative += v.Traffic
		if bucket < cumulative {
			return v
		}
	}
	// Traffic fractions summing below 1.0 route the remainder to the
	// last arm.
	return variants[len(variants)-1]
}
