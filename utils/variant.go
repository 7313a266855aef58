package utils

import (
	"fmt"
	"hash/fnv"
)

// AssignVariant deterministically maps a (leadID, abKey) pair to one of
// the variant labels. The same lead always lands in the same bucket for
// the same test, which keeps open/click attribution consistent across
// repeated sends.
func AssignVariant(leadID uint, abKey string, variants []string) string {
	if len(variants) == 0 {
		return ""
	}
	h := fnv.New32a()
	fmt.Fprintf(h, "%d:%s", leadID, abKey)
	return variants[h.Sum32()%uint32(len(variants))]
}

// VariantLabels returns the conventional labels ("A", "B", ...) for n
// variants. Beyond 26 it continues with "AA", "AB", and so on.
func VariantLabels(n int) []string {
	labels := make([]string, n)
	for i := 0; i < n; i++ {
		labels[i] = variantLabel(i)
	}
	return labels
}

func variantLabel(i int) string {
	label := ""
	for {
		label = string(rune('A'+i%26)) + label
		i = i/26 - 1
		if i < 0 {
			break
		}
	}
	return label
}
