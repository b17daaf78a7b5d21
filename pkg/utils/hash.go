package utils

import (
	"github.com/cespare/xxhash/v2"
)

const fractionBits = 53

// BucketFraction maps key to a stable value in [0, 1). xxhash64 is a fixed
// published algorithm, so the result does not depend on process, platform or
// Go release. Only the top 53 bits are used so the float64 is exact and never 1.0.
func BucketFraction(key string) float64 {
	h := xxhash.Sum64String(key)
	return float64(h>>(64-fractionBits)) / float64(uint64(1)<<fractionBits)
}

func CompositeKey(parts ...string) string {
	n := len(parts) - 1
	for _, p := range parts {
		n += len(p)
	}
	if n < 0 {
		return ""
	}

	b := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			b = append(b, ':')
		}
		b = append(b, p...)
	}
	return string(b)
}
