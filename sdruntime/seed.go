package sdruntime

import "math/rand/v2"

// RandomSeed draws a seed for calls that did not ask for a reproducible
// image. The result is never negative.
func RandomSeed() int64 {
	return rand.Int64()
}
