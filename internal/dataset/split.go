package dataset

import (
	"fmt"
	"math/rand/v2"
)

// Split shuffles a copy of items with seed and holds out frac of it for
// validation. The validation set gets at least one item when frac > 0 and
// there are two or more items.
func Split[T any](items []T, frac float64, seed uint64) (train, validation []T, err error) {
	if frac < 0 || frac >= 1 {
		return nil, nil, fmt.Errorf("validation fraction must be in [0,1), got %v", frac)
	}
	shuffled := append([]T(nil), items...)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	n := int(float64(len(shuffled)) * frac)
	if n == 0 && frac > 0 && len(shuffled) > 1 {
		n = 1
	}
	return shuffled[n:], shuffled[:n], nil
}
