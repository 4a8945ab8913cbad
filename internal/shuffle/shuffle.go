// Package shuffle permutes a question's answer options while tracking
// where the correct option lands.
package shuffle

import (
	"math/rand"
)

// Result is a permutation of the input options plus the permuted
// position of the originally-correct option.
type Result struct {
	Options      []string
	CorrectIndex int
}

// Options returns an unbiased permutation of opts. The correct option
// is tracked by its original index, not by value, so duplicate option
// text cannot misattribute correctness.
func Options(opts []string, correctIndex int) Result {
	perm := make([]int, len(opts))
	for i := range perm {
		perm[i] = i
	}

	// Fisher-Yates over the index slice.
	for i := len(perm) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}

	r := Result{
		Options:      make([]string, len(opts)),
		CorrectIndex: -1,
	}
	for pos, orig := range perm {
		r.Options[pos] = opts[orig]
		if orig == correctIndex {
			r.CorrectIndex = pos
		}
	}

	return r
}
