package shuffle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openquiz/escaperoom/internal/shuffle"
)

func TestOptions_IsPermutation(t *testing.T) {
	opts := []string{"alpha", "bravo", "charlie", "delta"}

	for i := 0; i < 200; i++ {
		r := shuffle.Options(opts, 2)

		assert.ElementsMatch(t, opts, r.Options, "output must be a permutation of the input")
		require.GreaterOrEqual(t, r.CorrectIndex, 0)
		require.Less(t, r.CorrectIndex, len(opts))
		assert.Equal(t, "charlie", r.Options[r.CorrectIndex], "correct index must follow the correct option")
	}
}

func TestOptions_DoesNotMutateInput(t *testing.T) {
	opts := []string{"a", "b", "c", "d"}

	shuffle.Options(opts, 0)

	assert.Equal(t, []string{"a", "b", "c", "d"}, opts)
}

func TestOptions_DuplicateText(t *testing.T) {
	// Two options share text; index tracking must still land on the
	// originally-correct slot's value without ambiguity.
	opts := []string{"same", "same", "other", "last"}

	for i := 0; i < 100; i++ {
		r := shuffle.Options(opts, 1)

		require.Equal(t, "same", r.Options[r.CorrectIndex])
	}
}

func TestOptions_EveryPositionReachable(t *testing.T) {
	opts := []string{"a", "b", "c", "d"}

	seen := make(map[int]bool)
	for i := 0; i < 500 && len(seen) < len(opts); i++ {
		r := shuffle.Options(opts, 0)
		seen[r.CorrectIndex] = true
	}

	assert.Len(t, seen, len(opts), "the correct option should be able to land anywhere")
}
