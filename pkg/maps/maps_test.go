package maps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeysAndValues(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Keys[string, int, map[string]int](nil))
	assert.Nil(t, Values[string, int, map[string]int](nil))

	m := map[string]int{"a": 1, "b": 2}
	assert.ElementsMatch(t, []string{"a", "b"}, Keys(m))
	assert.ElementsMatch(t, []int{1, 2}, Values(m))
}

func TestSelect(t *testing.T) {
	t.Parallel()

	m := map[string]int{"a": 1, "b": 2, "c": 3}
	odd := Select(m, func(_ string, v int) bool { return v%2 == 1 })
	assert.Equal(t, map[string]int{"a": 1, "c": 3}, odd)
}
