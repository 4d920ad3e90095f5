package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInnerProduct(t *testing.T) {
	assert.InDelta(t, 11.0, InnerProduct([]float32{1, 2}, []float32{3, 4}), 1e-9)
	assert.Equal(t, 0.0, InnerProduct([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, InnerProduct(nil, nil))
}

func TestTopKStable(t *testing.T) {
	hits := topK([]float32{1}, [][]float32{{0.5}, {1}, {0.5}, {1}}, 3)
	assert.Equal(t, []int{1, 3, 0}, []int{hits[0].pos, hits[1].pos, hits[2].pos})
}
