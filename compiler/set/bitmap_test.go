package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitmap(t *testing.T) {
	var s Bitmap

	s.Set(3)
	s.Set(70)
	s.Set(3)

	assert.True(t, s.IsSet(3))
	assert.True(t, s.IsSet(70))
	assert.False(t, s.IsSet(4))
	assert.False(t, s.IsSet(1000))
	assert.Equal(t, 2, s.Size())
	assert.Equal(t, []int{3, 70}, s.Slice())

	s.Clear(70)
	s.Clear(500)

	assert.Equal(t, []int{3}, s.Slice())
	assert.True(t, s.Equal(Of(3)))
}

func TestBitmapOr(t *testing.T) {
	s := Of(1, 2)

	assert.True(t, s.Or(Of(2, 130)))
	assert.False(t, s.Or(Of(1, 130)))
	assert.Equal(t, []int{1, 2, 130}, s.Slice())

	cp := s.Copy()
	cp.AndNot(Of(2, 130))

	assert.Equal(t, []int{1}, cp.Slice())
	assert.Equal(t, []int{1, 2, 130}, s.Slice(), "copy is independent")

	assert.True(t, s.Intersects(Of(130)))
	assert.False(t, cp.Intersects(Of(2, 130)))
}
