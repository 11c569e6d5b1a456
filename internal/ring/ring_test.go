package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushAndEvict(t *testing.T) {
	b := New[int](3)
	assert.False(t, b.Push(1))
	assert.False(t, b.Push(2))
	assert.False(t, b.Push(3))
	assert.True(t, b.Full())

	assert.True(t, b.Push(4))
	assert.Equal(t, []int{2, 3, 4}, b.Slice())
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 3, b.Cap())
}

func TestDropFront(t *testing.T) {
	b := New[string](4)
	for _, s := range []string{"a", "b", "c", "d"} {
		b.Push(s)
	}
	assert.Equal(t, 2, b.DropFront(2))
	assert.Equal(t, []string{"c", "d"}, b.Slice())

	b.Push("e")
	b.Push("f")
	assert.Equal(t, []string{"c", "d", "e", "f"}, b.Slice())

	assert.Equal(t, 4, b.DropFront(10))
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Back())
}

func TestBackMutatesInPlace(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	*b.Back() += 10
	assert.Equal(t, []int{2, 13}, b.Slice())
	assert.Equal(t, 2, b.At(0))
	assert.Equal(t, 13, b.At(1))
}

func TestFromIsLazyAndRestartable(t *testing.T) {
	b := New[int](5)
	for i := range 5 {
		b.Push(i)
	}
	seq := b.From(3)

	var first []int
	for v := range seq {
		first = append(first, v)
	}
	assert.Equal(t, []int{3, 4}, first)

	b.Push(5)
	var second []int
	for v := range seq {
		second = append(second, v)
	}
	assert.Equal(t, []int{4, 5}, second)
}

func TestFromStopsEarly(t *testing.T) {
	b := New[int](4)
	for i := range 4 {
		b.Push(i)
	}
	var got []int
	for v := range b.All() {
		if v == 2 {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1}, got)
}

func TestClear(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	b.Clear()
	assert.Equal(t, 0, b.Len())
	b.Push(7)
	assert.Equal(t, []int{7}, b.Slice())
}

func TestAtPanicsOutOfRange(t *testing.T) {
	b := New[int](2)
	assert.Panics(t, func() { b.At(0) })
	assert.Panics(t, func() { New[int](0) })
}
