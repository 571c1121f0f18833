package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSparkline_EmptyRendersBlank(t *testing.T) {
	s := NewSparkline(10)

	assert.Equal(t, strings.Repeat(" ", 10), s.Render(10))
}

func TestSparkline_TallestBarIsFullHeight(t *testing.T) {
	s := NewSparkline(4)
	s.Push(1)
	s.Push(2)
	s.Push(8)

	out := []rune(s.Render(4))
	assert.Len(t, out, 4)
	assert.Equal(t, ' ', out[0], "unfilled slots pad on the left")
	assert.Equal(t, sparkLevels[len(sparkLevels)-1], out[3], "max sample renders full block")
}

func TestSparkline_WindowEvictsOldest(t *testing.T) {
	s := NewSparkline(3)
	for i := 1; i <= 5; i++ {
		s.Push(float64(i))
	}

	assert.Equal(t, 3, s.Len())
	// Window now holds 3,4,5; the newest is the tallest.
	out := []rune(s.Render(3))
	assert.Equal(t, sparkLevels[len(sparkLevels)-1], out[2])
}

func TestSparkline_RenderNarrowerThanWindow(t *testing.T) {
	s := NewSparkline(10)
	for i := 0; i < 10; i++ {
		s.Push(float64(i + 1))
	}

	out := []rune(s.Render(4))
	assert.Len(t, out, 4)
}

func TestSparkline_Reset(t *testing.T) {
	s := NewSparkline(5)
	s.Push(3)
	s.Reset()

	assert.Zero(t, s.Len())
	assert.Equal(t, strings.Repeat(" ", 5), s.Render(5))
}
