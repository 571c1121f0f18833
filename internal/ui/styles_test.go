package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultStyles_HeaderIsBold(t *testing.T) {
	styles := DefaultStyles()

	assert.True(t, styles.Header.GetBold())
}

func TestNoColorStyles_RenderPassesThrough(t *testing.T) {
	styles := NoColorStyles()

	assert.Equal(t, "scanning", styles.Active.Render("scanning"))
	assert.Equal(t, "3 errors", styles.Error.Render("3 errors"))
}

func TestGetStyles(t *testing.T) {
	colored := GetStyles(false)
	plain := GetStyles(true)

	assert.True(t, colored.Header.GetBold())
	assert.False(t, plain.Header.GetBold())
}
