package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStage_String(t *testing.T) {
	cases := []struct {
		stage Stage
		want  string
	}{
		{StageScanning, "Scanning"},
		{StageChunking, "Chunking"},
		{StageGraph, "Graph"},
		{StageEmbedding, "Embedding"},
		{StageIndexing, "Indexing"},
		{StageComplete, "Complete"},
		{Stage(99), "Unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.stage.String())
	}
}

func TestStage_Icon(t *testing.T) {
	assert.Equal(t, "SCAN", StageScanning.Icon())
	assert.Equal(t, "GRAPH", StageGraph.Icon())
	assert.Equal(t, "DONE", StageComplete.Icon())
	assert.Equal(t, "???", Stage(99).Icon())
}

func TestIsTTY_NonFileWriters(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
}

func TestNewConfig_Defaults(t *testing.T) {
	buf := &bytes.Buffer{}

	cfg := NewConfig(buf)

	assert.Same(t, buf, cfg.Output.(*bytes.Buffer))
	assert.False(t, cfg.ForcePlain)
	assert.False(t, cfg.NoColor)
	assert.Equal(t, "dots", cfg.SpinnerStyle)
}

func TestNewConfig_Options(t *testing.T) {
	cfg := NewConfig(&bytes.Buffer{},
		WithForcePlain(true),
		WithNoColor(true),
		WithProjectDir("/srv/code"))

	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "/srv/code", cfg.ProjectDir)
}

func TestNewRenderer_ForcePlain(t *testing.T) {
	cfg := NewConfig(&bytes.Buffer{}, WithForcePlain(true))

	r := NewRenderer(cfg)

	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestNewRenderer_NonTTYFallsBackToPlain(t *testing.T) {
	cfg := NewConfig(&bytes.Buffer{})

	r := NewRenderer(cfg)

	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestDetectCI(t *testing.T) {
	t.Setenv("CI", "true")
	assert.True(t, DetectCI())
}

func TestErrorEvent_WarnFlag(t *testing.T) {
	warn := ErrorEvent{File: "a.go", IsWarn: true}
	hard := ErrorEvent{File: "b.go"}

	assert.True(t, warn.IsWarn)
	assert.False(t, hard.IsWarn)
}
