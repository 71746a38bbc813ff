package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

func TestDecodeFrame(t *testing.T) {
	payload := []byte(`{
		"pos": [1, 2], "heading": 0.5, "vel": [0.3, 0],
		"obs": [{"range": 2, "bearing": 0, "vr": -1, "vt": 0}],
		"points": [{"rel": [0, 3], "rel_vel": [0, 0]}],
		"neighbors": [{"id": 7, "pos": [4, 4], "vel": [1, 0]}],
		"pref": [1, 0],
		"obstacles": [[5, 5]]
	}`)

	f, err := decodeFrame(payload)
	require.NoError(t, err)

	assert.Equal(t, r2.Vec{X: 1, Y: 2}, f.Position)
	assert.Equal(t, 0.5, f.Heading)
	require.Len(t, f.Observations, 2)
	assert.Equal(t, -1.0, f.Observations[0].RadialVelocity)
	assert.InDelta(t, 3, f.Observations[1].Range, 1e-12)
	assert.InDelta(t, math.Pi/2, f.Observations[1].Bearing, 1e-12)
	require.Len(t, f.Neighbors, 1)
	assert.Equal(t, 7, f.Neighbors[0].ID)
	require.NotNil(t, f.Preference)
	assert.Equal(t, r2.Vec{X: 1}, *f.Preference)
	assert.Equal(t, []r2.Vec{{X: 5, Y: 5}}, f.Obstacles)
}

func TestDecodeFrame_Minimal(t *testing.T) {
	f, err := decodeFrame([]byte(`{}`))
	require.NoError(t, err)
	assert.Nil(t, f.Preference)
	assert.Empty(t, f.Observations)
}

func TestDecodeFrame_Invalid(t *testing.T) {
	_, err := decodeFrame([]byte(`{"pos": "nope"}`))
	assert.Error(t, err)
}
