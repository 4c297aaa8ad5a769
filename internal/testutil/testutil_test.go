package testutil

import (
	"testing"

	"github.com/banshee-data/cloudsplit/internal/cloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestUniformCube(t *testing.T) {
	t.Parallel()

	a := UniformCube(500, 4, 7)
	b := UniformCube(500, 4, 7)
	require.Equal(t, 500, a.Len())
	assert.Equal(t, a.Points, b.Points, "same seed, same cloud")
	for _, p := range a.Points {
		for axis := range 3 {
			assert.GreaterOrEqual(t, p[axis], 0.0)
			assert.Less(t, p[axis], 4.0)
		}
	}
	AssertNoError(t, a.Validate())
}

func TestWithColorAndLabels(t *testing.T) {
	t.Parallel()

	pc := WithSequentialLabels(WithColor(UniformCube(300, 1, 1)), 4)
	AssertNoError(t, pc.Validate())
	assert.True(t, pc.HasColor)
	assert.Len(t, pc.Features, 300)
	assert.Equal(t, []int32{0, 1, 2, 3, 0}, pc.Labels[:5])
	assert.Equal(t, [3]float64{1, 0, 0.5}, pc.Features[255])
}

func TestCluster(t *testing.T) {
	t.Parallel()

	origin := cloud.Point3{2, 3, 4}
	for _, p := range Cluster(origin, 20) {
		for axis := range 3 {
			assert.GreaterOrEqual(t, p[axis], origin[axis])
			assert.Less(t, p[axis], origin[axis]+0.5)
		}
	}
}
