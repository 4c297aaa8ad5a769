package partition

import (
	"math"
	"os"
	"sort"
	"testing"

	"github.com/banshee-data/cloudsplit/internal/cloud"
	"github.com/banshee-data/cloudsplit/internal/monitoring"
	"github.com/banshee-data/cloudsplit/internal/testutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func TestAxisBoundaries(t *testing.T) {
	t.Parallel()

	t.Run("fractional max", func(t *testing.T) {
		t.Parallel()
		// linspace(0, 9, 4) = 0,3,6,9; 9 < 9.5 so the last becomes ceil(10.5)=11
		assert.Equal(t, []float64{3, 6, 11}, AxisBoundaries(0.2, 9.5, 3))
	})

	t.Run("integer max is covered", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []float64{11}, AxisBoundaries(0, 10, 1))
	})

	t.Run("negative range", func(t *testing.T) {
		t.Parallel()
		// floor(-3.5)=-4, floor(0.5)=0: linspace(-4,0,3) = -4,-2,0 -> last = ceil(1.5)=2
		assert.Equal(t, []float64{-2, 2}, AxisBoundaries(-3.5, 0.5, 2))
	})

	t.Run("flat axis", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []float64{5, 6}, AxisBoundaries(5, 5, 2))
	})
}

func TestClassLimits_YXZOrder(t *testing.T) {
	t.Parallel()

	bb := cloud.BoundingBox{Min: cloud.Point3{0, 0, 0}, Max: cloud.Point3{3.5, 3.5, 3.5}}
	// x: linspace(0,3,3)=0,1.5,3 -> [1.5, 5]; y same with 2 splits; z 1 split -> [5]
	limits, err := ClassLimits(bb, Splits{X: 2, Y: 2, Z: 1})
	require.NoError(t, err)

	want := []cloud.Point3{
		{1.5, 1.5, 5},
		{5, 1.5, 5},
		{1.5, 5, 5},
		{5, 5, 5},
	}
	assert.Equal(t, want, limits)

	limits, err = ClassLimits(bb, Splits{X: 1, Y: 2, Z: 2})
	require.NoError(t, err)
	want = []cloud.Point3{
		{5, 1.5, 1.5},
		{5, 1.5, 5},
		{5, 5, 1.5},
		{5, 5, 5},
	}
	assert.Equal(t, want, limits)

	// every axis split: Z must step before X, X before Y
	limits, err = ClassLimits(bb, Splits{X: 2, Y: 2, Z: 2})
	require.NoError(t, err)
	want = []cloud.Point3{
		{1.5, 1.5, 1.5},
		{1.5, 1.5, 5},
		{5, 1.5, 1.5},
		{5, 1.5, 5},
		{1.5, 5, 1.5},
		{1.5, 5, 5},
		{5, 5, 1.5},
		{5, 5, 5},
	}
	assert.Equal(t, want, limits)
}

func TestSplits_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    Splits
		ok   bool
	}{
		{"unit", Splits{1, 1, 1}, true},
		{"at cap", Splits{1 << 10, 1 << 10, 1}, true},
		{"zero", Splits{1, 0, 1}, false},
		{"negative", Splits{-2, 1, 1}, false},
		{"over cap", Splits{1 << 10, 1 << 10, 2}, false},
		{"product overflows int", Splits{3000000, 3000000, 3000000}, false},
		{"huge single axis", Splits{math.MaxInt, 1, 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.s.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidSplits)
		})
	}
}

func TestSplit_OversizedGrid(t *testing.T) {
	t.Parallel()

	pc := testutil.UniformCube(20, 10, 1)
	_, err := Split(Splits{X: 3000000, Y: 3000000, Z: 3000000}, pc, Options{})
	assert.ErrorIs(t, err, ErrInvalidSplits)

	bb, err := pc.Bounds()
	require.NoError(t, err)
	_, err = ClassLimits(bb, Splits{X: 3000000, Y: 3000000, Z: 3000000})
	assert.ErrorIs(t, err, ErrInvalidSplits)
}

func TestSplit_InvalidInput(t *testing.T) {
	t.Parallel()

	pc := testutil.UniformCube(20, 10, 1)
	_, err := Split(Splits{X: 0, Y: 1, Z: 1}, pc, Options{})
	assert.ErrorIs(t, err, ErrInvalidSplits)

	_, err = Split(Splits{X: 1, Y: 1, Z: 1}, &cloud.PointCloud{}, Options{})
	assert.ErrorIs(t, err, cloud.ErrEmptyCloud)

	_, err = Split(Splits{X: 1, Y: 1, Z: 1}, pc, Options{UseFeatures: true})
	assert.ErrorIs(t, err, ErrMissingFeatureData)
}

func TestSplit_SingleCellHoldsWholeCube(t *testing.T) {
	t.Parallel()

	pc := testutil.UniformCube(25, 10, 7)
	// pin the extremes so the cube spans exactly [0,10]
	pc.Points[0] = cloud.Point3{0, 0, 0}
	pc.Points[1] = cloud.Point3{10, 10, 10}

	res, err := Split(Splits{X: 1, Y: 1, Z: 1}, pc, Options{})
	require.NoError(t, err)
	require.Len(t, res.Partitions, 1)

	p := res.Partitions[0]
	assert.Equal(t, "000", p.Name)
	assert.Equal(t, 25, p.Len())
	assert.Equal(t, cloud.Point3{11, 11, 11}, p.Limit)
	assert.Equal(t, make([]int32, 25), p.Labels)
	assert.Nil(t, p.Features)
	assert.Empty(t, res.Dropped)
	assert.Empty(t, res.Unassigned)
}

func TestSplit_CoverageAndDisjointness(t *testing.T) {
	t.Parallel()

	pc := testutil.WithColor(testutil.WithSequentialLabels(testutil.UniformCube(3000, 40, 3), 8))
	res, err := Split(Splits{X: 4, Y: 3, Z: 5}, pc, Options{UseFeatures: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.Partitions)

	seen := make(map[int]bool, pc.Len())
	claim := func(i int) {
		if seen[i] {
			t.Fatalf("point %d assigned twice", i)
		}
		seen[i] = true
	}
	for _, p := range res.Partitions {
		require.Len(t, p.Labels, p.Len())
		require.Len(t, p.Features, p.Len())
		require.Len(t, p.Indices, p.Len())
		for k, i := range p.Indices {
			claim(i)
			assert.Equal(t, pc.Points[i], p.Points[k])
			assert.Equal(t, pc.Labels[i], p.Labels[k])
			assert.Equal(t, pc.Features[i], p.Features[k])
		}
	}
	for _, d := range res.Dropped {
		assert.Less(t, len(d.Indices), DefaultMinPoints)
		for _, i := range d.Indices {
			claim(i)
		}
	}
	assert.Empty(t, res.Unassigned)
	assert.Len(t, seen, pc.Len())
}

func TestSplit_PointsBelongToTheirCell(t *testing.T) {
	t.Parallel()

	pc := testutil.UniformCube(2000, 20, 11)
	res, err := Split(Splits{X: 2, Y: 2, Z: 2}, pc, Options{})
	require.NoError(t, err)

	for _, p := range res.Partitions {
		for _, pt := range p.Points {
			assert.True(t, below(pt, p.Limit), "point %v not below %v", pt, p.Limit)
			// first-match-wins: no earlier limit covers the point
			for _, earlier := range res.Limits[:p.Cell] {
				assert.False(t, below(pt, earlier), "point %v should have gone to %v", pt, earlier)
			}
		}
	}
}

func TestSplit_DropThreshold(t *testing.T) {
	t.Parallel()

	// Two populated cells along X with bounds [0, 9.5]:
	// linspace(0,9,3) = 0,4.5,9 -> limits x=4.5 and x=11.
	build := func(nLow int) *cloud.PointCloud {
		pts := testutil.Cluster(cloud.Point3{1, 1, 1}, nLow)
		pts = append(pts, testutil.Cluster(cloud.Point3{8, 1, 1}, 12)...)
		pts = append(pts, cloud.Point3{0, 0, 0}, cloud.Point3{9.5, 1, 1})
		return &cloud.PointCloud{Points: pts}
	}

	t.Run("nine points dropped", func(t *testing.T) {
		t.Parallel()
		// the origin point joins the low cluster: 8 + 1 = 9
		res, err := Split(Splits{X: 2, Y: 1, Z: 1}, build(8), Options{})
		require.NoError(t, err)
		require.Len(t, res.Partitions, 1)
		assert.Equal(t, "000", res.Partitions[0].Name)
		assert.Equal(t, 1, res.Partitions[0].Cell)
		assert.Equal(t, 13, res.Partitions[0].Len())
		require.Len(t, res.Dropped, 1)
		assert.Len(t, res.Dropped[0].Indices, 9)
	})

	t.Run("ten points kept", func(t *testing.T) {
		t.Parallel()
		res, err := Split(Splits{X: 2, Y: 1, Z: 1}, build(9), Options{})
		require.NoError(t, err)
		require.Len(t, res.Partitions, 2)
		assert.Equal(t, 10, res.Partitions[0].Len())
		assert.Equal(t, "001", res.Partitions[1].Name)
		assert.Empty(t, res.Dropped)
	})

	t.Run("custom threshold", func(t *testing.T) {
		t.Parallel()
		res, err := Split(Splits{X: 2, Y: 1, Z: 1}, build(9), Options{MinPoints: 11})
		require.NoError(t, err)
		require.Len(t, res.Partitions, 1)
		assert.Equal(t, "000", res.Partitions[0].Name)
		assert.Equal(t, 13, res.Partitions[0].Len())
	})
}

func TestSplit_Deterministic(t *testing.T) {
	t.Parallel()

	pc := testutil.WithSequentialLabels(testutil.UniformCube(1500, 30, 5), 4)
	a, err := Split(Splits{X: 3, Y: 2, Z: 2}, pc, Options{})
	require.NoError(t, err)
	b, err := Split(Splits{X: 3, Y: 2, Z: 2}, pc, Options{})
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("repeated split differs (-first +second):\n%s", diff)
	}
}

func TestSplit_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	pc := testutil.UniformCube(200, 10, 9)
	before := append([]cloud.Point3(nil), pc.Points...)
	_, err := Split(Splits{X: 2, Y: 2, Z: 2}, pc, Options{})
	require.NoError(t, err)
	assert.Equal(t, before, pc.Points)
	assert.Nil(t, pc.Labels)
}

func TestSplit_IndicesAscending(t *testing.T) {
	t.Parallel()

	res, err := Split(Splits{X: 2, Y: 1, Z: 3}, testutil.UniformCube(600, 12, 2), Options{})
	require.NoError(t, err)
	for _, p := range res.Partitions {
		assert.True(t, sort.IntsAreSorted(p.Indices), "partition %s indices not ascending", p.Name)
	}
}

func TestPartitionName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "000", PartitionName(0))
	assert.Equal(t, "007", PartitionName(7))
	assert.Equal(t, "123", PartitionName(123))
	assert.Equal(t, "1000", PartitionName(1000))
}
