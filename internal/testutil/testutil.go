// Package testutil provides shared test utilities and fixtures.
//
// This package centralises synthetic point clouds and common assertions so
// package tests do not each grow their own generators.
package testutil

import (
	"math/rand"
	"testing"

	"github.com/banshee-data/cloudsplit/internal/cloud"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// UniformCube returns n points spread uniformly in [0,size)^3. The
// generator is seeded so fixtures are reproducible.
func UniformCube(n int, size float64, seed int64) *cloud.PointCloud {
	rng := rand.New(rand.NewSource(seed))
	pc := &cloud.PointCloud{Points: make([]cloud.Point3, n)}
	for i := range pc.Points {
		pc.Points[i] = cloud.Point3{rng.Float64() * size, rng.Float64() * size, rng.Float64() * size}
	}
	return pc
}

// WithColor attaches a deterministic colour to every point of pc.
func WithColor(pc *cloud.PointCloud) *cloud.PointCloud {
	pc.HasColor = true
	pc.Features = make([][3]float64, pc.Len())
	for i := range pc.Features {
		v := float64(i%256) / 255
		pc.Features[i] = [3]float64{v, 1 - v, 0.5}
	}
	return pc
}

// WithSequentialLabels labels point i with i % classes.
func WithSequentialLabels(pc *cloud.PointCloud, classes int) *cloud.PointCloud {
	pc.Labels = make([]int32, pc.Len())
	for i := range pc.Labels {
		pc.Labels[i] = int32(i % classes)
	}
	return pc
}

// Cluster returns n copies of p nudged by small offsets, all within
// [p, p+0.5) on each axis.
func Cluster(p cloud.Point3, n int) []cloud.Point3 {
	pts := make([]cloud.Point3, n)
	for i := range pts {
		d := float64(i%5) * 0.1
		pts[i] = cloud.Point3{p[0] + d, p[1] + d/2, p[2] + d/3}
	}
	return pts
}
