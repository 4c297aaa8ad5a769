package slicer

import (
	"fmt"
	"os"

	"github.com/banshee-data/cloudsplit/internal/cloud"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// CrossSectionGeoJSON renders a slice in its plane: the slicing line as a
// LineString and the retained points as a MultiPoint, both in projected
// (u, v) coordinates. It is meant for quick inspection in any GeoJSON
// viewer, not for georeferenced use.
func CrossSectionGeoJSON(start, end cloud.Point3, tolerance float64, plane Plane, slice *cloud.PointCloud) (*geojson.FeatureCollection, error) {
	u0, v0, err := plane.Project(start)
	if err != nil {
		return nil, err
	}
	u1, v1, _ := plane.Project(end)
	if u0 == u1 && v0 == v1 {
		return nil, ErrInvalidGeometry
	}

	fc := geojson.NewFeatureCollection()

	axis := geojson.NewFeature(orb.LineString{{u0, v0}, {u1, v1}})
	axis.Properties["role"] = "slice-line"
	axis.Properties["plane"] = string(plane)
	axis.Properties["tolerance"] = tolerance
	fc.Append(axis)

	mp := make(orb.MultiPoint, 0, slice.Len())
	for _, p := range slice.Points {
		u, v, _ := plane.Project(p)
		mp = append(mp, orb.Point{u, v})
	}
	pts := geojson.NewFeature(mp)
	pts.Properties["role"] = "slice-points"
	pts.Properties["count"] = len(mp)
	if len(mp) > 0 {
		b := mp.Bound()
		pts.BBox = geojson.NewBBox(b)
	}
	fc.Append(pts)
	return fc, nil
}

// WriteCrossSectionGeoJSON writes CrossSectionGeoJSON output to path.
func WriteCrossSectionGeoJSON(path string, start, end cloud.Point3, tolerance float64, plane Plane, slice *cloud.PointCloud) error {
	fc, err := CrossSectionGeoJSON(start, end, tolerance, plane, slice)
	if err != nil {
		return err
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
