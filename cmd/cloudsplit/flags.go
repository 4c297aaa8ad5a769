package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/cloudsplit/internal/cloud"
)

// parseCSVFloatSlice parses a comma-separated list of floats.
func parseCSVFloatSlice(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseCSVIntSlice parses a comma-separated list of ints.
func parseCSVIntSlice(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// parsePoint parses "x,y,z".
func parsePoint(s string) (cloud.Point3, error) {
	vs, err := parseCSVFloatSlice(s)
	if err != nil {
		return cloud.Point3{}, err
	}
	if len(vs) != 3 {
		return cloud.Point3{}, fmt.Errorf("point %q must have 3 coordinates", s)
	}
	return cloud.Point3{vs[0], vs[1], vs[2]}, nil
}

// parseSplits parses "x,y,z" split counts. An empty string returns nil so
// the configured value stays in force.
func parseSplits(s string) ([]int, error) {
	vs, err := parseCSVIntSlice(s)
	if err != nil || vs == nil {
		return nil, err
	}
	if len(vs) != 3 {
		return nil, fmt.Errorf("splits %q must have 3 entries", s)
	}
	return vs, nil
}
