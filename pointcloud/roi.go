package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// DefaultHalfExtents are the half extents used when cropping a scene around a position.
var DefaultHalfExtents = r3.Vector{X: 40, Y: 40, Z: 5}

// RegionOfInterest is an axis aligned box given by its center and half extents.
type RegionOfInterest struct {
	Center      r3.Vector
	HalfExtents r3.Vector
}

// DefaultRegionOfInterest returns a region centered at center with DefaultHalfExtents.
func DefaultRegionOfInterest(center r3.Vector) *RegionOfInterest {
	return &RegionOfInterest{Center: center, HalfExtents: DefaultHalfExtents}
}

// Contains returns whether p lies strictly inside the region.
func (roi *RegionOfInterest) Contains(p r3.Vector) bool {
	return math.Abs(p.X-roi.Center.X) < roi.HalfExtents.X &&
		math.Abs(p.Y-roi.Center.Y) < roi.HalfExtents.Y &&
		math.Abs(p.Z-roi.Center.Z) < roi.HalfExtents.Z
}

// Crop discards the points outside of roi, keeping every attribute aligned. A nil region keeps
// everything.
func (pc *PointCloud) Crop(roi *RegionOfInterest) {
	if roi == nil {
		return
	}
	kept := 0
	for i, p := range pc.Positions {
		if !roi.Contains(p) {
			continue
		}
		pc.Positions[kept] = p
		if pc.Colors != nil {
			pc.Colors[kept] = pc.Colors[i]
		}
		if pc.Normals != nil {
			pc.Normals[kept] = pc.Normals[i]
		}
		if pc.Intensities != nil {
			pc.Intensities[kept] = pc.Intensities[i]
		}
		kept++
	}
	pc.Positions = pc.Positions[:kept]
	if pc.Colors != nil {
		pc.Colors = pc.Colors[:kept]
	}
	if pc.Normals != nil {
		pc.Normals = pc.Normals[:kept]
	}
	if pc.Intensities != nil {
		pc.Intensities = pc.Intensities[:kept]
	}
}
