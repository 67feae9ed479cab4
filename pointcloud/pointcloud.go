// Package pointcloud defines the in-memory point cloud used by scenestore along with readers and
// writers for the on-disk formats a scene may be stored in (PCD, PLY, LAS and plain text rows).
//
// A PointCloud is stored column-wise: positions are mandatory and every optional attribute, when
// present, has exactly one entry per position.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Color is an RGB color with each channel normalized to [0, 1].
type Color struct {
	R, G, B float64
}

// NewColorFromRGB255 returns a normalized color from 8-bit channels.
func NewColorFromRGB255(r, g, b uint8) Color {
	return Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
}

// RGB255 returns the color quantized to 8-bit channels.
func (c Color) RGB255() (uint8, uint8, uint8) {
	return to255(c.R), to255(c.G), to255(c.B)
}

func to255(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// PointCloud is an ordered sequence of points. Colors, Normals and Intensities are optional; a nil
// slice means the attribute is absent.
type PointCloud struct {
	Positions   []r3.Vector
	Colors      []Color
	Normals     []r3.Vector
	Intensities []float64
}

// New returns an empty PointCloud.
func New() *PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty PointCloud with room for size positions.
func NewWithPrealloc(size int) *PointCloud {
	return &PointCloud{Positions: make([]r3.Vector, 0, size)}
}

// Size returns the number of points in the cloud.
func (pc *PointCloud) Size() int {
	return len(pc.Positions)
}

// HasColor returns whether the cloud carries per point colors.
func (pc *PointCloud) HasColor() bool {
	return pc.Colors != nil
}

// HasNormals returns whether the cloud carries per point normals.
func (pc *PointCloud) HasNormals() bool {
	return pc.Normals != nil
}

// HasIntensity returns whether the cloud carries per point intensities.
func (pc *PointCloud) HasIntensity() bool {
	return pc.Intensities != nil
}

// Validate checks that every present attribute is aligned with the positions.
func (pc *PointCloud) Validate() error {
	n := len(pc.Positions)
	if pc.Colors != nil && len(pc.Colors) != n {
		return errors.Errorf("have %d colors for %d points", len(pc.Colors), n)
	}
	if pc.Normals != nil && len(pc.Normals) != n {
		return errors.Errorf("have %d normals for %d points", len(pc.Normals), n)
	}
	if pc.Intensities != nil && len(pc.Intensities) != n {
		return errors.Errorf("have %d intensities for %d points", len(pc.Intensities), n)
	}
	return nil
}

// Replace overwrites the contents of the cloud with those of other. Attributes absent from other
// are cleared.
func (pc *PointCloud) Replace(other *PointCloud) {
	pc.Positions = other.Positions
	pc.Colors = other.Colors
	pc.Normals = other.Normals
	pc.Intensities = other.Intensities
}

// Clone returns a deep copy of the cloud.
func (pc *PointCloud) Clone() *PointCloud {
	out := &PointCloud{Positions: append([]r3.Vector{}, pc.Positions...)}
	if pc.Colors != nil {
		out.Colors = append([]Color{}, pc.Colors...)
	}
	if pc.Normals != nil {
		out.Normals = append([]r3.Vector{}, pc.Normals...)
	}
	if pc.Intensities != nil {
		out.Intensities = append([]float64{}, pc.Intensities...)
	}
	return out
}

// ColumnNames returns the names of the columns Matrix produces for this cloud.
func (pc *PointCloud) ColumnNames() []string {
	names := []string{"x", "y", "z"}
	if pc.HasColor() {
		names = append(names, "r", "g", "b")
	}
	if pc.HasNormals() {
		names = append(names, fieldNormalX, fieldNormalY, fieldNormalZ)
	}
	if pc.HasIntensity() {
		names = append(names, fieldIntensity)
	}
	return names
}

// Matrix flattens the cloud into one row per point in the fixed column order
// x y z [r g b] [normal_x normal_y normal_z] [intensity].
func (pc *PointCloud) Matrix() [][]float64 {
	width := len(pc.ColumnNames())
	rows := make([][]float64, len(pc.Positions))
	for i, p := range pc.Positions {
		row := make([]float64, 0, width)
		row = append(row, p.X, p.Y, p.Z)
		if pc.HasColor() {
			c := pc.Colors[i]
			row = append(row, c.R, c.G, c.B)
		}
		if pc.HasNormals() {
			n := pc.Normals[i]
			row = append(row, n.X, n.Y, n.Z)
		}
		if pc.HasIntensity() {
			row = append(row, pc.Intensities[i])
		}
		rows[i] = row
	}
	return rows
}

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor     bool
	HasNormals   bool
	HasIntensity bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// MetaData computes the attribute presence and bounds of the cloud.
func (pc *PointCloud) MetaData() MetaData {
	meta := MetaData{
		HasColor:     pc.HasColor(),
		HasNormals:   pc.HasNormals(),
		HasIntensity: pc.HasIntensity(),
		MinX:         math.MaxFloat64,
		MinY:         math.MaxFloat64,
		MinZ:         math.MaxFloat64,
		MaxX:         -math.MaxFloat64,
		MaxY:         -math.MaxFloat64,
		MaxZ:         -math.MaxFloat64,
	}
	for _, v := range pc.Positions {
		meta.MinX = math.Min(meta.MinX, v.X)
		meta.MinY = math.Min(meta.MinY, v.Y)
		meta.MinZ = math.Min(meta.MinZ, v.Z)
		meta.MaxX = math.Max(meta.MaxX, v.X)
		meta.MaxY = math.Max(meta.MaxY, v.Y)
		meta.MaxZ = math.Max(meta.MaxZ, v.Z)
	}
	return meta
}
