package pointcloud

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/samber/lo"
)

// Field names understood by the record contract.
const (
	fieldX         = "x"
	fieldY         = "y"
	fieldZ         = "z"
	fieldRGB       = "rgb"
	fieldRGBA      = "rgba"
	fieldIntensity = "intensity"
	fieldNormalX   = "normal_x"
	fieldNormalY   = "normal_y"
	fieldNormalZ   = "normal_z"
)

// DecodeError is returned when a point cloud stream is malformed or lacks a mandatory field.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s point cloud: %v", e.Format, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(format string, err error) *DecodeError {
	return &DecodeError{Format: format, Err: err}
}

// Record is a decoded point cloud in its on-disk shape: named numeric columns in the order they
// were declared. Packed color fields hold the packed integer value.
type Record struct {
	Fields  []string
	Columns map[string][]float64
	Points  int
}

// maxPreallocPoints caps how much column space a header can reserve before its points are read.
const maxPreallocPoints = 1 << 16

// newRecord makes an empty record for the declared point count. Columns grow through set as
// values are decoded, so a header that overstates its points costs nothing until data arrives.
func newRecord(fields []string, points int) *Record {
	r := &Record{Fields: fields, Columns: make(map[string][]float64, len(fields)), Points: points}
	for _, f := range fields {
		r.Columns[f] = make([]float64, 0, min(points, maxPreallocPoints))
	}
	return r
}

// set stores v as point i of field. Points are decoded in order, so i is at most the current
// column length.
func (r *Record) set(field string, i int, v float64) {
	column, ok := r.Columns[field]
	if !ok {
		return
	}
	if i < len(column) {
		column[i] = v
		return
	}
	r.Columns[field] = append(column, v)
}

// Has returns whether the record declares the named field.
func (r *Record) Has(field string) bool {
	_, ok := r.Columns[field]
	return ok
}

func (r *Record) colorField() (string, bool) {
	for _, f := range []string{fieldRGB, fieldRGBA} {
		if r.Has(f) {
			return f, true
		}
	}
	return "", false
}

// Matrix flattens the record into rows with the columns x y z, then r g b (0-1) when a packed
// color is present, then each present normal component in x, y, z order, then intensity.
func (r *Record) Matrix() ([][]float64, []string) {
	names := []string{fieldX, fieldY, fieldZ}
	colorField, hasColor := r.colorField()
	if hasColor {
		names = append(names, "r", "g", "b")
	}
	normals := lo.Filter([]string{fieldNormalX, fieldNormalY, fieldNormalZ}, func(f string, _ int) bool {
		return r.Has(f)
	})
	names = append(names, normals...)
	if r.Has(fieldIntensity) {
		names = append(names, fieldIntensity)
	}

	rows := make([][]float64, r.Points)
	for i := range rows {
		row := make([]float64, 0, len(names))
		row = append(row, r.Columns[fieldX][i], r.Columns[fieldY][i], r.Columns[fieldZ][i])
		if hasColor {
			c := UnpackRGB(uint32(r.Columns[colorField][i]))
			row = append(row, c.R, c.G, c.B)
		}
		for _, f := range normals {
			row = append(row, r.Columns[f][i])
		}
		if r.Has(fieldIntensity) {
			row = append(row, r.Columns[fieldIntensity][i])
		}
		rows[i] = row
	}
	return rows, names
}

// PointCloud converts the record into a PointCloud. Positions come from x, y and z which must all
// be present; a packed rgb field becomes colors, any normal component makes normals and intensity
// becomes intensities.
func (r *Record) PointCloud() (*PointCloud, error) {
	for _, f := range []string{fieldX, fieldY, fieldZ} {
		if !r.Has(f) {
			return nil, newDecodeError("record", fmt.Errorf("missing mandatory field %q", f))
		}
	}
	xs, ys, zs := r.Columns[fieldX], r.Columns[fieldY], r.Columns[fieldZ]
	pc := NewWithPrealloc(r.Points)
	for i := 0; i < r.Points; i++ {
		pc.Positions = append(pc.Positions, r3.Vector{X: xs[i], Y: ys[i], Z: zs[i]})
	}

	if colorField, ok := r.colorField(); ok {
		pc.Colors = make([]Color, r.Points)
		for i, packed := range r.Columns[colorField] {
			pc.Colors[i] = UnpackRGB(uint32(packed))
		}
	}

	if r.Has(fieldNormalX) || r.Has(fieldNormalY) || r.Has(fieldNormalZ) {
		pc.Normals = make([]r3.Vector, r.Points)
		column := func(f string, i int) float64 {
			if c, ok := r.Columns[f]; ok {
				return c[i]
			}
			return 0
		}
		for i := range pc.Normals {
			pc.Normals[i] = r3.Vector{X: column(fieldNormalX, i), Y: column(fieldNormalY, i), Z: column(fieldNormalZ, i)}
		}
	}

	if r.Has(fieldIntensity) {
		pc.Intensities = append([]float64{}, r.Columns[fieldIntensity]...)
	}
	return pc, nil
}

// PackRGB packs 8-bit channels into the 0x00RRGGBB layout used by the rgb field.
func PackRGB(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// UnpackRGB splits a packed rgb value into a normalized Color.
func UnpackRGB(packed uint32) Color {
	return NewColorFromRGB255(uint8(0xFF&(packed>>16)), uint8(0xFF&(packed>>8)), uint8(0xFF&packed))
}
