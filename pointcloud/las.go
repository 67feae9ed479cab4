package pointcloud

import (
	"math"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/scenestore/logging"
)

// Values outside this range cannot be stored in a float64 without losing integer precision.
const (
	maxPreciseFloat64 = float64(1 << 53)
	minPreciseFloat64 = -maxPreciseFloat64
)

// ReadLAS reads a LAS file from the local filesystem. Colors are read from point format 2 and
// intensities are kept when any point has a nonzero intensity.
func ReadLAS(fn string, logger logging.Logger) (*PointCloud, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, newDecodeError("las", err)
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	n := lf.Header.NumberPoints
	pc := NewWithPrealloc(n)
	hasColor := lf.Header.PointFormatID == 2
	if hasColor {
		pc.Colors = make([]Color, 0, n)
	}
	intensities := make([]float64, 0, n)
	var anyIntensity bool
	var warned bool

	for i := 0; i < n; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, newDecodeError("las", err)
		}
		data := p.PointData()

		x, y, z := data.X, data.Y, data.Z
		if !warned && (x < minPreciseFloat64 || x > maxPreciseFloat64 ||
			y < minPreciseFloat64 || y > maxPreciseFloat64 ||
			z < minPreciseFloat64 || z > maxPreciseFloat64) {
			logger.Warnw("potential floating point lossiness for LAS point", "file", fn, "index", i)
			warned = true
		}
		pc.Positions = append(pc.Positions, r3.Vector{X: x, Y: y, Z: z})

		if hasColor {
			c := Color{R: 1, G: 1, B: 1}
			if rgb := p.RgbData(); rgb != nil {
				c = NewColorFromRGB255(uint8(rgb.Red/256), uint8(rgb.Green/256), uint8(rgb.Blue/256))
			}
			pc.Colors = append(pc.Colors, c)
		}

		intensities = append(intensities, float64(data.Intensity))
		if data.Intensity != 0 {
			anyIntensity = true
		}
	}
	if anyIntensity {
		pc.Intensities = intensities
	}
	return pc, nil
}

// WriteLAS writes the cloud to a LAS file on the local filesystem. Clouds with colors use point
// format 2.
func WriteLAS(cloud *PointCloud, fn string) (err error) {
	if err := cloud.Validate(); err != nil {
		return err
	}
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	pointFormatID := 0
	if cloud.HasColor() {
		pointFormatID = 2
	}
	if err = lf.AddHeader(lidario.LasHeader{
		PointFormatID: byte(pointFormatID),
	}); err != nil {
		return
	}

	for i, pos := range cloud.Positions {
		pr0 := &lidario.PointRecord0{
			X: pos.X,
			Y: pos.Y,
			Z: pos.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			PointSourceID: 1,
		}
		if cloud.HasIntensity() {
			pr0.Intensity = uint16(math.Round(math.Max(0, math.Min(math.MaxUint16, cloud.Intensities[i]))))
		}

		var lp lidario.LasPointer = pr0
		if cloud.HasColor() {
			r, g, b := cloud.Colors[i].RGB255()
			lp = &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(r) * 256,
					Green: uint16(g) * 256,
					Blue:  uint16(b) * 256,
				},
			}
		}
		if err = lf.AddLasPoint(lp); err != nil {
			return
		}
	}
	return nil
}
