// Package trajectory smooths sampled sensor trajectories with piecewise cubic fits.
//
// The sequence is cut into consecutive windows of SegmentSize samples. Each window is fit with a
// least squares cubic per axis over itself plus a halo of SegmentSize/2 samples on each side, and
// the fit is only evaluated for the sample times the window owns. At the sequence ends the halo is
// moved to the side that has samples so every fit sees as much context as it can.
package trajectory

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// Defaults used when the corresponding Options field is zero.
const (
	DefaultSegmentSize = 20
	DefaultFrameTime   = 0.05
	fitDegree          = 3
)

// ErrNonIncreasingTimes is returned when input or sample times are not strictly increasing.
var ErrNonIncreasingTimes = errors.New("times must be strictly increasing")

// Options configures Filter.
type Options struct {
	// Times of each input sample. Defaults to i*FrameTime.
	Times []float64
	// SegmentSize is the number of samples owned by each fitting window.
	SegmentSize int
	// FrameTime is the sample period used when Times is empty.
	FrameTime float64
	// KeepOriginal replaces outputs whose sample time equals an input time with that input.
	KeepOriginal bool
	// SampleTimes are the times to evaluate the fit at. Defaults to Times.
	SampleTimes []float64

	// Orientations, one per input sample, are interpolated onto SampleTimes with slerp when
	// InterpolateOrientations is set.
	Orientations            []quat.Number
	InterpolateOrientations bool
}

// Result is the output of Filter, one entry per sample time.
type Result struct {
	Positions []r3.Vector
	Times     []float64
	// SourceIndex is the input index whose time equals the sample time, or -1.
	SourceIndex []int
	// Orientations is only set when orientation interpolation was requested.
	Orientations []quat.Number
}

func checkIncreasing(times []float64, name string) error {
	for i := 1; i < len(times); i++ {
		if !(times[i] > times[i-1]) {
			return errors.Wrapf(ErrNonIncreasingTimes, "%s[%d]=%v after %v", name, i, times[i], times[i-1])
		}
	}
	return nil
}

// Filter smooths positions with segmented cubic fits.
func Filter(positions []r3.Vector, opts Options) (*Result, error) {
	n := len(positions)
	segment := opts.SegmentSize
	if segment == 0 {
		segment = DefaultSegmentSize
	}
	if segment < 0 {
		return nil, errors.Errorf("segment size must be positive, got %d", segment)
	}
	frameTime := opts.FrameTime
	if frameTime == 0 {
		frameTime = DefaultFrameTime
	}

	times := opts.Times
	if len(times) == 0 {
		times = make([]float64, n)
		for i := range times {
			times[i] = float64(i) * frameTime
		}
	}
	if len(times) != n {
		return nil, errors.Errorf("have %d times for %d positions", len(times), n)
	}
	if err := checkIncreasing(times, "times"); err != nil {
		return nil, err
	}
	sampleTimes := opts.SampleTimes
	if sampleTimes == nil {
		sampleTimes = times
	}
	if err := checkIncreasing(sampleTimes, "sample times"); err != nil {
		return nil, err
	}
	if opts.InterpolateOrientations && len(opts.Orientations) != n {
		return nil, errors.Errorf("have %d orientations for %d positions", len(opts.Orientations), n)
	}

	result := &Result{
		Positions:   make([]r3.Vector, 0, len(sampleTimes)),
		Times:       append([]float64{}, sampleTimes...),
		SourceIndex: make([]int, len(sampleTimes)),
	}
	if n == 0 {
		return result, nil
	}
	if segment > n {
		segment = n
	}

	next := 0
	for i := 0; i < n; i += segment {
		s, e := max(0, i-1), i+segment
		if e > n {
			s, e = n-segment, n
		}
		ps, pe := haloWindow(s, e, segment, n)
		poly, err := fitPolynomial(times[ps:pe], positions[ps:pe], fitDegree)
		if err != nil {
			return nil, err
		}

		lo, hi := math.Inf(-1), math.Inf(1)
		if i > 0 {
			lo = times[i-1]
		}
		if e < n {
			hi = times[e-1]
		}
		for ; next < len(sampleTimes) && sampleTimes[next] < hi; next++ {
			if sampleTimes[next] >= lo {
				result.Positions = append(result.Positions, poly.at(sampleTimes[next]))
			}
		}
	}

	reconcile(result, positions, times, opts.KeepOriginal)
	if opts.InterpolateOrientations {
		result.Orientations = interpolateOrientations(times, opts.Orientations, sampleTimes)
	}
	return result, nil
}

// haloWindow extends [s, e) by segment/2 on both sides. A halo that would run past one end of the
// sequence is moved to the other end instead of being dropped.
func haloWindow(s, e, segment, n int) (int, int) {
	half := segment / 2
	ps, pe := s-half, e+half
	if ps < 0 {
		ps = 0
		pe += half
	}
	if pe > n {
		ps -= half
		pe = n
	}
	return max(ps, 0), pe
}

// reconcile maps every sample time back to the input sample taken at that exact time.
func reconcile(result *Result, positions []r3.Vector, times []float64, keepOriginal bool) {
	for k, t := range result.Times {
		idx := sort.SearchFloat64s(times, t)
		if idx < len(times) && times[idx] == t {
			result.SourceIndex[k] = idx
			if keepOriginal {
				result.Positions[k] = positions[idx]
			}
			continue
		}
		result.SourceIndex[k] = -1
	}
}

// Residuals returns the distance between corresponding points of a and b, up to the shorter
// length.
func Residuals(a, b []r3.Vector) []float64 {
	out := make([]float64, min(len(a), len(b)))
	for i := range out {
		out[i] = a[i].Sub(b[i]).Norm()
	}
	return out
}
