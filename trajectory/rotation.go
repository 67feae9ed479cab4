package trajectory

import (
	"sort"

	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/scenestore/spatialmath"
)

// interpolateOrientations slerps between the input orientations bracketing each sample time.
// Sample times outside the input range take the nearest end.
func interpolateOrientations(times []float64, orientations []quat.Number, sampleTimes []float64) []quat.Number {
	out := make([]quat.Number, len(sampleTimes))
	last := len(times) - 1
	for k, t := range sampleTimes {
		j := sort.SearchFloat64s(times, t)
		switch {
		case j == 0:
			out[k] = spatialmath.Normalize(orientations[0])
		case j > last:
			out[k] = spatialmath.Normalize(orientations[last])
		case times[j] == t:
			out[k] = spatialmath.Normalize(orientations[j])
		default:
			by := (t - times[j-1]) / (times[j] - times[j-1])
			out[k] = spatialmath.Slerp(orientations[j-1], orientations[j], by)
		}
	}
	return out
}
