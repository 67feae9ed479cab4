package trajectory

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// polynomial is a per axis least squares fit of positions against time. Time is centered and
// scaled before fitting to keep the Vandermonde matrix well conditioned.
type polynomial struct {
	center, scale float64
	// coeffs[d] holds the coefficient of u^d for x, y and z.
	coeffs []r3.Vector
}

func fitPolynomial(times []float64, positions []r3.Vector, degree int) (*polynomial, error) {
	n := len(times)
	if n == 0 {
		return nil, errors.New("cannot fit a polynomial to zero samples")
	}
	if degree > n-1 {
		degree = n - 1
	}

	center := 0.
	for _, t := range times {
		center += t
	}
	center /= float64(n)
	scale := 0.
	for _, t := range times {
		scale = math.Max(scale, math.Abs(t-center))
	}
	if scale == 0 {
		scale = 1
	}

	a := mat.NewDense(n, degree+1, nil)
	b := mat.NewDense(n, 3, nil)
	for i, t := range times {
		u := (t - center) / scale
		pow := 1.
		for d := 0; d <= degree; d++ {
			a.Set(i, d, pow)
			pow *= u
		}
		b.Set(i, 0, positions[i].X)
		b.Set(i, 1, positions[i].Y)
		b.Set(i, 2, positions[i].Z)
	}

	var qr mat.QR
	qr.Factorize(a)
	var x mat.Dense
	if err := qr.SolveTo(&x, false, b); err != nil {
		return nil, errors.Wrap(err, "solving polynomial fit")
	}

	p := &polynomial{center: center, scale: scale, coeffs: make([]r3.Vector, degree+1)}
	for d := range p.coeffs {
		p.coeffs[d] = r3.Vector{X: x.At(d, 0), Y: x.At(d, 1), Z: x.At(d, 2)}
	}
	return p, nil
}

func (p *polynomial) at(t float64) r3.Vector {
	u := (t - p.center) / p.scale
	var out r3.Vector
	// Horner
	for d := len(p.coeffs) - 1; d >= 0; d-- {
		out = out.Mul(u).Add(p.coeffs[d])
	}
	return out
}
