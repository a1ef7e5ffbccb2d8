package calibration

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// CompassParams maps raw magnetometer readings onto a sphere centered at the
// origin: corrected = SoftIron * (raw - Offset).
type CompassParams struct {
	Offset        r3.Vector     // Hard iron offset (ellipsoid center), µT
	SoftIron      [3][3]float64 // Soft iron correction, symmetric
	FieldStrength float64       // Radius of the corrected sphere, µT
}

// IdentityParams returns parameters which leave readings unchanged.
func IdentityParams() CompassParams {
	return CompassParams{SoftIron: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
}

// Apply corrects a raw magnetometer reading.
func (p CompassParams) Apply(raw r3.Vector) r3.Vector {
	d := raw.Sub(p.Offset)
	w := p.SoftIron
	return r3.Vector{
		X: w[0][0]*d.X + w[0][1]*d.Y + w[0][2]*d.Z,
		Y: w[1][0]*d.X + w[1][1]*d.Y + w[1][2]*d.Z,
		Z: w[2][0]*d.X + w[2][1]*d.Y + w[2][2]*d.Z,
	}
}

// FitEllipsoid fits an ellipsoid to the samples by linear least squares and
// returns the parameters mapping it onto a sphere of the same mean radius.
// With full set, the general 9-parameter quadric is fitted (cross-axis soft
// iron); otherwise the ellipsoid axes are assumed aligned with the sensor axes.
func FitEllipsoid(samples []r3.Vector, full bool) (p CompassParams, err error) {
	nc := 6
	if full {
		nc = 9
	}
	n := len(samples)
	if n < 2*nc {
		return p, errors.Wrapf(ErrInsufficientData, "%d samples for %d parameters", n, nc)
	}

	// Shift and scale for conditioning
	var mu r3.Vector
	for _, s := range samples {
		mu = mu.Add(s)
	}
	mu = mu.Mul(1 / float64(n))
	var sc float64
	for _, s := range samples {
		sc += s.Sub(mu).Norm()
	}
	sc /= float64(n)
	if sc < 1e-12 {
		return p, errors.Wrap(ErrInsufficientData, "samples have no spread")
	}

	d := mat.NewDense(n, nc, nil)
	ones := mat.NewVecDense(n, nil)
	for i, s := range samples {
		x := s.Sub(mu).Mul(1 / sc)
		if full {
			d.SetRow(i, []float64{x.X * x.X, x.Y * x.Y, x.Z * x.Z,
				2 * x.X * x.Y, 2 * x.X * x.Z, 2 * x.Y * x.Z,
				2 * x.X, 2 * x.Y, 2 * x.Z})
		} else {
			d.SetRow(i, []float64{x.X * x.X, x.Y * x.Y, x.Z * x.Z,
				2 * x.X, 2 * x.Y, 2 * x.Z})
		}
		ones.SetVec(i, 1)
	}

	var coef mat.VecDense
	if err = coef.SolveVec(d, ones); err != nil {
		return p, errors.Wrap(ErrInsufficientData, err.Error())
	}

	// x^T A x + 2 v^T x = 1
	var a [3][3]float64
	var v [3]float64
	a[0][0], a[1][1], a[2][2] = coef.AtVec(0), coef.AtVec(1), coef.AtVec(2)
	if full {
		a[0][1], a[0][2], a[1][2] = coef.AtVec(3), coef.AtVec(4), coef.AtVec(5)
		a[1][0], a[2][0], a[2][1] = a[0][1], a[0][2], a[1][2]
		v = [3]float64{coef.AtVec(6), coef.AtVec(7), coef.AtVec(8)}
	} else {
		v = [3]float64{coef.AtVec(3), coef.AtVec(4), coef.AtVec(5)}
	}

	am := mat.NewDense(3, 3, []float64{
		a[0][0], a[0][1], a[0][2],
		a[1][0], a[1][1], a[1][2],
		a[2][0], a[2][1], a[2][2],
	})
	var c mat.VecDense
	if err = c.SolveVec(am, mat.NewVecDense(3, []float64{-v[0], -v[1], -v[2]})); err != nil {
		return p, errors.Wrap(ErrNotPositiveDefinite, err.Error())
	}

	// (x-c)^T A (x-c) = 1 + c^T A c
	var k float64 = 1
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			k += c.AtVec(i) * a[i][j] * c.AtVec(j)
		}
	}
	if math.Abs(k) < 1e-12 {
		return p, ErrNotPositiveDefinite
	}

	sym := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			sym.SetSym(i, j, a[i][j]/k)
		}
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return p, errors.Wrap(ErrNotPositiveDefinite, "eigendecomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	gm := 1.0 // Geometric mean of the semi-axes, normalized units
	for _, l := range vals {
		if !(l > 1e-9) || math.IsInf(l, 0) {
			return p, errors.Wrapf(ErrNotPositiveDefinite, "eigenvalues %v", vals)
		}
		gm *= 1 / math.Sqrt(l)
	}
	gm = math.Cbrt(gm)

	// W = r V diag(sqrt(l)) V^T maps the ellipsoid onto a sphere of radius r.
	// The conditioning scale cancels: r = sc*gm, and V diag(sqrt(l)) V^T / sc.
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var w float64
			for m := 0; m < 3; m++ {
				w += vecs.At(i, m) * math.Sqrt(vals[m]) * vecs.At(j, m)
			}
			p.SoftIron[i][j] = gm * w
		}
	}
	p.Offset = mu.Add(r3.Vector{X: c.AtVec(0), Y: c.AtVec(1), Z: c.AtVec(2)}.Mul(sc))
	p.FieldStrength = sc * gm
	return p, nil
}
