package ahrs

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/skelterjohn/go.matrix"
)

// SingularTolerance is the relative determinant below which a 3x3 matrix is
// treated as singular.
const SingularTolerance = 1e-12

// Skew returns the cross-product matrix of v, so that Skew(v)*w == v x w.
func Skew(v r3.Vector) [3][3]float64 {
	return [3][3]float64{
		{0, -v.Z, v.Y},
		{v.Z, 0, -v.X},
		{-v.Y, v.X, 0},
	}
}

// Invert3 inverts a 3x3 matrix by cofactors.
// It returns ErrSingular if the determinant is negligible relative to the
// size of the entries.
func Invert3(a [3][3]float64) (x [3][3]float64, err error) {
	det := a[0][0]*(a[1][1]*a[2][2]-a[1][2]*a[2][1]) +
		a[0][1]*(a[2][0]*a[1][2]-a[1][0]*a[2][2]) +
		a[0][2]*(a[2][1]*a[1][0]-a[1][1]*a[2][0])

	var scale float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			scale = math.Max(scale, math.Abs(a[i][j]))
		}
	}
	if math.IsNaN(det) || math.IsInf(det, 0) || scale == 0 ||
		math.Abs(det) <= SingularTolerance*scale*scale*scale {
		return x, ErrSingular
	}

	x = [3][3]float64{
		{a[1][1]*a[2][2] - a[1][2]*a[2][1], a[0][2]*a[2][1] - a[0][1]*a[2][2], a[0][1]*a[1][2] - a[1][1]*a[0][2]},
		{a[2][0]*a[1][2] - a[1][0]*a[2][2], a[0][0]*a[2][2] - a[0][2]*a[2][0], a[0][2]*a[1][0] - a[0][0]*a[1][2]},
		{a[2][1]*a[1][0] - a[1][1]*a[2][0], a[2][0]*a[0][1] - a[0][0]*a[2][1], a[0][0]*a[1][1] - a[0][1]*a[1][0]},
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			x[i][j] /= det
		}
	}
	return x, nil
}

// Symmetrize replaces p with (p + p^T)/2.
func Symmetrize(p *matrix.DenseMatrix) {
	r, _ := p.GetSize()
	for i := 0; i < r; i++ {
		for j := i + 1; j < r; j++ {
			v := 0.5 * (p.Get(i, j) + p.Get(j, i))
			p.Set(i, j, v)
			p.Set(j, i, v)
		}
	}
}

// covarianceHealthy reports whether every entry of p is finite and every
// diagonal entry non-negative.
func covarianceHealthy(p *matrix.DenseMatrix) bool {
	r, c := p.GetSize()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := p.Get(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) || (i == j && v < 0) {
				return false
			}
		}
	}
	return true
}

// matrix3 copies a 3x3 array into a go.matrix DenseMatrix.
func matrix3(a [3][3]float64) *matrix.DenseMatrix {
	return matrix.MakeDenseMatrix([]float64{
		a[0][0], a[0][1], a[0][2],
		a[1][0], a[1][1], a[1][2],
		a[2][0], a[2][1], a[2][2],
	}, 3, 3)
}

// array3 copies a 3x3 DenseMatrix into an array.
func array3(m *matrix.DenseMatrix) (a [3][3]float64) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a[i][j] = m.Get(i, j)
		}
	}
	return
}

// setBlock3 writes the 3x3 array a into m starting at row r, column c.
func setBlock3(m *matrix.DenseMatrix, r, c int, a [3][3]float64) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(r+i, c+j, a[i][j])
		}
	}
}

func vec(m *matrix.DenseMatrix, r int) r3.Vector {
	return r3.Vector{X: m.Get(r, 0), Y: m.Get(r+1, 0), Z: m.Get(r+2, 0)}
}

func column(v r3.Vector) *matrix.DenseMatrix {
	return matrix.MakeDenseMatrix([]float64{v.X, v.Y, v.Z}, 3, 1)
}
