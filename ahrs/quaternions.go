package ahrs

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/westphae/quaternion"
)

// Identity is the quaternion for no rotation.
var Identity = quaternion.Quaternion{W: 1}

// Down is the direction of gravity in the earth frame (x east, y north, z up).
var Down = r3.Vector{X: 0, Y: 0, Z: -1}

// Normalize returns q scaled to unit magnitude.
// A zero or non-finite quaternion is treated as the identity.
func Normalize(q quaternion.Quaternion) quaternion.Quaternion {
	qq := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if qq < Small || math.IsNaN(qq) || math.IsInf(qq, 0) {
		return Identity
	}
	return quaternion.Quaternion{W: q.W / qq, X: q.X / qq, Y: q.Y / qq, Z: q.Z / qq}
}

// FromRotationVector is the exponential map: it returns the unit quaternion
// rotating by |v| radians about v.
func FromRotationVector(v r3.Vector) quaternion.Quaternion {
	th2 := v.Norm2()
	var c, s float64
	if th2 < 1e-8 {
		// Taylor expansion of cos(th/2) and sin(th/2)/th
		c = 1 - th2/8
		s = 0.5 - th2/48
	} else {
		th := math.Sqrt(th2)
		c = math.Cos(th / 2)
		s = math.Sin(th/2) / th
	}
	return Normalize(quaternion.Quaternion{W: c, X: s * v.X, Y: s * v.Y, Z: s * v.Z})
}

// ToRotationVector is the inverse of FromRotationVector (the logarithmic map).
func ToRotationVector(q quaternion.Quaternion) r3.Vector {
	q = Normalize(q)
	if q.W < 0 {
		q = quaternion.Quaternion{W: -q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
	}
	sn := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if sn < Small {
		return r3.Vector{X: 2 * q.X, Y: 2 * q.Y, Z: 2 * q.Z}
	}
	k := 2 * math.Atan2(sn, q.W) / sn
	return r3.Vector{X: k * q.X, Y: k * q.Y, Z: k * q.Z}
}

// Multiply returns the Hamilton product a*b.  Order matters: a*b applies b first.
func Multiply(a, b quaternion.Quaternion) quaternion.Quaternion {
	return quaternion.Prod(a, b)
}

// Rotate rotates v from the body frame into the earth frame, X_e = q*X_b*conj(q).
func Rotate(q quaternion.Quaternion, v r3.Vector) r3.Vector {
	r := RotationMatrix(q)
	return r3.Vector{
		X: r[0][0]*v.X + r[0][1]*v.Y + r[0][2]*v.Z,
		Y: r[1][0]*v.X + r[1][1]*v.Y + r[1][2]*v.Z,
		Z: r[2][0]*v.X + r[2][1]*v.Y + r[2][2]*v.Z,
	}
}

// RotateInverse rotates v from the earth frame into the body frame, X_b = conj(q)*X_e*q.
func RotateInverse(q quaternion.Quaternion, v r3.Vector) r3.Vector {
	r := RotationMatrix(q)
	return r3.Vector{
		X: r[0][0]*v.X + r[1][0]*v.Y + r[2][0]*v.Z,
		Y: r[0][1]*v.X + r[1][1]*v.Y + r[2][1]*v.Z,
		Z: r[0][2]*v.X + r[1][2]*v.Y + r[2][2]*v.Z,
	}
}

// RotationMatrix returns the matrix rotating body frame j component into
// earth frame i component.  q need not be normalized.
func RotationMatrix(q quaternion.Quaternion) (r [3][3]float64) {
	nn := q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z
	if nn < Small {
		return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	s := 2 / nn
	r[0][0] = 1 - s*(q.Y*q.Y+q.Z*q.Z)
	r[0][1] = s * (q.X*q.Y - q.W*q.Z)
	r[0][2] = s * (q.X*q.Z + q.W*q.Y)
	r[1][0] = s * (q.X*q.Y + q.W*q.Z)
	r[1][1] = 1 - s*(q.X*q.X+q.Z*q.Z)
	r[1][2] = s * (q.Y*q.Z - q.W*q.X)
	r[2][0] = s * (q.X*q.Z - q.W*q.Y)
	r[2][1] = s * (q.Y*q.Z + q.W*q.X)
	r[2][2] = 1 - s*(q.X*q.X+q.Y*q.Y)
	return
}

// ShortestArc returns the smallest rotation taking direction from onto direction to.
// Antiparallel inputs rotate by Pi about an arbitrary perpendicular axis.
func ShortestArc(from, to r3.Vector) quaternion.Quaternion {
	a, b := from.Normalize(), to.Normalize()
	if a.Norm2() < Small || b.Norm2() < Small {
		return Identity
	}
	d := a.Dot(b)
	if d < -1+1e-12 {
		ax := a.Ortho()
		return quaternion.Quaternion{X: ax.X, Y: ax.Y, Z: ax.Z}
	}
	c := a.Cross(b)
	return Normalize(quaternion.Quaternion{W: 1 + d, X: c.X, Y: c.Y, Z: c.Z})
}

// Heading returns the tilt-compensated yaw of q in radians, counterclockwise
// from the earth x axis: the yaw of the level attitude reached by removing the
// tilt of q with the shortest possible rotation.
// Writing q = W*Z with Z about the vertical and W about a horizontal axis,
// Heading returns the angle of Z.
func Heading(q quaternion.Quaternion) float64 {
	up := Rotate(q, r3.Vector{Z: 1})
	lvl := Multiply(ShortestArc(up, r3.Vector{Z: 1}), Normalize(q))
	return math.Atan2(2*lvl.W*lvl.Z, lvl.W*lvl.W-lvl.Z*lvl.Z)
}

// ToQuaternion calculates the quaternion corresponding to the Tait-Bryan
// angles roll, pitch, yaw (intrinsic z-y'-x'' sequence), in radians.
func ToQuaternion(roll, pitch, yaw float64) quaternion.Quaternion {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)

	return quaternion.Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}
}

// FromQuaternion calculates the Tait-Bryan angles roll, pitch, yaw
// corresponding to the quaternion, in radians.
func FromQuaternion(q quaternion.Quaternion) (roll, pitch, yaw float64) {
	q = Normalize(q)
	roll = math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))
	sp := 2 * (q.W*q.Y - q.Z*q.X)
	if sp > 1 {
		sp = 1
	} else if sp < -1 {
		sp = -1
	}
	pitch = math.Asin(sp)
	yaw = math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
	return
}

// wrapPi maps x into (-Pi, Pi].
func wrapPi(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	x = math.Mod(x, 2*Pi)
	if x > Pi {
		x -= 2 * Pi
	} else if x <= -Pi {
		x += 2 * Pi
	}
	return x
}

func finiteVec(v r3.Vector) bool {
	return !(math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z) ||
		math.IsInf(v.X, 0) || math.IsInf(v.Y, 0) || math.IsInf(v.Z, 0))
}
