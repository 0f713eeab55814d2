// Package terrain holds the deterministic height field and the natural block
// columns derived from it. Everything here is pure; server and clients share
// these constants bit-for-bit.
package terrain

import "math"

const (
	// Scale is the horizontal frequency applied to world coordinates.
	Scale = 0.06
	// Amplitude is the peak-to-peak height of the terrain in blocks.
	Amplitude = 8
)

// Vec3i is a world coordinate. Two blocks are the same block iff all three
// components match.
type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Vec3f is a continuous position (players).
type Vec3f struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Height is the surface height of the column containing (x, z).
func Height(x, z float64) int {
	n := Noise(x*Scale, 0, z*Scale)
	return int(math.Floor((n + 1) * Amplitude * 0.5))
}

// Column returns the natural solid y levels for one pile, bedrock (0) to the
// surface inclusive. Columns whose height is negative are empty.
func Column(wx, wz int) []int {
	h := Height(float64(wx), float64(wz))
	if h < 0 {
		return nil
	}
	ys := make([]int, 0, h+1)
	for y := 0; y <= h; y++ {
		ys = append(ys, y)
	}
	return ys
}

// IsNatural reports whether c is solid in untouched terrain.
func IsNatural(c Vec3i) bool {
	if c.Y < 0 {
		return false
	}
	return c.Y <= Height(float64(c.X), float64(c.Z))
}

// SpawnY is one above the surface at the origin, so a fresh player is never
// embedded in terrain.
func SpawnY() int { return Height(0, 0) + 1 }

func SpawnPos() Vec3f {
	return Vec3f{X: 0, Y: float64(SpawnY()), Z: 0}
}
