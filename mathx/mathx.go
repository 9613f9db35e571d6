// Package mathx quantizes values to the resolution of a device
package mathx

import "math"

// Round rounds x to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}

// Floor rounds x toward zero onto a multiple of unit.  A value that passed a
// ceiling check still passes it after Floor.
func Floor(x, unit float64) float64 {
	// the epsilon keeps 0.29/0.01 = 28.999999999999996 on step 29
	return math.Trunc(x/unit+math.Copysign(1e-9, x)) * unit
}
