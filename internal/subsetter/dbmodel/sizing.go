package dbmodel

import "math"

// TargetCount computes a table's target row count per §4.1.
//
//   - prioritized tables target their full source count.
//   - logarithmic mode: floor(10^(log10(n)*f)), with n=0 -> 0 and n=1 -> 1.
//   - linear mode: floor(n*f), minimum 1 when n > 0.
func TargetCount(sourceCount int64, fraction float64, logarithmic, prioritized bool) int64 {
	if prioritized {
		return sourceCount
	}
	if sourceCount <= 0 {
		return 0
	}
	if logarithmic {
		if sourceCount == 1 {
			return 1
		}
		return int64(math.Floor(math.Pow(10, math.Log10(float64(sourceCount))*fraction)))
	}
	n := int64(math.Floor(float64(sourceCount) * fraction))
	if n < 1 {
		n = 1
	}
	return n
}
