// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scorecard

import (
	"math"
)

// z95 is the standard normal quantile for a two-sided 95% interval.
const z95 = 1.959963984540054

// Interval is a confidence interval over a proportion.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// WilsonInterval returns the 95% Wilson score interval for successes
// out of n trials. Unlike the normal approximation it behaves at the
// boundaries (0 or n successes) and for small n. n == 0 yields [0, 0].
func WilsonInterval(successes, n int) Interval {
	if n <= 0 {
		return Interval{}
	}
	p := float64(successes) / float64(n)
	nf := float64(n)
	z2 := z95 * z95

	denom := 1 + z2/nf
	center := p + z2/(2*nf)
	margin := z95 * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf))

	lower := (center - margin) / denom
	upper := (center + margin) / denom
	if lower < 0 {
		lower = 0
	}
	if upper > 1 {
		upper = 1
	}
	return Interval{Lower: lower, Upper: upper}
}
