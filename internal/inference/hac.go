package inference

import "math"

// HACResult is the heteroskedasticity-and-autocorrelation-consistent
// inference for the mean of a daily P&L series.
type HACResult struct {
	Mean       float64
	SE         float64
	Lag        int
	TStat      float64
	PValue     float64 // two-sided, under a standard-normal null
	CILower    float64
	CIUpper    float64
}

// newsyWestLag returns the automatic bandwidth L = floor(4*(N/100)^(2/9))
// commonly used as a default when no domain-specific lag is supplied.
func newsyWestLag(n int) int {
	if n <= 1 {
		return 0
	}
	l := 4 * math.Pow(float64(n)/100.0, 2.0/9.0)
	return int(math.Floor(l))
}

// NeweyWestSE computes the HAC standard error of the sample mean of
// series using a Bartlett-kernel long-run variance estimator with
// automatic lag selection. confidenceLevel is the two-sided
// confidence level for the returned interval, e.g. 0.95.
func NeweyWestSE(series []float64, confidenceLevel float64) HACResult {
	n := len(series)
	if n == 0 {
		return HACResult{}
	}
	m := mean(series)
	centered := make([]float64, n)
	for i, x := range series {
		centered[i] = x - m
	}

	lag := newsyWestLag(n)

	gamma0 := 0.0
	for _, c := range centered {
		gamma0 += c * c
	}
	gamma0 /= float64(n)

	longRunVar := gamma0
	for l := 1; l <= lag && l < n; l++ {
		var gammaL float64
		for t := l; t < n; t++ {
			gammaL += centered[t] * centered[t-l]
		}
		gammaL /= float64(n)
		weight := 1.0 - float64(l)/float64(lag+1) // Bartlett kernel
		longRunVar += 2 * weight * gammaL
	}
	if longRunVar < 0 {
		longRunVar = 0
	}

	se := math.Sqrt(longRunVar / float64(n))
	var tstat float64
	pValue := 1.0
	if se > 0 {
		tstat = m / se
		pValue = math.Erfc(math.Abs(tstat) / math.Sqrt2)
	}

	alpha := 1 - confidenceLevel
	z := normInv(1 - alpha/2)
	return HACResult{
		Mean: m, SE: se, Lag: lag, TStat: tstat, PValue: pValue,
		CILower: m - z*se, CIUpper: m + z*se,
	}
}
