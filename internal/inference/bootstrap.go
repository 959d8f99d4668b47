package inference

import (
	"math"
	"math/rand/v2"
	"sort"
)

// BootstrapResult is the moving-block bootstrap distribution of the
// sample mean, summarised as a percentile confidence interval.
type BootstrapResult struct {
	Mean       float64
	SE         float64
	CILower    float64
	CIUpper    float64
	NResamples int
	BlockLen   int
}

// BlockBootstrap resamples series nResamples times using overlapping
// blocks of length blockLen (Politis-Romano-style moving block
// bootstrap, chosen over the i.i.d. bootstrap because daily P&L is
// serially correlated) and returns the resulting mean distribution's
// percentile interval at confidenceLevel. Reproducible given seed —
// reuses the same math/rand/v2 PCG source as internal/data's synthetic
// provider for the same standard-library justification (see
// DESIGN.md: no ecosystem resampling library surfaced in the
// reference corpus).
func BlockBootstrap(series []float64, blockLen, nResamples int, confidenceLevel float64, seed uint64) BootstrapResult {
	n := len(series)
	if n == 0 || blockLen <= 0 || nResamples <= 0 {
		return BootstrapResult{}
	}
	if blockLen > n {
		blockLen = n
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	numBlocks := (n + blockLen - 1) / blockLen

	means := make([]float64, nResamples)
	for r := 0; r < nResamples; r++ {
		sum := 0.0
		count := 0
		for b := 0; b < numBlocks; b++ {
			start := rng.IntN(n - blockLen + 1)
			for i := 0; i < blockLen && count < n; i++ {
				sum += series[start+i]
				count++
			}
		}
		means[r] = sum / float64(count)
	}

	sort.Float64s(means)
	m := mean(means)
	se := math.Sqrt(variance(means, m))

	alpha := 1 - confidenceLevel
	lowIdx := int(alpha / 2 * float64(nResamples))
	highIdx := int((1 - alpha/2) * float64(nResamples))
	if highIdx >= nResamples {
		highIdx = nResamples - 1
	}

	return BootstrapResult{
		Mean: m, SE: se,
		CILower: means[lowIdx], CIUpper: means[highIdx],
		NResamples: nResamples, BlockLen: blockLen,
	}
}
