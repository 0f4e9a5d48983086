package sim

import (
	"math"
	"sort"
)

// Metrics summarizes a loss sample in one currency.
type Metrics struct {
	EAL    float64 `json:"eal"`
	VaR95  float64 `json:"var_95"`
	VaR99  float64 `json:"var_99"`
	VaR999 float64 `json:"var_999"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
}

// Quantile computes the q-quantile (q in [0, 1]) of values using linear
// interpolation between order statistics. The input need not be sorted.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return quantileSorted(sorted, q)
}

func quantileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}
	h := q * float64(n-1)
	lo := int(math.Floor(h))
	frac := h - float64(lo)
	if lo+1 >= n {
		return sorted[n-1]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Summarize computes the full metric set over a loss sample. StdDev is the
// population standard deviation.
func Summarize(values []float64) Metrics {
	if len(values) == 0 {
		return Metrics{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	ss := 0.0
	for _, v := range sorted {
		d := v - mean
		ss += d * d
	}

	return Metrics{
		EAL:    mean,
		VaR95:  quantileSorted(sorted, 0.95),
		VaR99:  quantileSorted(sorted, 0.99),
		VaR999: quantileSorted(sorted, 0.999),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Median: quantileSorted(sorted, 0.5),
		StdDev: math.Sqrt(ss / float64(len(sorted))),
	}
}

// Histogram bins values into binCount equal-width bins over [min, max],
// returning binCount+1 edges and binCount counts. A degenerate range still
// produces a usable single-spike histogram.
func Histogram(values []float64, binCount int) (edges []float64, counts []int) {
	if binCount <= 0 || len(values) == 0 {
		return nil, nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		hi = lo + 1
	}
	width := (hi - lo) / float64(binCount)

	edges = make([]float64, binCount+1)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	edges[binCount] = hi

	counts = make([]int, binCount)
	for _, v := range values {
		idx := int((v - lo) / width)
		if idx >= binCount {
			idx = binCount - 1
		}
		if idx < 0 {
			idx = 0
		}
		counts[idx]++
	}
	return edges, counts
}
