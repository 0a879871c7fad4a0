package replenish

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Forecast is the demand analysis of one SKU's daily series.
type Forecast struct {
	Pattern          Pattern
	Confidence       float64
	Trend            Trend
	MeanDailyDemand  float64
	StdDev           float64
	SeasonalStrength float64
	weekdayFactors   [7]float64
}

const (
	minSeriesDays       = 7
	minSeasonWindowDays = 28
	trendSlopeFraction  = 0.05
	trendMinR2          = 0.3
	seasonMinStrength   = 0.2
	erraticCVThreshold  = 1.0
	trimFraction        = 0.1
)

// Analyze classifies the demand pattern of a daily series and produces a
// point forecast of mean daily demand. The series is oldest-first and ends
// on the day of now; weekday alignment for seasonality is derived from now.
func Analyze(series []int64, now time.Time) Forecast {
	xs := toFloats(series)
	n := len(xs)

	if n < minSeriesDays {
		f := Forecast{Pattern: PatternErratic, Confidence: 0}
		if n > 0 {
			f.MeanDailyDemand = stat.Mean(xs, nil)
			f.StdDev = sampleStdDev(xs)
		}
		f.Trend.Direction = TrendSteady
		return f
	}
	if allZero(xs) {
		return Forecast{Pattern: PatternSteady, Trend: Trend{Direction: TrendSteady}}
	}

	filtered := filterOutliers(xs)
	mean := stat.Mean(filtered, nil)
	stddev := sampleStdDev(filtered)

	trend := fitTrend(filtered, mean)
	strength, factors := weeklySeasonality(filtered, now)
	seasonal := strength >= seasonMinStrength && n >= minSeasonWindowDays

	cv := 0.0
	if mean > 0 {
		cv = stddev / mean
	}

	f := Forecast{
		Trend:            trend,
		StdDev:           stddev,
		SeasonalStrength: strength,
		weekdayFactors:   factors,
	}
	trended := trend.Direction != TrendSteady
	switch {
	case cv > erraticCVThreshold && !trended && !seasonal:
		f.Pattern = PatternErratic
		f.Confidence = clip01((1 - cv) / 2)
	case seasonal:
		f.Pattern = PatternSeasonal
		f.Confidence = clip01(strength)
	case trended:
		if trend.Direction == TrendGrowing {
			f.Pattern = PatternGrowing
		} else {
			f.Pattern = PatternDeclining
		}
		f.Confidence = clip01(trend.R2)
	default:
		f.Pattern = PatternSteady
		f.Confidence = clip01(1 - cv/2)
	}

	f.MeanDailyDemand = pointForecast(f.Pattern, filtered, mean, trend, factors, now)
	return f
}

// pointForecast projects mean daily demand over the next window.
func pointForecast(pattern Pattern, filtered []float64, mean float64, trend Trend, factors [7]float64, now time.Time) float64 {
	switch pattern {
	case PatternGrowing, PatternDeclining:
		projected := mean + trend.Slope*float64(len(filtered))
		return math.Max(projected, 0)
	case PatternSeasonal:
		// Average factor of the coming week keeps the forecast aligned
		// with which weekdays the horizon actually covers.
		var sum float64
		for i := 1; i <= 7; i++ {
			sum += factors[now.AddDate(0, 0, i).Weekday()]
		}
		return math.Max(mean*sum/7, 0)
	default:
		return trimmedMean(filtered, trimFraction)
	}
}

// filterOutliers replaces values outside the Tukey fences with the series
// median. Sparse series are left alone: with fewer than 7 non-zero points
// the quartiles would clip real demand spikes.
func filterOutliers(xs []float64) []float64 {
	nonZero := 0
	for _, v := range xs {
		if v != 0 {
			nonZero++
		}
	}
	if nonZero < minSeriesDays {
		return append([]float64(nil), xs...)
	}

	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	iqr := q3 - q1
	lo, hi := q1-1.5*iqr, q3+1.5*iqr

	out := make([]float64, len(xs))
	for i, v := range xs {
		if v < lo || v > hi {
			out[i] = median
		} else {
			out[i] = v
		}
	}
	return out
}

// fitTrend runs OLS over index -> quantity and labels the direction. A trend
// counts only when the daily slope exceeds 5% of the mean and the fit
// explains at least 30% of the variance.
func fitTrend(xs []float64, mean float64) Trend {
	indices := make([]float64, len(xs))
	for i := range indices {
		indices[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(indices, xs, nil, false)
	r2 := stat.RSquared(indices, xs, nil, alpha, beta)
	if math.IsNaN(r2) {
		r2 = 0
	}

	t := Trend{Direction: TrendSteady, Slope: beta, R2: r2}
	if mean <= 0 || r2 < trendMinR2 {
		return t
	}
	switch {
	case beta > trendSlopeFraction*mean:
		t.Direction = TrendGrowing
	case beta < -trendSlopeFraction*mean:
		t.Direction = TrendDeclining
	}
	return t
}

// weeklySeasonality averages each weekday over the full weeks of the window
// and reports variance-of-weekday-means over variance-of-series, plus the
// per-weekday scaling factors.
func weeklySeasonality(xs []float64, now time.Time) (float64, [7]float64) {
	var factors [7]float64
	for i := range factors {
		factors[i] = 1
	}
	n := len(xs)
	fullWeeks := n / 7
	if fullWeeks < 1 {
		return 0, factors
	}
	used := fullWeeks * 7
	start := n - used

	var sums, counts [7]float64
	for i := start; i < n; i++ {
		// Index n-1 is today; walk backwards from now's weekday.
		wd := now.AddDate(0, 0, i-(n-1)).Weekday()
		sums[wd] += xs[i]
		counts[wd]++
	}
	var means [7]float64
	var meansSlice []float64
	for wd := range means {
		if counts[wd] > 0 {
			means[wd] = sums[wd] / counts[wd]
			meansSlice = append(meansSlice, means[wd])
		}
	}

	seriesVar := stat.Variance(xs[start:], nil)
	if seriesVar <= 0 || len(meansSlice) < 2 {
		return 0, factors
	}
	strength := stat.Variance(meansSlice, nil) / seriesVar

	overall := stat.Mean(xs[start:], nil)
	if overall > 0 {
		for wd := range factors {
			if counts[wd] > 0 {
				factors[wd] = means[wd] / overall
			}
		}
	}
	return strength, factors
}

// ZScore maps a service level to its one-sided normal quantile. Unlisted
// levels fall back to the 95% value.
func ZScore(serviceLevel float64) float64 {
	switch {
	case math.Abs(serviceLevel-0.90) < 1e-9:
		return 1.28
	case math.Abs(serviceLevel-0.95) < 1e-9:
		return 1.65
	case math.Abs(serviceLevel-0.99) < 1e-9:
		return 2.33
	default:
		return 1.65
	}
}

// SafetyStock sizes the demand-variability buffer over the lead time.
func SafetyStock(stddev, serviceLevel float64, leadTimeDays int) int64 {
	if stddev <= 0 || leadTimeDays <= 0 {
		return 0
	}
	return int64(math.Ceil(ZScore(serviceLevel) * stddev * math.Sqrt(float64(leadTimeDays))))
}

func trimmedMean(xs []float64, frac float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	cut := int(float64(len(sorted)) * frac)
	trimmed := sorted[cut : len(sorted)-cut]
	if len(trimmed) == 0 {
		trimmed = sorted
	}
	return stat.Mean(trimmed, nil)
}

func sampleStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sd := stat.StdDev(xs, nil)
	if math.IsNaN(sd) {
		return 0
	}
	return sd
}

func toFloats(series []int64) []float64 {
	xs := make([]float64, len(series))
	for i, v := range series {
		xs[i] = float64(v)
	}
	return xs
}

func allZero(xs []float64) bool {
	for _, v := range xs {
		if v != 0 {
			return false
		}
	}
	return true
}

func clip01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
