package replenish

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var analysisNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC) // Sunday

func repeatSeries(value int64, days int) []int64 {
	series := make([]int64, days)
	for i := range series {
		series[i] = value
	}
	return series
}

func TestAnalyzeAllZeros(t *testing.T) {
	f := Analyze(repeatSeries(0, 30), analysisNow)
	require.Equal(t, PatternSteady, f.Pattern)
	require.Zero(t, f.Confidence)
	require.Zero(t, f.MeanDailyDemand)
	require.Zero(t, f.StdDev)
	require.Zero(t, SafetyStock(f.StdDev, 0.95, 3))
}

func TestAnalyzeAllEqual(t *testing.T) {
	f := Analyze(repeatSeries(10, 30), analysisNow)
	require.Equal(t, PatternSteady, f.Pattern)
	require.InDelta(t, 10, f.MeanDailyDemand, 0.001)
	require.Zero(t, f.StdDev)
	require.GreaterOrEqual(t, f.Confidence, 0.9)
	require.Zero(t, SafetyStock(f.StdDev, 0.95, 4))
}

func TestAnalyzeShortSeriesIsErratic(t *testing.T) {
	f := Analyze([]int64{3, 0, 5, 2, 1}, analysisNow)
	require.Equal(t, PatternErratic, f.Pattern)
	require.Zero(t, f.Confidence)
}

func TestAnalyzeGrowingTrend(t *testing.T) {
	series := make([]int64, 30)
	for i := range series {
		series[i] = int64(10 + 3*i)
	}
	f := Analyze(series, analysisNow)
	require.Equal(t, PatternGrowing, f.Pattern)
	require.Equal(t, TrendGrowing, f.Trend.Direction)
	require.Greater(t, f.Trend.Slope, 2.5)
	require.Greater(t, f.Trend.R2, 0.9)
	// Projection one window forward lies above the window mean.
	require.Greater(t, f.MeanDailyDemand, float64(series[len(series)-1])-10)
}

func TestAnalyzeDecliningTrend(t *testing.T) {
	series := make([]int64, 30)
	for i := range series {
		series[i] = int64(100 - 3*i)
	}
	f := Analyze(series, analysisNow)
	require.Equal(t, PatternDeclining, f.Pattern)
	require.Equal(t, TrendDeclining, f.Trend.Direction)
	// The projection never goes negative.
	require.GreaterOrEqual(t, f.MeanDailyDemand, 0.0)
}

func TestAnalyzeWeeklySeasonality(t *testing.T) {
	byWeekday := map[time.Weekday]int64{
		time.Monday:    20,
		time.Tuesday:   22,
		time.Wednesday: 25,
		time.Thursday:  24,
		time.Friday:    26,
		time.Saturday:  5,
		time.Sunday:    4,
	}
	days := 56
	series := make([]int64, days)
	for i := range series {
		wd := analysisNow.AddDate(0, 0, i-(days-1)).Weekday()
		series[i] = byWeekday[wd]
	}

	f := Analyze(series, analysisNow)
	require.Equal(t, PatternSeasonal, f.Pattern)
	require.GreaterOrEqual(t, f.SeasonalStrength, 0.2)
	require.Greater(t, f.Confidence, 0.2)
	// The next week covers every weekday once, so the forecast stays near
	// the overall mean.
	require.InDelta(t, 18, f.MeanDailyDemand, 1.5)
}

func TestAnalyzeOutlierReplacedByMedian(t *testing.T) {
	series := repeatSeries(10, 30)
	series[12] = 500
	f := Analyze(series, analysisNow)
	require.Equal(t, PatternSteady, f.Pattern)
	require.InDelta(t, 10, f.MeanDailyDemand, 0.5)
}

func TestAnalyzeErraticHighVariance(t *testing.T) {
	// 27 days: long enough to analyze, too short for the seasonal label.
	series := []int64{0, 40, 0, 0, 55, 0, 1, 0, 62, 0, 0, 38, 0, 0, 47, 0, 2, 0, 51, 0, 0, 44, 0, 0, 59, 0, 1}
	f := Analyze(series, analysisNow)
	require.Equal(t, PatternErratic, f.Pattern)
}

func TestAnalyzeDeterministic(t *testing.T) {
	series := []int64{5, 8, 3, 9, 4, 7, 6, 5, 8, 3, 9, 4, 7, 6, 5, 8, 3, 9, 4, 7, 6, 5, 8, 3, 9, 4, 7, 6, 5, 8}
	first := Analyze(series, analysisNow)
	second := Analyze(series, analysisNow)
	require.Equal(t, first, second)
}

func TestZScoreMapping(t *testing.T) {
	require.InDelta(t, 1.28, ZScore(0.90), 0.001)
	require.InDelta(t, 1.65, ZScore(0.95), 0.001)
	require.InDelta(t, 2.33, ZScore(0.99), 0.001)
	require.InDelta(t, 1.65, ZScore(0.85), 0.001)
}

func TestSafetyStock(t *testing.T) {
	// ceil(1.65 * 10 * sqrt(4)) = 33
	require.EqualValues(t, 33, SafetyStock(10, 0.95, 4))
	require.Zero(t, SafetyStock(0, 0.95, 4))
	require.Zero(t, SafetyStock(10, 0.95, 0))
}
