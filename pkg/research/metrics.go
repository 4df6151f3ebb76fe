package research

import (
	"regexp"
	"strconv"

	"github.com/entrhq/compass/pkg/types"
)

// Saturation bands.
const (
	SaturationLow    = "low"
	SaturationMedium = "medium"
	SaturationHigh   = "high"
)

// Momentum bands.
const (
	MomentumRising    = "rising"
	MomentumStable    = "stable"
	MomentumDeclining = "declining"
)

const defaultConfidence = 0.6

// saturationFor bands the competitor count.
func saturationFor(competitors int) string {
	switch {
	case competitors < 10:
		return SaturationLow
	case competitors <= 20:
		return SaturationMedium
	default:
		return SaturationHigh
	}
}

// momentumFor compares the average of the later half of the series to the
// earlier half. Moves beyond ten percent of the earlier average count as
// rising or declining.
func momentumFor(points []types.TrendPoint) string {
	if len(points) < 4 {
		return MomentumStable
	}
	half := len(points) / 2
	earlier := averageValue(points[:half])
	later := averageValue(points[half:])
	if earlier == 0 {
		return MomentumStable
	}
	change := (later - earlier) / earlier
	switch {
	case change > 0.10:
		return MomentumRising
	case change < -0.10:
		return MomentumDeclining
	default:
		return MomentumStable
	}
}

func averageValue(points []types.TrendPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range points {
		sum += float64(p.Value)
	}
	return sum / float64(len(points))
}

// averageRating ignores unrated listings.
func averageRating(places []types.Place) float64 {
	sum, n := 0.0, 0
	for _, p := range places {
		if p.Rating > 0 {
			sum += p.Rating
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// investmentRangeFor estimates the entry investment from the prevailing
// price level of existing competitors.
func investmentRangeFor(places []types.Place) string {
	sum, n := 0, 0
	for _, p := range places {
		if p.PriceLevel > 0 {
			sum += p.PriceLevel
			n++
		}
	}
	if n == 0 {
		return "₹10-30 lakh"
	}
	switch avg := float64(sum) / float64(n); {
	case avg < 1.5:
		return "₹5-15 lakh"
	case avg < 2.5:
		return "₹15-40 lakh"
	default:
		return "₹40 lakh and above"
	}
}

// opportunitiesFor derives headline opportunities from the computed
// metrics.
func opportunitiesFor(saturation, momentum string, avgRating float64) []string {
	var out []string
	if saturation == SaturationLow {
		out = append(out, "Low competition leaves room for a new entrant")
	}
	if momentum == MomentumRising {
		out = append(out, "Search interest is growing in this market")
	}
	if avgRating > 0 && avgRating < 4.0 {
		out = append(out, "Existing competitors rate below 4.0, a quality gap to exploit")
	}
	if len(out) == 0 {
		out = append(out, "Differentiation is the main lever in this established market")
	}
	return out
}

var confidencePattern = regexp.MustCompile(`(?i)confidence[:\s]+([0-9]*\.?[0-9]+)`)

// extractConfidence pulls a confidence score out of the generated
// narrative, clamped to [0, 1]. Narratives without one get the default.
func extractConfidence(narrative string) float64 {
	m := confidencePattern.FindStringSubmatch(narrative)
	if m == nil {
		return defaultConfidence
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return defaultConfidence
	}
	if v > 1 {
		// Tolerate percentage style answers like "Confidence: 85".
		v /= 100
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v
}
