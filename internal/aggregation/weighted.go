package aggregation

import (
	"time"

	"github.com/brandlens/backend/internal/models"
)

// WeightedAverage returns Σ(rate·weight) / Σ(weight), or 0 when the total
// weight is 0.
func WeightedAverage(rates []float64, weights []int64) float64 {
	var num float64
	var den int64
	for i := range rates {
		num += rates[i] * float64(weights[i])
		den += weights[i]
	}
	if den == 0 {
		return 0
	}
	return num / float64(den)
}

// ChangePercent is the period-over-period change, defined as 0 when the
// previous value is 0.
func ChangePercent(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

// ComparisonWindow returns the trailing window of the same length that
// ends the day before start.
func ComparisonWindow(start, end time.Time) (time.Time, time.Time) {
	start, end = models.Day(start), models.Day(end)
	days := int(end.Sub(start).Hours()/24) + 1
	return start.AddDate(0, 0, -days), start.AddDate(0, 0, -1)
}

// Summarize rolls daily traffic rows up into period values. Volumes are
// summed and rates are session-weighted.
func Summarize(rows []models.TrafficRow) models.KPIValues {
	var v models.KPIValues
	var bounce, duration, engagement float64
	days := make(map[time.Time]bool, len(rows))
	for _, r := range rows {
		v.Sessions += r.Sessions
		v.Users += r.Users
		v.NewUsers += r.NewUsers
		v.Pageviews += r.Pageviews
		v.Conversions += r.Conversions
		bounce += r.BounceRate * float64(r.Sessions)
		duration += r.AvgSessionDuration * float64(r.Sessions)
		engagement += r.EngagementRate * float64(r.Sessions)
		days[models.Day(r.Date)] = true
	}
	v.Days = len(days)
	if v.Sessions > 0 {
		total := float64(v.Sessions)
		v.BounceRate = bounce / total
		v.AvgSessionDuration = duration / total
		v.EngagementRate = engagement / total
	}
	return v
}

// Changes computes change percentages for every KPI.
func Changes(current models.KPIValues, previous *models.KPIValues) map[string]float64 {
	prev := models.KPIValues{}
	if previous != nil {
		prev = *previous
	}
	return map[string]float64{
		"sessions":             ChangePercent(float64(current.Sessions), float64(prev.Sessions)),
		"users":                ChangePercent(float64(current.Users), float64(prev.Users)),
		"new_users":            ChangePercent(float64(current.NewUsers), float64(prev.NewUsers)),
		"pageviews":            ChangePercent(float64(current.Pageviews), float64(prev.Pageviews)),
		"conversions":          ChangePercent(float64(current.Conversions), float64(prev.Conversions)),
		"bounce_rate":          ChangePercent(current.BounceRate, prev.BounceRate),
		"avg_session_duration": ChangePercent(current.AvgSessionDuration, prev.AvgSessionDuration),
		"engagement_rate":      ChangePercent(current.EngagementRate, prev.EngagementRate),
	}
}
