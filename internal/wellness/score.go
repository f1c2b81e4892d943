package wellness

import (
	"math"
	"time"
)

// Component names, also used as keys of the component score map.
const (
	BreakCompliance   = "break_compliance"
	WorkDuration      = "work_duration"
	ActivityBalance   = "activity_balance"
	ScheduleAdherence = "schedule_adherence"
	SystemUsage       = "system_usage"
)

// Weights of the composite score. They sum to 1.
var Weights = map[string]float64{
	BreakCompliance:   0.3,
	WorkDuration:      0.2,
	ActivityBalance:   0.2,
	ScheduleAdherence: 0.2,
	SystemUsage:       0.1,
}

// Components lists component names in a stable order.
var Components = []string{BreakCompliance, WorkDuration, ActivityBalance, ScheduleAdherence, SystemUsage}

const (
	optimalWork   = 45 * time.Minute
	maxWork       = 2 * time.Hour
	targetActive  = 0.75
	cpuThreshold  = 70.0
	memThreshold  = 80.0
	adviceCeiling = 70.0
)

// Metrics are the inputs of one scoring call.
type Metrics struct {
	BreaksTaken      int           `json:"breaks_taken"`
	BreaksSuggested  int           `json:"breaks_suggested"`
	ActiveDuration   time.Duration `json:"active_duration"`
	ActiveMinutes    float64       `json:"active_minutes"`
	RestMinutes      float64       `json:"rest_minutes"`
	MeetingsAttended int           `json:"meetings_attended"`
	TotalMeetings    int           `json:"total_meetings"`
	CPUPercent       float64       `json:"cpu_percent"`
	MemoryPercent    float64       `json:"memory_percent"`
}

// BreakComplianceScore is min(taken/suggested, 1)*100, or 100 with nothing
// suggested.
func BreakComplianceScore(taken, suggested int) float64 {
	if suggested <= 0 {
		return 100
	}
	return math.Min(float64(taken)/float64(suggested), 1) * 100
}

// WorkDurationScore is 100 up to 45 minutes of continuous work, 50 from two
// hours, linear in between.
func WorkDurationScore(active time.Duration) float64 {
	switch {
	case active <= optimalWork:
		return 100
	case active >= maxWork:
		return 50
	}
	frac := float64(active-optimalWork) / float64(maxWork-optimalWork)
	return 100 - frac*50
}

// ActivityBalanceScore penalizes deviation of the active ratio from 0.75,
// twice as hard above the target as below, with a floor of 50.
func ActivityBalanceScore(activeMinutes, restMinutes float64) float64 {
	total := activeMinutes + restMinutes
	if total <= 0 {
		return 100
	}
	ratio := activeMinutes / total
	var penalty float64
	if ratio > targetActive {
		penalty = (ratio - targetActive) * 100
	} else {
		penalty = (targetActive - ratio) * 50
	}
	return math.Max(100-penalty, 50)
}

// ScheduleAdherenceScore is min(attended/total, 1)*100, or 100 with no
// meetings.
func ScheduleAdherenceScore(attended, total int) float64 {
	if total <= 0 {
		return 100
	}
	return math.Min(float64(attended)/float64(total), 1) * 100
}

// SystemUsageScore costs two points per percent of CPU above 70 and memory
// above 80, averaged across both axes.
func SystemUsageScore(cpuPercent, memPercent float64) float64 {
	cpu := 100 - math.Max(0, cpuPercent-cpuThreshold)*2
	mem := 100 - math.Max(0, memPercent-memThreshold)*2
	return clamp((cpu + mem) / 2)
}

// ComponentScores evaluates every component for m.
func ComponentScores(m Metrics) map[string]float64 {
	return map[string]float64{
		BreakCompliance:   BreakComplianceScore(m.BreaksTaken, m.BreaksSuggested),
		WorkDuration:      WorkDurationScore(m.ActiveDuration),
		ActivityBalance:   ActivityBalanceScore(m.ActiveMinutes, m.RestMinutes),
		ScheduleAdherence: ScheduleAdherenceScore(m.MeetingsAttended, m.TotalMeetings),
		SystemUsage:       SystemUsageScore(m.CPUPercent, m.MemoryPercent),
	}
}

// Composite is the weighted sum of component scores.
func Composite(components map[string]float64) float64 {
	var total float64
	for name, w := range Weights {
		total += components[name] * w
	}
	return clamp(total)
}

// Advice returns one suggestion per component scoring below 70.
func Advice(components map[string]float64) []string {
	texts := map[string]string{
		BreakCompliance:   "Try to take more regular breaks when suggested",
		WorkDuration:      "Consider shorter work sessions between breaks",
		ActivityBalance:   "Aim for a better balance between active work and rest periods",
		ScheduleAdherence: "Try to better adhere to your scheduled meetings and breaks",
		SystemUsage:       "High system resource usage detected - consider closing unused applications",
	}
	out := []string{}
	for _, name := range Components {
		if v, ok := components[name]; ok && v < adviceCeiling {
			out = append(out, texts[name])
		}
	}
	return out
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
