package govern

import (
	"math"
	"time"

	"github.com/hupe1980/govern/breaker"
	"github.com/hupe1980/govern/metrics"
	"github.com/hupe1980/govern/resource"
)

// DefaultReportErrors is the number of recent errors in a Report.
const DefaultReportErrors = 20

// Summary aggregates all tools of a Report.
type Summary struct {
	TotalConversions int `json:"totalConversions"`
	TotalSuccess     int `json:"totalSuccess"`
	TotalFailures    int `json:"totalFailures"`
	// OverallSuccessRate is a rounded percentage, 100 when nothing ran yet.
	OverallSuccessRate int `json:"overallSuccessRate"`
}

// Report is a point-in-time view of the governor.
type Report struct {
	Timestamp    time.Time                `json:"timestamp"`
	System       resource.Stats           `json:"system"`
	Tools        []metrics.ToolStats      `json:"tools"`
	RecentErrors []metrics.ErrorEntry     `json:"recentErrors"`
	Circuits     map[string]breaker.State `json:"circuits"`
	Summary      Summary                  `json:"summary"`
}

// Report returns a snapshot with up to recentErrors failures.
// Non-positive values use DefaultReportErrors.
func (g *Governor) Report(recentErrors int) Report {
	if recentErrors <= 0 {
		recentErrors = DefaultReportErrors
	}

	tools := g.history.AllToolStats()
	errs := g.history.RecentErrors(recentErrors)
	if errs == nil {
		errs = []metrics.ErrorEntry{}
	}

	return Report{
		Timestamp:    g.now(),
		System:       g.state.Stats(),
		Tools:        tools,
		RecentErrors: errs,
		Circuits:     g.breaker.States(),
		Summary:      summarize(tools),
	}
}

func summarize(tools []metrics.ToolStats) Summary {
	var s Summary
	for _, t := range tools {
		s.TotalConversions += t.Total
		s.TotalSuccess += t.Success
		s.TotalFailures += t.Failure
	}
	s.OverallSuccessRate = 100
	if s.TotalConversions > 0 {
		s.OverallSuccessRate = int(math.Round(float64(s.TotalSuccess) / float64(s.TotalConversions) * 100))
	}
	return s
}
