package dto

import (
	"math"
	"time"

	"github.com/spec-kit/request-engine/internal/domain"
)

// JobRoleAssignmentsResponse is one row of the job role breakdown.
type JobRoleAssignmentsResponse struct {
	JobRole          string  `json:"job_role"`
	AssignmentCount  int     `json:"assignment_count"`
	AcceptedCount    int     `json:"accepted_count"`
	AvgResponseHours float64 `json:"avg_response_time_hours"`
}

// AssignmentTrendPoint is one UTC day of the trend.
type AssignmentTrendPoint struct {
	Date             string  `json:"date"`
	Assignments      int     `json:"assignments"`
	AvgResponseHours float64 `json:"avg_response_time_hours"`
}

// AssignmentAnalyticsResponse is the payload of GET /analytics/assignments.
type AssignmentAnalyticsResponse struct {
	Since            time.Time                    `json:"since"`
	Until            time.Time                    `json:"until"`
	TotalAssignments int                          `json:"total_assignments"`
	AcceptedCount    int                          `json:"accepted_count"`
	AvgResponseHours float64                      `json:"avg_response_time_hours"`
	JobRoleBreakdown []JobRoleAssignmentsResponse `json:"job_role_breakdown"`
	Trend            []AssignmentTrendPoint       `json:"trend"`
}

// NewAssignmentAnalyticsResponse maps domain stats. Hours are rounded to two decimals.
func NewAssignmentAnalyticsResponse(stats domain.AssignmentStats) AssignmentAnalyticsResponse {
	out := AssignmentAnalyticsResponse{
		Since:            stats.Since,
		Until:            stats.Until,
		TotalAssignments: stats.TotalAssignments,
		AcceptedCount:    stats.Accepted,
		AvgResponseHours: roundHours(stats.AvgResponseHours),
		JobRoleBreakdown: make([]JobRoleAssignmentsResponse, 0, len(stats.JobRoles)),
		Trend:            make([]AssignmentTrendPoint, 0, len(stats.Trend)),
	}
	for _, r := range stats.JobRoles {
		out.JobRoleBreakdown = append(out.JobRoleBreakdown, JobRoleAssignmentsResponse{
			JobRole:          r.JobRole,
			AssignmentCount:  r.Assignments,
			AcceptedCount:    r.Accepted,
			AvgResponseHours: roundHours(r.AvgResponseHours),
		})
	}
	for _, p := range stats.Trend {
		out.Trend = append(out.Trend, AssignmentTrendPoint{
			Date:             p.Date,
			Assignments:      p.Assignments,
			AvgResponseHours: roundHours(p.AvgResponseHours),
		})
	}
	return out
}

func roundHours(h float64) float64 {
	return math.Round(h*100) / 100
}
