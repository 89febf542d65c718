package domain

import (
	"sort"
	"time"
)

const (
	DefaultAnalyticsDays = 30
	MaxAnalyticsDays     = 365
	AssignmentTrendDays  = 7

	// UnspecifiedJobRole buckets assignments not yet accepted, or accepted by
	// a member without a job role.
	UnspecifiedJobRole = "unspecified"
)

// AssignmentRecord is one request's assignment as read from storage.
type AssignmentRecord struct {
	RequestID  string
	AssignedAt time.Time
	AcceptedAt *time.Time
	JobRole    string // acceptor's job role; empty while unaccepted
}

// ResponseTime is the wait between assignment and acceptance.
func (r AssignmentRecord) ResponseTime() (time.Duration, bool) {
	if r.AcceptedAt == nil || r.AcceptedAt.Before(r.AssignedAt) {
		return 0, false
	}
	return r.AcceptedAt.Sub(r.AssignedAt), true
}

// JobRoleAssignments aggregates assignments by the acceptor's job role.
type JobRoleAssignments struct {
	JobRole          string
	Assignments      int
	Accepted         int
	AvgResponseHours float64
}

// DailyAssignments is one day of the assignment trend, in UTC.
type DailyAssignments struct {
	Date             string
	Assignments      int
	AvgResponseHours float64
}

// AssignmentStats summarizes the assignments made in [Since, Until).
// Response averages cover accepted assignments only.
type AssignmentStats struct {
	Since            time.Time
	Until            time.Time
	TotalAssignments int
	Accepted         int
	AvgResponseHours float64
	JobRoles         []JobRoleAssignments
	Trend            []DailyAssignments
}

type responseAcc struct {
	count    int
	accepted int
	total    time.Duration
}

func (a *responseAcc) add(r AssignmentRecord) {
	a.count++
	if d, ok := r.ResponseTime(); ok {
		a.accepted++
		a.total += d
	}
}

func (a *responseAcc) avgHours() float64 {
	if a.accepted == 0 {
		return 0
	}
	return (a.total / time.Duration(a.accepted)).Hours()
}

// SummarizeAssignments aggregates records assigned in [since, until). The
// trend covers the AssignmentTrendDays UTC days ending with until's day.
func SummarizeAssignments(records []AssignmentRecord, since, until time.Time) AssignmentStats {
	until = until.UTC()
	stats := AssignmentStats{
		Since:    since.UTC(),
		Until:    until,
		JobRoles: []JobRoleAssignments{},
	}

	var overall responseAcc
	byRole := make(map[string]*responseAcc)
	byDay := make(map[string]*responseAcc)
	for _, r := range records {
		if r.AssignedAt.Before(since) || !r.AssignedAt.Before(until) {
			continue
		}
		overall.add(r)

		role := r.JobRole
		if role == "" {
			role = UnspecifiedJobRole
		}
		if byRole[role] == nil {
			byRole[role] = &responseAcc{}
		}
		byRole[role].add(r)

		day := r.AssignedAt.UTC().Format(time.DateOnly)
		if byDay[day] == nil {
			byDay[day] = &responseAcc{}
		}
		byDay[day].add(r)
	}

	stats.TotalAssignments = overall.count
	stats.Accepted = overall.accepted
	stats.AvgResponseHours = overall.avgHours()

	for role, acc := range byRole {
		stats.JobRoles = append(stats.JobRoles, JobRoleAssignments{
			JobRole:          role,
			Assignments:      acc.count,
			Accepted:         acc.accepted,
			AvgResponseHours: acc.avgHours(),
		})
	}
	sort.Slice(stats.JobRoles, func(i, j int) bool {
		if stats.JobRoles[i].Assignments != stats.JobRoles[j].Assignments {
			return stats.JobRoles[i].Assignments > stats.JobRoles[j].Assignments
		}
		return stats.JobRoles[i].JobRole < stats.JobRoles[j].JobRole
	})

	last := time.Date(until.Year(), until.Month(), until.Day(), 0, 0, 0, 0, time.UTC)
	for i := AssignmentTrendDays - 1; i >= 0; i-- {
		day := last.AddDate(0, 0, -i).Format(time.DateOnly)
		point := DailyAssignments{Date: day}
		if acc := byDay[day]; acc != nil {
			point.Assignments = acc.count
			point.AvgResponseHours = acc.avgHours()
		}
		stats.Trend = append(stats.Trend, point)
	}
	return stats
}
