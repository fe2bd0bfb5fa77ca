package alerts

import (
	"sort"

	"fleetguard/internal/model"
)

// RecentLimit bounds DashboardSummary.RecentActive.
const RecentLimit = 10

// Summarize derives the dashboard from a full incident listing. Severity and
// kind counts cover active incidents only.
func Summarize(incidents []model.ActiveAlert) model.DashboardSummary {
	out := model.DashboardSummary{
		BySeverity:   map[model.Severity]int{},
		ByKind:       map[model.AlertKind]int{},
		RecentActive: []model.ActiveAlert{},
	}
	active := make([]model.ActiveAlert, 0, len(incidents))
	for _, a := range incidents {
		switch a.Status {
		case model.StatusActive:
			out.ActiveCount++
			out.BySeverity[a.Severity]++
			out.ByKind[a.Kind]++
			active = append(active, a)
		case model.StatusAcknowledged:
			out.AcknowledgedCount++
		case model.StatusResolved:
			out.ResolvedCount++
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].LastOccurrence.After(active[j].LastOccurrence)
	})
	if len(active) > RecentLimit {
		active = active[:RecentLimit]
	}
	out.RecentActive = append(out.RecentActive, active...)
	return out
}
