package jobs

import (
	"time"

	"virtual-tryon-backend/internal/models"
)

type DateGroup struct {
	Date time.Time
	Jobs []models.Job
}

// GroupByDate buckets jobs by calendar date in loc, preserving input order
// within a bucket. Input is expected newest first.
func GroupByDate(jobs []models.Job, loc *time.Location) []DateGroup {
	if loc == nil {
		loc = time.UTC
	}

	var groups []DateGroup
	index := make(map[string]int)
	for _, job := range jobs {
		t := job.CreatedAt.In(loc)
		key := t.Format(time.DateOnly)
		i, ok := index[key]
		if !ok {
			groups = append(groups, DateGroup{
				Date: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc),
			})
			i = len(groups) - 1
			index[key] = i
		}
		groups[i].Jobs = append(groups[i].Jobs, job)
	}
	return groups
}
