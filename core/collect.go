package core

import (
	"context"
	"strings"
	"time"
)

// CollectStage fans a collect job out into one compose job per notification.
type CollectStage struct {
	Enqueuer JobEnqueuer
	Observer Observer
}

func (s *CollectStage) Handle(ctx context.Context, job CollectJob) (result CollectResult, err error) {
	startedAt := time.Now()
	if s == nil || s.Enqueuer == nil {
		return CollectResult{}, dependencyError("core: collect stage requires a job enqueuer")
	}
	result.RunID = job.RunID
	defer func() {
		s.Observer.Observe(ctx, startedAt, "collect", "", err, map[string]any{
			"run_id":            job.RunID,
			"notification_type": string(job.NotificationType),
			"period_key":        job.PeriodKey,
			"compose_jobs":      result.ComposeJobs,
			"duplicates":        result.Duplicates,
		})
	}()

	seen := make(map[string]struct{}, len(job.NotificationIDs))
	for _, id := range job.NotificationIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			result.Duplicates++
			continue
		}
		seen[id] = struct{}{}

		compose := ComposeJob{
			RunID:          job.RunID,
			NotificationID: id,
			PeriodKey:      job.PeriodKey,
		}
		if err := s.Enqueuer.Enqueue(ctx, compose.Message()); err != nil {
			return result, err
		}
		result.ComposeJobs++
	}
	return result, nil
}
