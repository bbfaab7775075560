package core

import (
	"context"
	"strings"
	"time"
)

type TriggerRequest struct {
	NotificationType string `json:"notificationType"`
	PeriodKey        string `json:"periodKey,omitempty"`
	DryRun           bool   `json:"dryRun,omitempty"`
	Limit            int    `json:"limit,omitempty"`
	Force            bool   `json:"force,omitempty"`
}

type TriggerResult struct {
	RunID              string `json:"runId"`
	EligibleCount      int    `json:"eligibleCount"`
	CollectJobEnqueued bool   `json:"collectJobEnqueued"`
	DryRun             bool   `json:"dryRun"`
	PeriodKey          string `json:"periodKey"`
}

// TriggerService starts a run: it asks the eligibility collaborator for the
// notification ids of a period and enqueues a single collect job for them.
type TriggerService struct {
	Eligibility  EligibilityFinder
	Enqueuer     JobEnqueuer
	DefaultLimit int
	Observer     Observer
	Now          func() time.Time
	NewID        func() string
}

func (s *TriggerService) Trigger(ctx context.Context, req TriggerRequest) (result TriggerResult, err error) {
	startedAt := time.Now()
	if s == nil || s.Eligibility == nil || s.Enqueuer == nil || s.NewID == nil {
		return TriggerResult{}, dependencyError("core: trigger service is not configured")
	}

	notificationType, err := ParseNotificationType(req.NotificationType)
	if err != nil {
		return TriggerResult{}, err
	}
	periodKey := strings.TrimSpace(req.PeriodKey)
	if periodKey == "" {
		periodKey = PreviousPeriodKey(notificationType.PeriodType(), s.now())
	}
	if err := ValidatePeriodKey(notificationType, periodKey); err != nil {
		return TriggerResult{}, err
	}
	if req.Limit < 0 {
		return TriggerResult{}, validationError("limit", "limit must not be negative")
	}
	limit := req.Limit
	if limit == 0 {
		limit = s.DefaultLimit
	}

	result = TriggerResult{
		RunID:     s.NewID(),
		DryRun:    req.DryRun,
		PeriodKey: periodKey,
	}
	defer func() {
		s.Observer.Observe(ctx, startedAt, "trigger", "", err, map[string]any{
			"run_id":            result.RunID,
			"notification_type": string(notificationType),
			"period_key":        periodKey,
			"eligible_count":    result.EligibleCount,
			"dry_run":           req.DryRun,
			"force":             req.Force,
		})
	}()

	ids, err := s.Eligibility.FindEligible(ctx, notificationType, periodKey, limit)
	if err != nil {
		return result, err
	}
	result.EligibleCount = len(ids)
	if req.DryRun || len(ids) == 0 {
		return result, nil
	}

	job := CollectJob{
		RunID:            result.RunID,
		NotificationType: notificationType,
		PeriodKey:        periodKey,
		NotificationIDs:  ids,
		Force:            req.Force,
	}
	if err := s.Enqueuer.Enqueue(ctx, job.Message()); err != nil {
		return result, err
	}
	result.CollectJobEnqueued = true
	return result, nil
}

func (s *TriggerService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
