package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	JobIDCollect = "notify.collect"
	JobIDCompose = "notify.compose"
	JobIDSend    = "notify.send"

	// DedupPolicyDrop asks the queue to return the existing job when one
	// with the same idempotency key was already enqueued.
	DedupPolicyDrop = "drop"
)

type CollectJob struct {
	RunID            string
	NotificationType NotificationType
	PeriodKey        string
	NotificationIDs  []string
	Force            bool
}

func (j CollectJob) Message() *JobExecutionMessage {
	return &JobExecutionMessage{
		JobID:      JobIDCollect,
		ScriptPath: JobIDCollect,
		Parameters: map[string]any{
			"run_id":            j.RunID,
			"notification_type": string(j.NotificationType),
			"period_key":        j.PeriodKey,
			"notification_ids":  append([]string(nil), j.NotificationIDs...),
			"force":             j.Force,
		},
		IdempotencyKey: CollectJobKey(j.NotificationType, j.PeriodKey, j.RunID, j.Force),
		DedupPolicy:    DedupPolicyDrop,
	}
}

func ParseCollectJob(msg *JobExecutionMessage) (CollectJob, error) {
	if err := expectJob(msg, JobIDCollect); err != nil {
		return CollectJob{}, err
	}
	notificationType, err := ParseNotificationType(paramString(msg.Parameters, "notification_type"))
	if err != nil {
		return CollectJob{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	job := CollectJob{
		RunID:            paramString(msg.Parameters, "run_id"),
		NotificationType: notificationType,
		PeriodKey:        paramString(msg.Parameters, "period_key"),
		NotificationIDs:  paramStrings(msg.Parameters, "notification_ids"),
		Force:            paramBool(msg.Parameters, "force"),
	}
	if job.RunID == "" || job.PeriodKey == "" {
		return CollectJob{}, fmt.Errorf("%w: collect job requires run_id and period_key", ErrMalformedJob)
	}
	return job, nil
}

type ComposeJob struct {
	RunID          string
	NotificationID string
	PeriodKey      string
}

func (j ComposeJob) Message() *JobExecutionMessage {
	return &JobExecutionMessage{
		JobID:      JobIDCompose,
		ScriptPath: JobIDCompose,
		Parameters: map[string]any{
			"run_id":          j.RunID,
			"notification_id": j.NotificationID,
			"period_key":      j.PeriodKey,
		},
		IdempotencyKey: ComposeJobKey(j.RunID, j.NotificationID),
		DedupPolicy:    DedupPolicyDrop,
	}
}

func ParseComposeJob(msg *JobExecutionMessage) (ComposeJob, error) {
	if err := expectJob(msg, JobIDCompose); err != nil {
		return ComposeJob{}, err
	}
	job := ComposeJob{
		RunID:          paramString(msg.Parameters, "run_id"),
		NotificationID: paramString(msg.Parameters, "notification_id"),
		PeriodKey:      paramString(msg.Parameters, "period_key"),
	}
	if job.NotificationID == "" || job.PeriodKey == "" {
		return ComposeJob{}, fmt.Errorf("%w: compose job requires notification_id and period_key", ErrMalformedJob)
	}
	return job, nil
}

type SendJob struct {
	DeliveryID string
}

func (j SendJob) Message() *JobExecutionMessage {
	return &JobExecutionMessage{
		JobID:          JobIDSend,
		ScriptPath:     JobIDSend,
		Parameters:     map[string]any{"delivery_id": j.DeliveryID},
		IdempotencyKey: SendJobKey(j.DeliveryID),
		DedupPolicy:    DedupPolicyDrop,
	}
}

// RecoveryMessage is the send job the pending sweep enqueues.
func (j SendJob) RecoveryMessage(sweptAt time.Time) *JobExecutionMessage {
	msg := j.Message()
	msg.IdempotencyKey = RecoverySendJobKey(j.DeliveryID, sweptAt)
	return msg
}

func ParseSendJob(msg *JobExecutionMessage) (SendJob, error) {
	if err := expectJob(msg, JobIDSend); err != nil {
		return SendJob{}, err
	}
	job := SendJob{DeliveryID: paramString(msg.Parameters, "delivery_id")}
	if job.DeliveryID == "" {
		return SendJob{}, fmt.Errorf("%w: send job requires delivery_id", ErrMalformedJob)
	}
	return job, nil
}

func expectJob(msg *JobExecutionMessage, jobID string) error {
	if msg == nil {
		return fmt.Errorf("%w: job message is required", ErrMalformedJob)
	}
	if strings.TrimSpace(msg.JobID) != jobID {
		return fmt.Errorf("%w: expected job %q, got %q", ErrMalformedJob, jobID, msg.JobID)
	}
	return nil
}

func paramString(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	if typed, ok := value.(string); ok {
		return strings.TrimSpace(typed)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func paramBool(params map[string]any, key string) bool {
	switch typed := params[key].(type) {
	case bool:
		return typed
	case string:
		return strings.EqualFold(strings.TrimSpace(typed), "true")
	default:
		return false
	}
}

// paramStrings accepts both []string and the []any a JSON round trip
// through a queue transport produces.
func paramStrings(params map[string]any, key string) []string {
	switch typed := params[key].(type) {
	case []string:
		return append([]string(nil), typed...)
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if item == nil {
				continue
			}
			out = append(out, strings.TrimSpace(fmt.Sprint(item)))
		}
		return out
	default:
		return nil
	}
}
