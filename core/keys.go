package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DeliveryKey is the dedup identity of a delivery. It is stable across
// retries and overlapping runs for the same user, notification and period.
func DeliveryKey(userID, notificationID, periodKey string) string {
	return strings.TrimSpace(userID) + ":" + strings.TrimSpace(notificationID) + ":" + strings.TrimSpace(periodKey)
}

func ContentHash(html, text string) string {
	sum := sha256.Sum256([]byte(html + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// NotificationHash fingerprints a subscription by type, entity and config.
// Alerts are matched on it when subscribing.
func NotificationHash(notificationType NotificationType, entityCUI string, cfg NotificationConfig) (string, error) {
	encoded, err := MarshalNotificationConfig(cfg)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(string(notificationType)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.TrimSpace(entityCUI)))
	h.Write([]byte{'|'})
	h.Write(encoded)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CollectJobKey is the queue identity of a collect job. Forced runs get a
// distinct key so they are not coalesced with an earlier run.
func CollectJobKey(notificationType NotificationType, periodKey string, runID string, force bool) string {
	key := string(notificationType) + ":" + strings.TrimSpace(periodKey)
	if force {
		key += ":" + strings.TrimSpace(runID)
	}
	return key
}

func ComposeJobKey(runID string, notificationID string) string {
	return "compose:" + strings.TrimSpace(runID) + ":" + strings.TrimSpace(notificationID)
}

func SendJobKey(deliveryID string) string {
	return "send:" + strings.TrimSpace(deliveryID)
}

// RecoverySendJobKey scopes a re-enqueued send job to one sweep, so queue
// retention of an earlier finished or dead-lettered job does not swallow it.
func RecoverySendJobKey(deliveryID string, sweptAt time.Time) string {
	return SendJobKey(deliveryID) + ":sweep:" + strconv.FormatInt(sweptAt.Unix(), 10)
}

var (
	monthKeyPattern   = regexp.MustCompile(`^(\d{4})-(0[1-9]|1[0-2])$`)
	quarterKeyPattern = regexp.MustCompile(`^(\d{4})-Q([1-4])$`)
	yearKeyPattern    = regexp.MustCompile(`^(\d{4})$`)
)

// PeriodTypeOf infers the period type from a key such as 2024-01, 2024-Q1
// or 2024.
func PeriodTypeOf(periodKey string) (PeriodType, error) {
	key := strings.TrimSpace(periodKey)
	switch {
	case monthKeyPattern.MatchString(key):
		return PeriodMonth, nil
	case quarterKeyPattern.MatchString(key):
		return PeriodQuarter, nil
	case yearKeyPattern.MatchString(key):
		return PeriodYear, nil
	default:
		return "", validationError("period_key", fmt.Sprintf("invalid period key %q", periodKey))
	}
}

// ValidatePeriodKey checks that a key is well formed for the notification
// type's cadence.
func ValidatePeriodKey(notificationType NotificationType, periodKey string) error {
	got, err := PeriodTypeOf(periodKey)
	if err != nil {
		return err
	}
	if want := notificationType.PeriodType(); got != want {
		return validationError("period_key", fmt.Sprintf("period key %q is not a %s period", periodKey, want))
	}
	return nil
}

// PreviousPeriodKey returns the last fully completed period before now.
func PreviousPeriodKey(periodType PeriodType, now time.Time) string {
	now = now.UTC()
	switch periodType {
	case PeriodYear:
		return strconv.Itoa(now.Year() - 1)
	case PeriodQuarter:
		quarter := (int(now.Month())-1)/3 + 1
		year := now.Year()
		quarter--
		if quarter == 0 {
			quarter = 4
			year--
		}
		return fmt.Sprintf("%d-Q%d", year, quarter)
	default:
		firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		previous := firstOfMonth.AddDate(0, -1, 0)
		return previous.Format("2006-01")
	}
}
