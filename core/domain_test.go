package core

import (
	"testing"
	"time"
)

func TestParseNotificationType(t *testing.T) {
	for _, known := range NotificationTypes() {
		got, err := ParseNotificationType(" " + string(known) + " ")
		if err != nil || got != known {
			t.Fatalf("expected %q to parse, got %q err=%v", known, got, err)
		}
	}
	if _, err := ParseNotificationType("newsletter_weekly"); err == nil {
		t.Fatalf("expected unknown type to fail")
	}
}

func TestNotificationTypeCadence(t *testing.T) {
	cases := map[NotificationType]PeriodType{
		NotificationNewsletterMonthly:   PeriodMonth,
		NotificationNewsletterQuarterly: PeriodQuarter,
		NotificationNewsletterYearly:    PeriodYear,
		NotificationAlertAnalytics:      PeriodMonth,
		NotificationAlertStatic:         PeriodMonth,
	}
	for notificationType, want := range cases {
		if got := notificationType.PeriodType(); got != want {
			t.Fatalf("%s: expected %s, got %s", notificationType, want, got)
		}
		if notificationType.IsAlert() == notificationType.IsNewsletter() {
			t.Fatalf("%s must be exactly one of newsletter or alert", notificationType)
		}
	}
}

func TestDeliveryStatusTerminal(t *testing.T) {
	for _, status := range NonTerminalStatuses {
		if status.IsTerminal() {
			t.Fatalf("%s should not be terminal", status)
		}
	}
	for _, status := range []DeliveryStatus{
		DeliveryStatusDelivered,
		DeliveryStatusFailedPermanent,
		DeliveryStatusSuppressed,
		DeliveryStatusSkippedNoEmail,
	} {
		if !status.IsTerminal() {
			t.Fatalf("%s should be terminal", status)
		}
	}
}

func TestUnsubscribeTokenActiveAt(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	token := UnsubscribeToken{ExpiresAt: now.Add(time.Hour)}
	if !token.ActiveAt(now) {
		t.Fatalf("expected token to be active")
	}
	if token.ActiveAt(now.Add(time.Hour)) {
		t.Fatalf("expected token to expire at ExpiresAt")
	}
	token.UsedAt = &now
	if token.ActiveAt(now) {
		t.Fatalf("expected used token to be inactive")
	}
}

func TestDeliveryHasRenderedContent(t *testing.T) {
	if (Delivery{RenderedSubject: "s", RenderedHTML: "h"}).HasRenderedContent() {
		t.Fatalf("expected missing text to fail")
	}
	if !(Delivery{RenderedSubject: "s", RenderedHTML: "h", RenderedText: "t"}).HasRenderedContent() {
		t.Fatalf("expected full content to pass")
	}
}
