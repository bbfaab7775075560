package core

import (
	"testing"
	"time"
)

func TestDeliveryKeyIsStable(t *testing.T) {
	if got := DeliveryKey(" u1", "n1 ", "2024-01"); got != "u1:n1:2024-01" {
		t.Fatalf("unexpected delivery key %q", got)
	}
}

func TestJobKeys(t *testing.T) {
	if got := CollectJobKey(NotificationNewsletterMonthly, "2024-01", "run_1", false); got != "newsletter_entity_monthly:2024-01" {
		t.Fatalf("unexpected collect key %q", got)
	}
	if got := CollectJobKey(NotificationNewsletterMonthly, "2024-01", "run_1", true); got != "newsletter_entity_monthly:2024-01:run_1" {
		t.Fatalf("unexpected forced collect key %q", got)
	}
	if got := ComposeJobKey("run_1", "n1"); got != "compose:run_1:n1" {
		t.Fatalf("unexpected compose key %q", got)
	}
	if got := SendJobKey("dlv_1"); got != "send:dlv_1" {
		t.Fatalf("unexpected send key %q", got)
	}
}

func TestContentHashChangesWithContent(t *testing.T) {
	a := ContentHash("<p>a</p>", "a")
	if a != ContentHash("<p>a</p>", "a") {
		t.Fatalf("expected deterministic hash")
	}
	if a == ContentHash("<p>a</p>a", "") {
		t.Fatalf("expected separator to keep html and text apart")
	}
}

func TestNotificationHashDistinguishesConfigs(t *testing.T) {
	first, _ := NewStaticSeriesConfig("Debt", "ds_1", Condition{Operator: OperatorGreaterThan, Threshold: 1})
	second, _ := NewStaticSeriesConfig("Debt", "ds_2", Condition{Operator: OperatorGreaterThan, Threshold: 1})
	h1, err := NotificationHash(NotificationAlertStatic, "", first)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, _ := NotificationHash(NotificationAlertStatic, "", second)
	again, _ := NotificationHash(NotificationAlertStatic, "", first)
	if h1 == h2 {
		t.Fatalf("expected different datasets to hash differently")
	}
	if h1 != again {
		t.Fatalf("expected hash to be deterministic")
	}
}

func TestPeriodTypeOf(t *testing.T) {
	cases := map[string]PeriodType{
		"2024-01": PeriodMonth,
		"2024-12": PeriodMonth,
		"2024-Q3": PeriodQuarter,
		"2024":    PeriodYear,
	}
	for key, want := range cases {
		got, err := PeriodTypeOf(key)
		if err != nil || got != want {
			t.Fatalf("%s: expected %s, got %s err=%v", key, want, got, err)
		}
	}
	for _, bad := range []string{"2024-13", "2024-Q5", "24", "2024/01", ""} {
		if _, err := PeriodTypeOf(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestValidatePeriodKeyMatchesCadence(t *testing.T) {
	if err := ValidatePeriodKey(NotificationNewsletterQuarterly, "2024-Q1"); err != nil {
		t.Fatalf("expected quarter key to validate: %v", err)
	}
	if err := ValidatePeriodKey(NotificationNewsletterQuarterly, "2024-01"); err == nil {
		t.Fatalf("expected month key to be rejected for quarterly newsletters")
	}
	if err := ValidatePeriodKey(NotificationAlertStatic, "2024-02"); err != nil {
		t.Fatalf("expected alerts to accept month keys: %v", err)
	}
}

func TestPreviousPeriodKey(t *testing.T) {
	jan := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		periodType PeriodType
		now        time.Time
		want       string
	}{
		{PeriodMonth, jan, "2023-12"},
		{PeriodMonth, time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC), "2024-02"},
		{PeriodQuarter, jan, "2023-Q4"},
		{PeriodQuarter, time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC), "2024-Q2"},
		{PeriodYear, jan, "2023"},
	}
	for _, tc := range cases {
		if got := PreviousPeriodKey(tc.periodType, tc.now); got != tc.want {
			t.Fatalf("%s at %s: expected %s, got %s", tc.periodType, tc.now, tc.want, got)
		}
	}
}
