package cron

import (
	"testing"
	"time"
)

func TestParseScheduleEvery(t *testing.T) {
	sched, err := ParseSchedule("every", "1h", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, ok, err := sched.Next(now)
	if err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	if !next.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected next in 1h, got %v", next)
	}
}

func TestParseScheduleCron(t *testing.T) {
	sched, err := ParseSchedule("cron", "0 9 * * *", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	next, ok, err := sched.Next(now)
	if err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	if next.Hour() != 9 {
		t.Fatalf("expected 9am run, got %v", next)
	}
}

func TestParseScheduleAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour).Format(time.RFC3339)

	sched, err := ParseSchedule("at", future, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	next, ok, err := sched.Next(now)
	if err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	if next.Unix() != now.Add(time.Hour).Unix() {
		t.Fatalf("unexpected next: %v", next)
	}

	// After the "at" time has passed, the schedule never fires again.
	_, ok, err = sched.Next(now.Add(2 * time.Hour))
	if err != nil {
		t.Fatalf("next after: %v", err)
	}
	if ok {
		t.Fatalf("expected a past 'at' schedule to not fire again")
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	cases := []struct {
		scheduleType, value string
	}{
		{"", "anything"},
		{"every", "not-a-duration"},
		{"every", "-1h"},
		{"cron", "not a cron expr"},
		{"at", "not-a-timestamp"},
		{"bogus", "x"},
	}
	for _, tc := range cases {
		if _, err := ParseSchedule(tc.scheduleType, tc.value, ""); err == nil {
			t.Fatalf("expected error for type=%q value=%q", tc.scheduleType, tc.value)
		}
	}
}

func TestParseScheduleMissingValue(t *testing.T) {
	if _, err := ParseSchedule("every", "", ""); err == nil {
		t.Fatalf("expected error for empty schedule_value")
	}
}
