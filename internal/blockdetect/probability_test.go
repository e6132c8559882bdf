package blockdetect

import (
	"testing"
	"time"
)

func TestCalculateBlockProbability(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	daysAgo := func(d int) *time.Time {
		at := now.AddDate(0, 0, -d)
		return &at
	}

	cases := []struct {
		name string
		m    Metrics
		want int
	}{
		{
			name: "no history",
			m:    Metrics{},
			want: 0,
		},
		{
			name: "single undelivered",
			m:    Metrics{ConsecutiveUndelivered: 1, TotalMessagesSent: 1},
			want: 10 + 30, // rate 0
		},
		{
			name: "two undelivered, healthy rate",
			m:    Metrics{ConsecutiveUndelivered: 2, TotalMessagesSent: 10, TotalMessagesDelivered: 8, LastDeliveredAt: daysAgo(1)},
			want: 20,
		},
		{
			name: "three undelivered, sinking rate",
			m:    Metrics{ConsecutiveUndelivered: 3, TotalMessagesSent: 10, TotalMessagesDelivered: 6, LastDeliveredAt: daysAgo(1)},
			want: 40 + 15,
		},
		{
			name: "long run, bad rate, week of silence",
			m:    Metrics{ConsecutiveUndelivered: 5, TotalMessagesSent: 10, TotalMessagesDelivered: 2, LastDeliveredAt: daysAgo(10)},
			want: 100, // 60+30+20 clamped
		},
		{
			name: "silence between three and seven days",
			m:    Metrics{TotalMessagesSent: 10, TotalMessagesDelivered: 9, LastDeliveredAt: daysAgo(5)},
			want: 10,
		},
		{
			name: "never delivered but nothing pending",
			m:    Metrics{TotalMessagesSent: 4},
			want: 30,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CalculateBlockProbability(tc.m, now); got != tc.want {
				t.Fatalf("CalculateBlockProbability(%+v) = %d, want %d", tc.m, got, tc.want)
			}
		})
	}
}

func TestVerdictFor(t *testing.T) {
	cases := []struct {
		probability int
		want        Verdict
	}{
		{0, VerdictClear},
		{49, VerdictClear},
		{50, VerdictSuspicious},
		{79, VerdictSuspicious},
		{80, VerdictBlocked},
		{100, VerdictBlocked},
	}
	for _, tc := range cases {
		if got := VerdictFor(tc.probability); got != tc.want {
			t.Fatalf("VerdictFor(%d) = %s, want %s", tc.probability, got, tc.want)
		}
	}
}

func TestAuditProbability(t *testing.T) {
	cases := []struct {
		name                             string
		undelivered, checked, consecutive int
		want                             int
	}{
		{"nothing checked", 0, 0, 0, 0},
		{"all delivered", 0, 10, 0, 0},
		{"half undelivered, short run", 5, 10, 2, 50},
		{"half undelivered, long run boost", 5, 10, 3, 80},
		{"rounding", 1, 3, 0, 33},
		{"clamped", 10, 10, 5, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := auditProbability(tc.undelivered, tc.checked, tc.consecutive); got != tc.want {
				t.Fatalf("auditProbability(%d, %d, %d) = %d, want %d",
					tc.undelivered, tc.checked, tc.consecutive, got, tc.want)
			}
		})
	}
}
