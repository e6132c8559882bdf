package windows

import (
	"testing"
	"time"

	"outreach_backend/internal/contacts"
)

func TestComputeWindowState(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	hoursAgo := func(h int) *time.Time {
		at := now.Add(-time.Duration(h) * time.Hour)
		return &at
	}

	calc := NewCalculator(0, 0) // provider defaults, 24h / 72h

	cases := []struct {
		name          string
		contact       contacts.Contact
		wantService   bool
		wantFreeEntry bool
	}{
		{
			name:    "no interaction history",
			contact: contacts.Contact{},
		},
		{
			name: "client replied an hour ago",
			contact: contacts.Contact{
				LastInteractionAt:     hoursAgo(1),
				LastInteractionSource: contacts.SourceClient,
			},
			wantService:   true,
			wantFreeEntry: true,
		},
		{
			name: "client reply older than service window",
			contact: contacts.Contact{
				LastInteractionAt:     hoursAgo(30),
				LastInteractionSource: contacts.SourceClient,
			},
			wantService:   false,
			wantFreeEntry: true,
		},
		{
			name: "client reply older than both windows",
			contact: contacts.Contact{
				LastInteractionAt:     hoursAgo(80),
				LastInteractionSource: contacts.SourceClient,
			},
		},
		{
			name: "agent interaction does not open the service window",
			contact: contacts.Contact{
				LastInteractionAt:     hoursAgo(1),
				LastInteractionSource: contacts.SourceAgent,
			},
		},
		{
			name: "recent first contact opens free entry only",
			contact: contacts.Contact{
				FirstContactAt:        hoursAgo(10),
				LastInteractionAt:     hoursAgo(2),
				LastInteractionSource: contacts.SourceAgent,
			},
			wantFreeEntry: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := calc.Compute(now, tc.contact)
			if got.ServiceWindowActive != tc.wantService {
				t.Fatalf("ServiceWindowActive = %v, want %v", got.ServiceWindowActive, tc.wantService)
			}
			if got.FreeEntryWindowActive != tc.wantFreeEntry {
				t.Fatalf("FreeEntryWindowActive = %v, want %v", got.FreeEntryWindowActive, tc.wantFreeEntry)
			}
			if got.Open() != (tc.wantService || tc.wantFreeEntry) {
				t.Fatalf("Open() = %v inconsistent with state %+v", got.Open(), got)
			}
		})
	}
}

func TestNewCalculatorCustomDurations(t *testing.T) {
	now := time.Now()
	replied := now.Add(-90 * time.Minute)
	contact := contacts.Contact{
		LastInteractionAt:     &replied,
		LastInteractionSource: contacts.SourceClient,
	}

	calc := NewCalculator(time.Hour, 2*time.Hour)
	state := calc.Compute(now, contact)
	if state.ServiceWindowActive {
		t.Fatal("90 minutes must be outside a 1h service window")
	}
	if !state.FreeEntryWindowActive {
		t.Fatal("90 minutes must be inside a 2h free-entry window")
	}
}
