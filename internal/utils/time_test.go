package utils

import (
	"testing"
	"time"
)

func TestLoadLocation(t *testing.T) {
	tests := []struct {
		name     string
		timezone string
		wantErr  bool
	}{
		{name: "empty string returns local", timezone: ""},
		{name: "Local returns local", timezone: "Local"},
		{name: "valid timezone UTC", timezone: "UTC"},
		{name: "valid timezone Europe/London", timezone: "Europe/London"},
		{name: "invalid timezone", timezone: "Invalid/Timezone", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := LoadLocation(tt.timezone)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadLocation() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && loc == nil {
				t.Errorf("LoadLocation() returned nil location without error")
			}
		})
	}
}

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2024-01-01", "2024-01-01", 0},
		{"2024-01-01", "2024-01-31", 30},
		{"2024-02-28", "2024-03-01", 2},
		{"2023-02-28", "2023-03-01", 1},
		{"2024-03-10", "2024-03-01", -9},
		{"2023-12-31", "2024-12-31", 366},
	}
	for _, tt := range tests {
		a, _ := ParseDate(tt.a)
		b, _ := ParseDate(tt.b)
		if got := DaysBetween(a, b); got != tt.want {
			t.Errorf("DaysBetween(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDaysBetweenIgnoresClockAndZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// Spans the March DST switch.
	a := time.Date(2024, 3, 9, 23, 30, 0, 0, ny)
	b := time.Date(2024, 3, 11, 0, 15, 0, 0, ny)
	if got := DaysBetween(a, b); got != 2 {
		t.Errorf("DaysBetween() = %d, want 2", got)
	}
}

func TestAddDays(t *testing.T) {
	got, err := AddDays("2024-02-28", 2)
	if err != nil {
		t.Fatalf("AddDays() error = %v", err)
	}
	if got != "2024-03-01" {
		t.Errorf("AddDays() = %s, want 2024-03-01", got)
	}
	if _, err := AddDays("2024-02-30", 1); err == nil {
		t.Error("AddDays() should reject an invalid date")
	}
}

func TestValidDate(t *testing.T) {
	for date, want := range map[string]bool{
		"2024-02-29": true,
		"2023-02-29": false,
		"2024-13-01": false,
		"":           false,
	} {
		if got := ValidDate(date); got != want {
			t.Errorf("ValidDate(%q) = %v, want %v", date, got, want)
		}
	}
}
