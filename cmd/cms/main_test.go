package main

import (
	"context"
	"testing"
	"time"
)

func TestAccountMapper(t *testing.T) {
	ctx := context.Background()

	identity, err := accountMapper(nil)
	if err != nil {
		t.Fatalf("accountMapper(nil) error = %v", err)
	}
	if got, _ := identity(ctx, "alice"); got != "alice" {
		t.Errorf("identity mapper = %q, want alice", got)
	}

	m, err := accountMapper(map[string]string{"alice": "u-1"})
	if err != nil {
		t.Fatalf("accountMapper() error = %v", err)
	}
	tests := map[string]string{
		"alice": "u-1",
		"bob":   "bob",
	}
	for in, want := range tests {
		if got, err := m(ctx, in); err != nil || got != want {
			t.Errorf("mapper(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	if _, err := accountMapper(map[string]string{"alice": " "}); err == nil {
		t.Error("accountMapper() accepted an empty target")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2024-03-01", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{in: "2024-03-01T12:30:00Z", want: time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)},
		{in: "01/03/2024", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseDate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Errorf("parseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
