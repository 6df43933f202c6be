package policy

import (
	"errors"
	"strings"
	"testing"
)

var allRisks = []Risk{RiskUnknown, RiskLow, RiskMedium, RiskHigh}

func TestRequiresConfirmation(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		want   map[Risk]bool
	}{
		{
			name:   "always",
			policy: Always(),
			want:   map[Risk]bool{RiskUnknown: true, RiskLow: true, RiskMedium: true, RiskHigh: true},
		},
		{
			name:   "never",
			policy: Never(),
			want:   map[Risk]bool{RiskUnknown: false, RiskLow: false, RiskMedium: false, RiskHigh: false},
		},
		{
			name:   "risky high",
			policy: Risky(RiskHigh),
			want:   map[Risk]bool{RiskUnknown: true, RiskLow: false, RiskMedium: false, RiskHigh: true},
		},
		{
			name:   "risky medium",
			policy: Risky(RiskMedium),
			want:   map[Risk]bool{RiskUnknown: true, RiskLow: false, RiskMedium: true, RiskHigh: true},
		},
		{
			name:   "risky without unknown",
			policy: Policy{Kind: ConfirmRisky, Threshold: RiskLow},
			want:   map[Risk]bool{RiskUnknown: false, RiskLow: true, RiskMedium: true, RiskHigh: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, r := range allRisks {
				if got := tt.policy.RequiresConfirmation(r); got != tt.want[r] {
					t.Errorf("RequiresConfirmation(%s) = %v, want %v", r, got, tt.want[r])
				}
			}
		})
	}
}

func TestRiskyDefaultsThreshold(t *testing.T) {
	p := Risky(RiskUnknown)
	if p.Threshold != DefaultThreshold {
		t.Fatalf("threshold = %s, want %s", p.Threshold, DefaultThreshold)
	}
}

func TestModeRoundTrip(t *testing.T) {
	for _, m := range Modes() {
		p, err := FromMode(string(m.ID))
		if err != nil {
			t.Fatalf("FromMode(%q): %v", m.ID, err)
		}
		if p.Mode() != m.ID {
			t.Errorf("FromMode(%q).Mode() = %q", m.ID, p.Mode())
		}
	}

	aliases := map[string]Kind{"prompt": AlwaysConfirm, "auto": NeverConfirm, " Always-Approve ": NeverConfirm}
	for in, kind := range aliases {
		p, err := FromMode(in)
		if err != nil {
			t.Fatalf("FromMode(%q): %v", in, err)
		}
		if p.Kind != kind {
			t.Errorf("FromMode(%q).Kind = %v, want %v", in, p.Kind, kind)
		}
	}

	if _, err := FromMode("sometimes"); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("err = %v, want ErrUnknownMode", err)
	}
}

func TestParseRisk(t *testing.T) {
	tests := []struct {
		in      string
		want    Risk
		wantErr bool
	}{
		{"low", RiskLow, false},
		{"MEDIUM", RiskMedium, false},
		{" High ", RiskHigh, false},
		{"", RiskUnknown, false},
		{"extreme", RiskUnknown, true},
	}
	for _, tt := range tests {
		got, err := ParseRisk(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRisk(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseRisk(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseErrorsCarryLocation(t *testing.T) {
	_, err := FromMode("sometimes")
	if !errors.Is(err, ErrUnknownMode) || !strings.Contains(err.Error(), "[policy.go:") || !strings.Contains(err.Error(), `"sometimes"`) {
		t.Errorf("FromMode err = %v", err)
	}
	_, err = ParseRisk("extreme")
	if !errors.Is(err, ErrUnknownRisk) || !strings.Contains(err.Error(), "[policy.go:") {
		t.Errorf("ParseRisk err = %v", err)
	}
}
