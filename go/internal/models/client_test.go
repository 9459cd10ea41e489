package models

import "testing"

func TestFingerprintStable(t *testing.T) {
	base := ClientInfo{
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64)",
		ScreenResolution: "1920x1080",
		Timezone:         "Europe/Berlin",
		Language:         "de-DE",
		IPAddress:        "203.0.113.10",
	}

	tests := []struct {
		name   string
		client ClientInfo
		same   bool
	}{
		{name: "identical attributes", client: base, same: true},
		{
			name: "case differences collapse",
			client: ClientInfo{
				UserAgent:        "MOZILLA/5.0 (x11; LINUX X86_64)",
				ScreenResolution: "1920X1080",
				Timezone:         "EUROPE/BERLIN",
				Language:         "DE-de",
				IPAddress:        base.IPAddress,
			},
			same: true,
		},
		{
			name: "surrounding whitespace collapses",
			client: ClientInfo{
				UserAgent:        "  Mozilla/5.0 (X11; Linux x86_64)  ",
				ScreenResolution: "\t1920x1080\n",
				Timezone:         " Europe/Berlin",
				Language:         "de-DE ",
				IPAddress:        base.IPAddress,
			},
			same: true,
		},
		{
			name: "ip change keeps the fingerprint",
			client: ClientInfo{
				UserAgent:        base.UserAgent,
				ScreenResolution: base.ScreenResolution,
				Timezone:         base.Timezone,
				Language:         base.Language,
				IPAddress:        "198.51.100.7",
			},
			same: true,
		},
		{
			name: "different device differs",
			client: ClientInfo{
				UserAgent:        "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)",
				ScreenResolution: "390x844",
				Timezone:         base.Timezone,
				Language:         base.Language,
				IPAddress:        base.IPAddress,
			},
			same: false,
		},
		{
			name: "resolution change differs",
			client: ClientInfo{
				UserAgent:        base.UserAgent,
				ScreenResolution: "2560x1440",
				Timezone:         base.Timezone,
				Language:         base.Language,
				IPAddress:        base.IPAddress,
			},
			same: false,
		},
	}

	want := base.Fingerprint()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.client.Fingerprint()
			if (got == want) != tt.same {
				t.Errorf("fingerprint match = %v, want %v", got == want, tt.same)
			}
		})
	}
}

func TestFingerprintAttributeBoundaries(t *testing.T) {
	// The separator keeps adjacent attributes from bleeding into each
	// other: moving characters across the boundary must change the hash.
	a := ClientInfo{UserAgent: "agent", ScreenResolution: "x1920"}
	b := ClientInfo{UserAgent: "agentx", ScreenResolution: "1920"}
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("attribute boundary not preserved in the fingerprint")
	}
}

func TestFingerprintShape(t *testing.T) {
	fp := ClientInfo{}.Fingerprint()
	if len(fp) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex characters", len(fp))
	}
	for _, r := range fp {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			t.Errorf("fingerprint contains non-hex character %q", r)
			break
		}
	}
}
