package crypto

import (
	"testing"
	"time"
)

func TestHMACAuth_RoundTrip(t *testing.T) {
	auth := &HMACAuth{Secret: "whsec_test"}
	body := []byte(`{"type":"group_deleted"}`)
	now := time.Unix(1767600000, 0)

	h := auth.HeadersAt(body, now.Unix())
	ts, sig := h[HeaderTimestamp], h[HeaderSignature]
	if ts != "1767600000" || sig == "" {
		t.Fatalf("HeadersAt() = %v", h)
	}
	if again := auth.HeadersAt(body, now.Unix()); again[HeaderSignature] != sig {
		t.Error("signature is not deterministic")
	}

	tests := []struct {
		name string
		body []byte
		ts   string
		sig  string
		now  time.Time
		want bool
	}{
		{"valid", body, ts, sig, now, true},
		{"tampered body", []byte(`{"type":"member_added"}`), ts, sig, now, false},
		{"wrong signature", body, ts, "AAAA", now, false},
		{"stale", body, ts, sig, now.Add(10 * time.Minute), false},
		{"bad timestamp", body, "soon", sig, now, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := auth.Verify(tt.body, tt.ts, tt.sig, tt.now, 5*time.Minute); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHMACAuth_StringRedacts(t *testing.T) {
	if s := (&HMACAuth{Secret: "whsec_abcdef"}).String(); s != "HMACAuth{secret=whse****}" {
		t.Errorf("String() = %q", s)
	}
}
