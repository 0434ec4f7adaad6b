package domain

import (
	"testing"
	"time"
)

func TestCredentialEmpty(t *testing.T) {
	if !(Credential{}).Empty() {
		t.Fatal("zero credential should be empty")
	}
	if !(Credential{SessionCookie: "   "}).Empty() {
		t.Fatal("whitespace cookie should be empty")
	}
	if (Credential{SessionCookie: "sso_ticket=x"}).Empty() {
		t.Fatal("populated cookie should not be empty")
	}
}

func TestCredentialStale(t *testing.T) {
	now := time.Now()
	fresh := Credential{SessionCookie: "sso_ticket=x", RefreshedAt: now.Add(-30 * time.Minute)}
	if fresh.Stale(now, time.Hour) {
		t.Fatal("30-minute-old credential should not be stale at a 1h interval")
	}
	old := Credential{SessionCookie: "sso_ticket=x", RefreshedAt: now.Add(-2 * time.Hour)}
	if !old.Stale(now, time.Hour) {
		t.Fatal("2-hour-old credential should be stale")
	}
	if (Credential{}).Stale(now, time.Hour) {
		t.Fatal("empty credential is never stale, it is login-required")
	}
}

func TestXSRFToken(t *testing.T) {
	cases := []struct {
		cookie string
		want   string
	}{
		{"sso_ticket=x; XSRF-TOKEN=anti; region=cn", "anti"},
		{"XSRF-TOKEN=only", "only"},
		{"sso_ticket=x", ""},
		{"", ""},
	}
	for _, tc := range cases {
		cred := Credential{SessionCookie: tc.cookie}
		if got := cred.XSRFToken(); got != tc.want {
			t.Errorf("XSRFToken(%q) = %q, want %q", tc.cookie, got, tc.want)
		}
	}
}

func TestMergeCookie(t *testing.T) {
	merged := MergeCookie("sso_ticket=x; region=cn", map[string]string{
		"region":     "us",
		"session_id": "abc",
	})
	if merged != "sso_ticket=x; region=us; session_id=abc" {
		t.Fatalf("merged = %q", merged)
	}
}

func TestMergeCookieIntoEmpty(t *testing.T) {
	merged := MergeCookie("", map[string]string{"b": "2", "a": "1"})
	if merged != "a=1; b=2" {
		t.Fatalf("merged = %q", merged)
	}
}

func TestMergeCookieNoPairs(t *testing.T) {
	if got := MergeCookie("sso_ticket=x", nil); got != "sso_ticket=x" {
		t.Fatalf("merged = %q", got)
	}
}
