package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "DATABASE_URL", "ROUTE_SERVICE_URL", "EMAIL_SERVICE_URL", "SMS_SERVICE_URL", "SMS_TOKEN", "NOTIFY_DELAY_MS", "CHURCH_LAT", "ALLOW_ORIGINS", "AUTH_MODE"} {
		t.Setenv(k, "")
	}
	c := Load()
	if c.Addr() != ":8080" {
		t.Fatalf("addr: got %q", c.Addr())
	}
	if c.NotifyDelay != 500*time.Millisecond {
		t.Fatalf("notify delay: got %v", c.NotifyDelay)
	}
	if c.ChurchLat != DefaultChurchLat || c.ChurchLng != DefaultChurchLng {
		t.Fatalf("church point: got %v,%v", c.ChurchLat, c.ChurchLng)
	}
	if len(c.AllowOrigins) != 1 || c.AllowOrigins[0] != "*" {
		t.Fatalf("origins: got %v", c.AllowOrigins)
	}
	if !c.EmailBypassQueue || !c.DBMigrate {
		t.Fatalf("bool defaults not applied: %+v", c)
	}
	missing := c.Missing()
	want := map[string]bool{"DATABASE_URL": true, "ROUTE_SERVICE_URL": true, "EMAIL_SERVICE_URL": true, "SMS_SERVICE_URL": true, "SMS_TOKEN": true}
	if len(missing) != len(want) {
		t.Fatalf("missing: got %v", missing)
	}
	for _, k := range missing {
		if !want[k] {
			t.Fatalf("unexpected missing key %s", k)
		}
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ROUTE_SERVICE_URL", "http://routes.local/")
	t.Setenv("EMAIL_BYPASS_QUEUE", "false")
	t.Setenv("NOTIFY_DELAY_MS", "25")
	t.Setenv("ALLOW_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("AUTH_MODE", "HMAC")
	t.Setenv("AUTH_HMAC_SECRET", "")
	c := Load()
	if c.Addr() != ":9090" {
		t.Fatalf("addr: got %q", c.Addr())
	}
	if c.RouteServiceURL != "http://routes.local" {
		t.Fatalf("trailing slash not trimmed: %q", c.RouteServiceURL)
	}
	if c.EmailBypassQueue {
		t.Fatal("expected bypass queue disabled")
	}
	if c.NotifyDelay != 25*time.Millisecond {
		t.Fatalf("notify delay: got %v", c.NotifyDelay)
	}
	if len(c.AllowOrigins) != 2 || c.AllowOrigins[1] != "https://b.example" {
		t.Fatalf("origins: got %v", c.AllowOrigins)
	}
	found := false
	for _, k := range c.Missing() {
		if k == "AUTH_HMAC_SECRET" {
			found = true
		}
	}
	if !found {
		t.Fatal("hmac mode without secret should be reported")
	}
}
