package orderid

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"
)

var idPattern = regexp.MustCompile(`^SAR-\d{8}-[0-9A-Z]{6}$`)

func TestNew_Format(t *testing.T) {
	id := New()
	if !idPattern.MatchString(id) {
		t.Fatalf("unexpected id format %q", id)
	}
}

func TestNext_UsesUTCDate(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	// 2026-03-01 02:00 IST is still 2026-02-28 in UTC.
	g := Generator{
		Now:    func() time.Time { return time.Date(2026, 3, 1, 2, 0, 0, 0, loc) },
		Random: bytes.NewReader(bytes.Repeat([]byte{0}, 64)),
	}
	id, err := g.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !strings.HasPrefix(id, "SAR-20260228-") {
		t.Fatalf("id %q does not carry the UTC date", id)
	}
	if !idPattern.MatchString(id) {
		t.Fatalf("unexpected id format %q", id)
	}
}

func TestNext_SortsByDate(t *testing.T) {
	day := time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC)
	earlier := Generator{Now: func() time.Time { return day }}
	later := Generator{Now: func() time.Time { return day.Add(24 * time.Hour) }}
	a, err := earlier.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	b, err := later.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !(a < b) {
		t.Fatalf("expected %q < %q", a, b)
	}
}

func TestNext_RandomSourceError(t *testing.T) {
	g := Generator{Random: bytes.NewReader(nil)}
	if _, err := g.Next(); err == nil {
		t.Fatalf("expected error from exhausted random source")
	}
}
