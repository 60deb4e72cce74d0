package render

import (
	"bytes"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/primestream/internal/stream"
)

func values(vs ...int64) []stream.Entry {
	out := make([]stream.Entry, len(vs))
	for i, v := range vs {
		out[i] = stream.ValueEntry(big.NewInt(v))
	}
	return out
}

func TestGroups(t *testing.T) {
	at := time.Unix(0, 0)
	entries := append(values(7, 89, 97, 101), stream.MarkerEntry(stream.MarkerConnectionEstablished, at))
	entries = append(entries, values(103, 1009)...)

	groups := Groups(entries)

	want := []struct {
		marker bool
		digits int
		n      int
	}{
		{false, 1, 1},
		{false, 2, 2},
		{false, 3, 1},
		{true, 0, 1},
		{false, 3, 1},
		{false, 4, 1},
	}
	if len(groups) != len(want) {
		t.Fatalf("expected %d groups, got %d", len(want), len(groups))
	}
	for i, w := range want {
		g := groups[i]
		if g.Marker != w.marker || g.Digits != w.digits || len(g.Entries) != w.n {
			t.Errorf("group %d = {%v %d %d}, want %+v", i, g.Marker, g.Digits, len(g.Entries), w)
		}
	}
}

func TestGroups_Empty(t *testing.T) {
	if groups := Groups(nil); len(groups) != 0 {
		t.Errorf("expected no groups, got %d", len(groups))
	}
}

func TestThousands(t *testing.T) {
	tests := map[int64]string{
		0:          "0",
		7:          "7",
		999:        "999",
		1000:       "1,000",
		65537:      "65,537",
		123456:     "123,456",
		1741922040: "1,741,922,040",
		-1234567:   "-1,234,567",
		-12:        "-12",
	}
	for n, want := range tests {
		if got := Thousands(big.NewInt(n)); got != want {
			t.Errorf("Thousands(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestStatus(t *testing.T) {
	if s := Status(stream.View{Live: true}); s != "LIVE - UP TO DATE" {
		t.Errorf("live status = %q", s)
	}
	if s := Status(stream.View{Backlog: 1234}); s != "SYNCING HISTORY (1,234 PENDING)" {
		t.Errorf("syncing status = %q", s)
	}
	if s := Status(stream.View{Paused: true, Live: true}); !strings.HasPrefix(s, "OFFLINE") {
		t.Errorf("paused status = %q", s)
	}
}

func TestWriteGroups(t *testing.T) {
	at := time.Date(2025, 3, 14, 3, 14, 0, 0, time.UTC)
	entries := append(values(2, 3, 5, 7), stream.MarkerEntry(stream.MarkerConnectionEstablished, at))
	entries = append(entries, values(1009)...)

	var buf bytes.Buffer
	if err := WriteGroups(&buf, Groups(entries), 2); err != nil {
		t.Fatal(err)
	}

	want := "2 3\n5 7\n---- CONNECTED TO GLOBAL STREAM (2025-03-14T03:14:00Z) ----\n1,009\n"
	if buf.String() != want {
		t.Errorf("unexpected output:\n%q\nwant:\n%q", buf.String(), want)
	}
}
