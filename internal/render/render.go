// Package render turns engine views into text for terminal viewers.
package render

import (
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/dgnsrekt/primestream/internal/stream"
)

// Group is a run of consecutive entries rendered together: either values
// sharing a digit count, or a single marker.
type Group struct {
	Marker  bool
	Digits  int
	Entries []stream.Entry
}

// Groups splits entries into digit-count runs. Every marker closes the
// current run and forms a group of its own.
func Groups(entries []stream.Entry) []Group {
	var groups []Group
	var current *Group

	flush := func() {
		if current != nil {
			groups = append(groups, *current)
			current = nil
		}
	}

	for _, e := range entries {
		if e.IsMarker() {
			flush()
			groups = append(groups, Group{Marker: true, Entries: []stream.Entry{e}})
			continue
		}

		digits := len(e.Value().String())
		if current != nil && current.Digits == digits {
			current.Entries = append(current.Entries, e)
			continue
		}
		flush()
		current = &Group{Digits: digits, Entries: []stream.Entry{e}}
	}
	flush()

	return groups
}

// Thousands formats n with comma separators.
func Thousands(n *big.Int) string {
	s := n.String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}

	var sb strings.Builder
	sb.WriteString(sign)
	head := len(s) % 3
	if head > 0 {
		sb.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if sb.Len() > len(sign) {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}

// Status is the one-line live indicator.
func Status(v stream.View) string {
	switch {
	case v.Paused:
		return "OFFLINE - STREAM PAUSED"
	case v.Live:
		return "LIVE - UP TO DATE"
	default:
		return fmt.Sprintf("SYNCING HISTORY (%s PENDING)", Thousands(big.NewInt(int64(v.Backlog))))
	}
}

// Header summarises the engine position and buffer fill.
func Header(v stream.View, capacity int, epoch time.Time) string {
	return fmt.Sprintf("CURRENT PRIME %s | BUFFER %d / %d | GENESIS %s",
		Thousands(v.Cursor), v.BufferLength, capacity, epoch.UTC().Format("Jan 2, 2006 15:04:05"))
}

// WriteGroups prints groups as right-aligned columns, width columns per row.
func WriteGroups(w io.Writer, groups []Group, width int) error {
	if width < 1 {
		width = 1
	}
	for _, g := range groups {
		if g.Marker {
			if err := writeMarker(w, g.Entries[0]); err != nil {
				return err
			}
			continue
		}

		cell := g.Digits + (g.Digits-1)/3
		for i, e := range g.Entries {
			sep := " "
			if (i+1)%width == 0 || i == len(g.Entries)-1 {
				sep = "\n"
			}
			if _, err := fmt.Fprintf(w, "%*s%s", cell, Thousands(e.Value()), sep); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeMarker(w io.Writer, e stream.Entry) error {
	kind, at, _ := e.Marker()
	var text string
	switch kind {
	case stream.MarkerConnectionEstablished:
		text = "CONNECTED TO GLOBAL STREAM"
	case stream.MarkerOffline:
		text = "STREAM OFFLINE"
	default:
		text = strings.ToUpper(kind.String())
	}
	_, err := fmt.Fprintf(w, "---- %s (%s) ----\n", text, at.UTC().Format(time.RFC3339))
	return err
}
