package main

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"group-ledger/ledger"
)

const displayLayout = "2006-01-02 15:04:05"

var displayLoc = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.Local
	}
	return loc
}()

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(displayLoc).Format(displayLayout)
}

// truncate cuts s to n runes, adding an ellipsis when it had to cut.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printEntry(w io.Writer, e *ledger.LatestEntry) {
	fmt.Fprintf(w, "Group:            %s\n", e.EntityID)
	fmt.Fprintf(w, "Version:          %d\n", e.Version)
	fmt.Fprintf(w, "Seen:             %d times\n", e.SeenCount)
	fmt.Fprintf(w, "First seen:       %s\n", formatTime(e.FirstSeenAt))
	fmt.Fprintf(w, "Last seen:        %s\n", formatTime(e.LastSeenAt))
	fmt.Fprintf(w, "Content changed:  %s\n", formatTime(e.LastContentChangedAt))
	fmt.Fprintf(w, "Group type:       %s\n", orDash(string(e.Classification.GroupType)))
	fmt.Fprintf(w, "Worldview:        %s\n", orDash(string(e.Classification.Worldview)))
	fmt.Fprintf(w, "Sexual content:   %s\n", yesNo(e.Classification.HasSexualContent))
	fmt.Fprintf(w, "No audit/setting: %s\n", yesNo(e.Classification.NoAuditSetting))
	fmt.Fprintf(w, "Tags:             %s\n", orDash(strings.Join(e.Tags, ", ")))
	fmt.Fprintf(w, "Source:           %s\n", orDash(e.SourceLabel))
	fmt.Fprintf(w, "Content:\n%s\n", e.Content)
}

func printEntryLine(w io.Writer, e ledger.LatestEntry) {
	fmt.Fprintf(w, "%-12s  v%-3d  seen %-4d  %s  %s\n",
		e.EntityID, e.Version, e.SeenCount, formatTime(e.LastSeenAt), truncate(e.Content, 50))
}

func printHistoryLine(w io.Writer, h ledger.HistoryEntry) {
	fmt.Fprintf(w, "v%-3d  %s  %s\n", h.Version, formatTime(h.RecordedAt), truncate(h.Content, 60))
}
