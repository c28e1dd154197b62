package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestCLI_FileBackendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	base := []string{"--backend", "file", "--data-dir", dir}
	with := func(args ...string) []string { return append(append([]string{}, base...), args...) }

	if out := runCLI(t, with("init")...); !strings.Contains(out, "Storage ready") {
		t.Fatalf("unexpected init output %q", out)
	}
	if out := runCLI(t, with("process", "演绎招募", "群号", "123456")...); !strings.Contains(out, "123456: inserted (version 1)") {
		t.Fatalf("unexpected process output %q", out)
	}
	runCLI(t, with("process", "演绎招募 群号 123456 新人欢迎")...)
	if out := runCLI(t, with("process", "没有号码")...); !strings.Contains(out, "No group id found") {
		t.Fatalf("unexpected skip output %q", out)
	}

	out := runCLI(t, with("show", "123456")...)
	for _, want := range []string{"Group:            123456", "Version:          2", "Group type:       演绎群", "Previous versions:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("show output missing %q:\n%s", want, out)
		}
	}
	if out := runCLI(t, with("history", "123456")...); !strings.Contains(out, "v1") {
		t.Fatalf("unexpected history output %q", out)
	}
	if out := runCLI(t, with("search", "新人")...); !strings.Contains(out, "1 result(s)") {
		t.Fatalf("unexpected search output %q", out)
	}
	out = runCLI(t, with("stats")...)
	if !strings.Contains(out, "Groups:          1") || !strings.Contains(out, "History records: 1") {
		t.Fatalf("unexpected stats output %q", out)
	}
	if out := runCLI(t, with("test")...); !strings.Contains(out, "Connection ok") {
		t.Fatalf("unexpected test output %q", out)
	}
	if out := runCLI(t, with("reset", "--force")...); !strings.Contains(out, "All data deleted") {
		t.Fatalf("unexpected reset output %q", out)
	}
	if out := runCLI(t, with("stats")...); !strings.Contains(out, "Groups:          0") {
		t.Fatalf("reset did not clear data: %q", out)
	}
}

func TestConfirmed(t *testing.T) {
	cases := map[string]bool{
		"yes\n":   true,
		" YES \n": true,
		"yes":     true,
		"y\n":     false,
		"":        false,
		"no\n":    false,
	}
	for in, want := range cases {
		if got := confirmed(strings.NewReader(in)); got != want {
			t.Fatalf("confirmed(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatting(t *testing.T) {
	if got := formatTime(time.Time{}); got != "-" {
		t.Fatalf("zero time should render as -, got %q", got)
	}
	ts := time.Date(2025, 6, 1, 4, 0, 0, 0, time.UTC)
	if displayLoc.String() == "Asia/Shanghai" {
		if got := formatTime(ts); got != "2025-06-01 12:00:00" {
			t.Fatalf("unexpected local time %q", got)
		}
	}
	if got := truncate("一二三四五六", 3); got != "一二三..." {
		t.Fatalf("unexpected truncate %q", got)
	}
	if got := truncate("a\nb", 10); got != "a b" {
		t.Fatalf("unexpected truncate %q", got)
	}
}
