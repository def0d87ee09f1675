package debug

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

// withCategories swaps the enabled categories for the duration of a test.
func withCategories(t *testing.T, s string) {
	t.Helper()
	orig := categories.Load()
	setCategories(parseCategories(s))
	t.Cleanup(func() { categories.Store(orig) })
}

// withLogger swaps the default logger for the duration of a test.
func withLogger(t *testing.T, opts Options) *bytes.Buffer {
	t.Helper()
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })
	t.Setenv(EnvCategories, "")
	t.Setenv(EnvLevel, "")

	var buf bytes.Buffer
	opts.Output = &buf
	Setup(opts)
	return &buf
}

func TestParseCategories(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]bool
	}{
		{"empty", "", map[string]bool{}},
		{"single", "router", map[string]bool{"router": true}},
		{"multiple", "router,engine", map[string]bool{"router": true, "engine": true}},
		{"all", "all", map[string]bool{"all": true}},
		{"with spaces", " adapters , transcoder ", map[string]bool{"adapters": true, "transcoder": true}},
		{"uppercase normalized", "BACKEND,Engine", map[string]bool{"backend": true, "engine": true}},
		{"empty segments", "router,,engine", map[string]bool{"router": true, "engine": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCategories(tt.input)
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("got[%q] = %v, want %v", k, got[k], v)
				}
			}
			if len(got) != len(tt.want) {
				t.Errorf("len(got) = %d, want %d", len(got), len(tt.want))
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	withCategories(t, "router,engine")

	if !Enabled("router") || !Enabled("engine") {
		t.Error("router and engine should be enabled")
	}
	if Enabled("backend") {
		t.Error("backend should not be enabled")
	}
	if Enabled("all") {
		t.Error("all should not be enabled (not in categories)")
	}
	if got := strings.Join(Categories(), ","); got != "engine,router" {
		t.Errorf("Categories() = %q", got)
	}
}

func TestEnabled_All(t *testing.T) {
	withCategories(t, "all")

	for _, cat := range []string{"router", "adapters", "anything"} {
		if !Enabled(cat) {
			t.Errorf("%s should be enabled via 'all'", cat)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"TRACE", LevelTrace},
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("this is a long string", 10); got != "this is a ..." {
		t.Errorf("Truncate long = %q", got)
	}
	// "é" is two bytes; cutting at byte 2 would split it.
	if got := Truncate("aé and more", 2); got != "a..." {
		t.Errorf("Truncate multibyte = %q", got)
	}
}

func TestSetup_CategoryAndLevel(t *testing.T) {
	buf := withLogger(t, Options{Categories: "router", Level: "DEBUG"})

	Log("router", "routed", "model", "m1")
	Log("backend", "hidden")
	Trace("router", "too verbose")

	out := buf.String()
	if !strings.Contains(out, "routed") || !strings.Contains(out, "debug=router") {
		t.Errorf("missing router line: %q", out)
	}
	if strings.Contains(out, "hidden") || strings.Contains(out, "too verbose") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestSetup_TraceJSON(t *testing.T) {
	buf := withLogger(t, Options{Categories: "all", Level: "trace", Format: "json"})

	Trace("backend", "raw body", "body", "{}")
	if !TraceIsEnabled("backend") {
		t.Error("trace should be enabled")
	}

	out := buf.String()
	if !strings.Contains(out, `"level":"TRACE"`) || !strings.Contains(out, `"msg":"raw body"`) {
		t.Errorf("output = %q", out)
	}
}

func TestSetup_EnvOverridesConfig(t *testing.T) {
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })
	withCategories(t, "")
	t.Setenv(EnvCategories, "engine")

	var buf bytes.Buffer
	Setup(Options{Categories: "router", Output: &buf})

	if !Enabled("engine") || Enabled("router") {
		t.Errorf("categories = %v", Categories())
	}
}

func TestLog_DisabledCategory(t *testing.T) {
	withCategories(t, "")

	// Should not panic or produce output.
	Log("router", "test message", "key", "value")
	Trace("router", "trace message", "key", "value")
}
