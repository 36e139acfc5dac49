package worker

import (
	"testing"
	"time"
)

func TestFormatDebugInfo(t *testing.T) {
	got := FormatDebugInfo([]DebugField{
		{Key: "elapsed", Value: "2.5s"},
		{Key: "error", Value: "unexpected <div> in output"},
	})
	want := "<details>\n<summary>Debug info</summary>\n<ul>" +
		"<li><strong>elapsed</strong>: <code>2.5s</code></li><br>" +
		"<li><strong>error</strong>: <code>unexpected &lt;div&gt; in output</code></li>" +
		"</ul>\n</details>"
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatDebugInfo_Empty(t *testing.T) {
	if got := FormatDebugInfo(nil); got != "<details>\n<summary>Debug info</summary>\n<ul></ul>\n</details>" {
		t.Errorf("unexpected empty block %q", got)
	}
}

func TestElapsed(t *testing.T) {
	start := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{1500 * time.Millisecond, "1.5s"},
		{42*time.Second + 123456*time.Microsecond, "42.123s"},
		{3 * time.Minute, "180s"},
	}
	for _, tt := range tests {
		if got := Elapsed(start, start.Add(tt.d)); got != tt.want {
			t.Errorf("Elapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
