package worker

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DebugField is one line of the collapsible debug block appended to replies.
type DebugField struct {
	Key   string
	Value string
}

var htmlEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")

// FormatDebugInfo renders fields as an HTML details block. Values are
// escaped so prompts and payloads cannot break out of the <code> element.
func FormatDebugInfo(fields []DebugField) string {
	items := make([]string, 0, len(fields))
	for _, f := range fields {
		items = append(items, fmt.Sprintf("<li><strong>%s</strong>: <code>%s</code></li>", f.Key, htmlEscaper.Replace(f.Value)))
	}
	return "<details>\n<summary>Debug info</summary>\n<ul>" + strings.Join(items, "<br>") + "</ul>\n</details>"
}

// Elapsed formats the time since start in seconds with millisecond precision.
func Elapsed(start, now time.Time) string {
	d := now.Sub(start).Round(time.Millisecond)
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}
