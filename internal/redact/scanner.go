// Package redact removes credentials from text and request headers before
// they are logged or posted to a conversation.
package redact

import (
	"strings"
)

// Placeholder replaces every redacted value.
const Placeholder = "[REDACTED]"

// Detection represents a detected secret in text.
type Detection struct {
	PatternName string
	Start       int
	End         int
}

// Scanner scans text for secrets using pre-compiled regex patterns.
type Scanner struct {
	patterns []Pattern
}

// NewScanner creates a scanner with the default secret patterns.
func NewScanner() *Scanner {
	return &Scanner{patterns: DefaultPatterns()}
}

// Scan checks a single text string for secrets and returns all detections.
func (s *Scanner) Scan(text string) []Detection {
	var detections []Detection
	for _, p := range s.patterns {
		locs := p.Regex.FindAllStringIndex(text, -1)
		for _, loc := range locs {
			detections = append(detections, Detection{
				PatternName: p.Name,
				Start:       loc[0],
				End:         loc[1],
			})
		}
	}
	return detections
}

// Redact replaces every detected secret in text with Placeholder.
func (s *Scanner) Redact(text string) string {
	for _, p := range s.patterns {
		text = p.Regex.ReplaceAllString(text, Placeholder)
	}
	return text
}

var sensitiveHeaders = map[string]bool{
	"authorization":        true,
	"x-api-key":            true,
	"x-goog-api-key":       true,
	"cf-aig-authorization": true,
	"api-key":              true,
}

// Headers returns a copy of h with credential-bearing values replaced.
func (s *Scanner) Headers(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if sensitiveHeaders[strings.ToLower(k)] {
			out[k] = Placeholder
			continue
		}
		out[k] = s.Redact(v)
	}
	return out
}

var defaultScanner = NewScanner()

// String redacts text with the default patterns.
func String(text string) string {
	return defaultScanner.Redact(text)
}
