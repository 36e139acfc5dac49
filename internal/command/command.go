// Package command parses chat commands addressed to the bot.
package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/af-corp/wall-e/internal/types"
)

var (
	// ErrNotCommand means the text is not addressed to the bot at all.
	ErrNotCommand = errors.New("not a bot command")
	// ErrInvalidCommand means the text is addressed to the bot but names no
	// known command.
	ErrInvalidCommand = errors.New("invalid command")
)

// DefaultTemperature applies when no temp flag is given.
const DefaultTemperature = 0.5

// flagKeys are the recognised key:value arguments.
var flagKeys = map[string]bool{
	"path":        true,
	"provider":    true,
	"model":       true,
	"temp":        true,
	"temperature": true,
	"fallback":    true,
}

// IsAddressed reports whether body invokes the bot, i.e. starts with prefix
// followed by whitespace or nothing.
func IsAddressed(body, prefix string) bool {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, prefix) {
		return false
	}
	rest := body[len(prefix):]
	return rest == "" || unicode.IsSpace(rune(rest[0]))
}

// Parse turns a comment body into a Command. Flag tokens on the first line
// become Args in order; every other word, plus any further lines, becomes
// Extra.
func Parse(body, prefix string) (types.Command, error) {
	if !IsAddressed(body, prefix) {
		return types.Command{}, ErrNotCommand
	}
	rest := strings.TrimSpace(body)[len(prefix):]
	first, more, _ := strings.Cut(rest, "\n")

	fields := strings.Fields(first)
	if len(fields) == 0 {
		return types.Command{}, fmt.Errorf("%w: missing command name", ErrInvalidCommand)
	}
	name := types.CommandName(strings.ToLower(strings.TrimPrefix(fields[0], "/")))
	if !name.Valid() {
		return types.Command{}, fmt.Errorf("%w: %q", ErrInvalidCommand, name)
	}

	args := []string{}
	var words []string
	for _, f := range fields[1:] {
		if isFlag(f) {
			args = append(args, f)
			continue
		}
		words = append(words, f)
	}
	extra := strings.Join(words, " ")
	if more = strings.TrimSpace(more); more != "" {
		if extra != "" {
			extra += "\n"
		}
		extra += more
	}

	return types.Command{Name: name, Args: args, Extra: extra}, nil
}

func isFlag(tok string) bool {
	key, value, ok := strings.Cut(tok, ":")
	return ok && value != "" && flagKeys[strings.ToLower(key)]
}

// Options are the execution settings carried by a command's args.
type Options struct {
	BasePath    string
	Provider    string
	Model       string
	Temperature float64
	Fallback    bool
}

// ParseArgs reads key:value args. Unknown keys and empty values are ignored;
// a later flag overrides an earlier one. Provider and model are returned as
// typed and validated by the caller.
func ParseArgs(args []string) Options {
	opts := Options{Temperature: DefaultTemperature, Fallback: true}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, ":")
		if !ok || value == "" {
			continue
		}
		switch strings.ToLower(key) {
		case "path":
			opts.BasePath = strings.Trim(value, "/")
		case "provider":
			opts.Provider = strings.ToLower(value)
		case "model":
			opts.Model = value
		case "temp", "temperature":
			if t, err := strconv.ParseFloat(value, 64); err == nil && !math.IsNaN(t) && !math.IsInf(t, 0) {
				opts.Temperature = t
			}
		case "fallback":
			opts.Fallback = value != "false"
		}
	}
	return opts
}

// EnsurePath joins sub onto base when base is set.
func EnsurePath(base, sub string) string {
	if base == "" {
		return sub
	}
	return base + "/" + sub
}
