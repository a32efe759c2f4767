// Package sanitize cleans invocation arguments received from remote clients
// before they reach a bean.
package sanitize

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// DefaultMaxStringSize is 4KB (conservative default)
	DefaultMaxStringSize = 4096
	// EnvMaxStringSize is the environment variable to override the default
	EnvMaxStringSize = "STATEFUL_MAX_ARG_SIZE"
	// MaxDepth bounds the nesting of decoded arguments.
	MaxDepth = 32
)

var (
	ErrTooLarge    = errors.New("argument exceeds maximum allowed size")
	ErrInvalidUTF8 = errors.New("argument contains invalid UTF-8 sequences")
	ErrTooDeep     = errors.New("argument nesting exceeds maximum depth")
)

// String enforces the size limit, validates UTF-8, and strips control
// characters other than newline, tab and carriage return.
func String(input string) (string, error) {
	limit := maxStringSize()
	if len(input) > limit {
		// Never truncated.
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrTooLarge, len(input), limit)
	}
	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}

	// Fast path: if no control chars, return as is.
	clean := true
	for _, r := range input {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return input, nil
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

// Args sanitizes every string in JSON-decoded arguments, including map keys
// and nested values. The slice is updated in place.
func Args(args []any) error {
	for i, a := range args {
		clean, err := value(a, 0)
		if err != nil {
			return fmt.Errorf("args[%d]: %w", i, err)
		}
		args[i] = clean
	}
	return nil
}

func value(v any, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, ErrTooDeep
	}
	switch t := v.(type) {
	case string:
		return String(t)
	case []any:
		for i, item := range t {
			clean, err := value(item, depth+1)
			if err != nil {
				return nil, err
			}
			t[i] = clean
		}
		return t, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			key, err := String(k)
			if err != nil {
				return nil, err
			}
			clean, err := value(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[key] = clean
		}
		return out, nil
	default:
		return v, nil
	}
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}

func maxStringSize() int {
	if val := os.Getenv(EnvMaxStringSize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			return size
		}
	}
	return DefaultMaxStringSize
}
