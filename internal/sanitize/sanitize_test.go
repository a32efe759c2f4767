package sanitize

import (
	"errors"
	"strings"
	"testing"
)

func TestString_SizeLimit(t *testing.T) {
	// Default Limit is 4096
	limit := 4096

	tests := []struct {
		name      string
		inputSize int
		wantErr   bool
	}{
		{"Under Limit", limit - 1, false},
		{"Exact Limit", limit, false},
		{"Over Limit", limit + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := String(strings.Repeat("a", tt.inputSize))
			if tt.wantErr && !errors.Is(err, ErrTooLarge) {
				t.Errorf("String() expected ErrTooLarge for size %d, got %v", tt.inputSize, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("String() unexpected error: %v", err)
			}
		})
	}
}

func TestString_ControlChars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Normal Text", "Hello World", "Hello World"},
		{"Safe Controls", "Line1\nLine2\tTabbed", "Line1\nLine2\tTabbed"},
		{"ANSI Code", "\x1b[31mRed\x1b[0m", "[31mRed[0m"}, // ESC removed
		{"Null Byte", "Null\x00Byte", "NullByte"},
		{"Bell", "Ding\x07", "Ding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := String(tt.input)
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestString_EnvOverride(t *testing.T) {
	t.Setenv(EnvMaxStringSize, "10")

	if _, err := String("12345678901"); err == nil {
		t.Error("Expected error for input > 10 when env var is set")
	}
	if _, err := String("12345"); err != nil {
		t.Error("Unexpected error for valid input")
	}
}

func TestString_InvalidUTF8(t *testing.T) {
	_, err := String("\xbd\xb2\x3d\xbc\x20\xe2\x8c\x98")
	if err != ErrInvalidUTF8 {
		t.Errorf("Expected ErrInvalidUTF8, got %v", err)
	}
}

func TestArgs(t *testing.T) {
	args := []any{
		"a\x00b",
		float64(3),
		[]any{"c\x07", true},
		map[string]any{"k\x1b": "v\x00"},
		nil,
	}
	if err := Args(args); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if args[0] != "ab" {
		t.Errorf("Expected %q, got %q", "ab", args[0])
	}
	if args[2].([]any)[0] != "c" {
		t.Errorf("Expected nested string to be cleaned, got %q", args[2].([]any)[0])
	}
	if got := args[3].(map[string]any)["k"]; got != "v" {
		t.Errorf("Expected map key and value to be cleaned, got %v", args[3])
	}

	t.Setenv(EnvMaxStringSize, "4")
	err := Args([]any{"ok", []any{"too long"}})
	if !errors.Is(err, ErrTooLarge) || !strings.HasPrefix(err.Error(), "args[1]") {
		t.Errorf("Expected ErrTooLarge at args[1], got %v", err)
	}
}

func TestArgs_Depth(t *testing.T) {
	var v any = "leaf"
	for i := 0; i <= MaxDepth+1; i++ {
		v = []any{v}
	}
	if err := Args([]any{v}); !errors.Is(err, ErrTooDeep) {
		t.Errorf("Expected ErrTooDeep, got %v", err)
	}
}
