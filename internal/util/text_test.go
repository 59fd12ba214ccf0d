package util

import "testing"

func TestSanitizePostgresText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain utf8",
			input: "hello world",
			want:  "hello world",
		},
		{
			name:  "contains null byte",
			input: "hel\x00lo",
			want:  "hello",
		},
		{
			name:  "contains invalid utf8",
			input: string([]byte{'a', 0xff, 'b'}),
			want:  "ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePostgresText(tt.input)
			if got != tt.want {
				t.Fatalf("unexpected sanitized value: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCollapseWhitespace(t *testing.T) {
	got := CollapseWhitespace("  a \t b\r\n\n\n\nc  ")
	if got != "a b\n\nc" {
		t.Fatalf("unexpected collapsed value: %q", got)
	}
}

func TestIsNumeric(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"42", true},
		{"1,200.50", true},
		{"15%", true},
		{"2024-01-31", true},
		{"", false},
		{"Bob", false},
		{"--", false},
		{"A1", false},
	}
	for _, tt := range tests {
		if got := IsNumeric(tt.input); got != tt.want {
			t.Fatalf("IsNumeric(%q): expected %v, got %v", tt.input, tt.want, got)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo", 2); got != "hé" {
		t.Fatalf("expected hé, got %q", got)
	}
	if got := Truncate("hi", 5); got != "hi" {
		t.Fatalf("expected hi, got %q", got)
	}
}
