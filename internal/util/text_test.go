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
	got := CollapseWhitespace("  Item 1.\n\n\tBusiness   overview \r\n")
	if got != "Item 1. Business overview" {
		t.Fatalf("unexpected collapsed value: %q", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		input string
		limit int
		want  string
	}{
		{"abcdef", 3, "abc"},
		{"abc", 10, "abc"},
		{"ünïcode", 3, "ünï"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateRunes(tt.input, tt.limit); got != tt.want {
			t.Fatalf("TruncateRunes(%q, %d) = %q, want %q", tt.input, tt.limit, got, tt.want)
		}
	}
}
