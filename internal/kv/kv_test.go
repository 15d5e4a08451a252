package kv

import "testing"

func TestSanitizeForLogStripsControlCharacters(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "login failed", "login failed"},
		{"newline injection", "login failed\nfake log line", "login failedfake log line"},
		{"carriage return and tab", "a\r\nb\tc", "abc"},
		{"del character", "a\x7fb", "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeForLog(tt.in); got != tt.want {
				t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeForLogCapsLength(t *testing.T) {
	raw := ""
	for i := 0; i < 100; i++ {
		raw += "a"
	}
	got := SanitizeForLog(raw)
	if len(got) != 64 {
		t.Errorf("expected result capped at 64 characters, got %d", len(got))
	}
}
