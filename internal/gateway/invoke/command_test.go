package invoke

import (
	"strings"
	"testing"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"openai/gpt-4o", `'openai/gpt-4o'`},
		{"", `''`},
		{"it's", `'it'\''s'`},
		{"x; rm -rf /", `'x; rm -rf /'`},
		{"$(id)", `'$(id)'`},
	}
	for _, tc := range tests {
		if got := Quote(tc.in); got != tc.want {
			t.Fatalf("Quote(%q) = %s; want %s", tc.in, got, tc.want)
		}
	}
}

func TestMessageCommand(t *testing.T) {
	got := MessageCommand("openclaw", "main", "/model evil'; reboot; '")
	want := `'openclaw' message send --session 'main' '/model evil'\''; reboot; '\'''`
	if got != want {
		t.Fatalf("MessageCommand = %s; want %s", got, want)
	}
}

func TestWriteFileCommand(t *testing.T) {
	got := WriteFileCommand("HEARTBEAT.md", "# Heartbeat\n")
	if !strings.HasPrefix(got, "printf '%s' '# Heartbeat\n'") || !strings.HasSuffix(got, " > 'HEARTBEAT.md'") {
		t.Fatalf("WriteFileCommand = %q", got)
	}
}

func TestScrubSecretPatterns(t *testing.T) {
	in := `{"error":"bad key sk-abc123xyz and slack xoxb-foo-bar, header Bearer abc.def"}`
	out := scrubSecretPatterns(in)
	for _, leak := range []string{"sk-abc123xyz", "xoxb-foo-bar", "abc.def"} {
		if strings.Contains(out, leak) {
			t.Fatalf("%q not redacted: %s", leak, out)
		}
	}
	if !strings.Contains(out, "Bearer [REDACTED]") {
		t.Fatalf("bearer scheme lost: %s", out)
	}
}

func TestSanitizeAPIErrorTruncates(t *testing.T) {
	out := sanitizeAPIError(strings.Repeat("é", maxAPIErrorChars+20))
	if !strings.HasSuffix(out, "...") || len([]rune(out)) != maxAPIErrorChars+3 {
		t.Fatalf("unexpected truncation: %d runes", len([]rune(out)))
	}
}
