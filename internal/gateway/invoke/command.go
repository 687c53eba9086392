package invoke

import "strings"

// Quote wraps s in single quotes for a POSIX shell. Embedded single quotes
// become '\''. Every value interpolated into an exec command goes through it.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// MessageCommand builds `<cmd> message send --session <channel> <text>`.
func MessageCommand(cmd, channel, text string) string {
	return strings.Join([]string{
		Quote(cmd), "message", "send", "--session", Quote(channel), Quote(text),
	}, " ")
}

// WriteFileCommand builds a command that replaces path with content.
func WriteFileCommand(path, content string) string {
	return "printf '%s' " + Quote(content) + " > " + Quote(path)
}
