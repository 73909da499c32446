package ffmpeg

import (
	"strings"
)

// Command is a transcoder invocation: the executable plus its argument vector.
type Command struct {
	Binary     string
	Args       []string
	OutputPath string
}

// NewCommand starts a command with the global flags every invocation carries.
func NewCommand(binary, logLevel string) Command {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	logLevel = strings.TrimSpace(logLevel)
	if logLevel == "" {
		logLevel = "error"
	}
	return Command{Binary: binary, Args: []string{"-hide_banner", "-nostdin", "-y", "-loglevel", logLevel}}
}

// Add appends raw arguments.
func (c *Command) Add(args ...string) {
	c.Args = append(c.Args, args...)
}

// Clone returns a copy whose argument slice can be modified independently.
func (c Command) Clone() Command {
	c.Args = append([]string(nil), c.Args...)
	return c
}

// Index returns the position of the first argument equal to flag, or -1.
func (c Command) Index(flag string) int {
	for i, arg := range c.Args {
		if arg == flag {
			return i
		}
	}
	return -1
}

// Value returns the argument that follows the first occurrence of flag.
func (c Command) Value(flag string) (string, bool) {
	idx := c.Index(flag)
	if idx < 0 || idx+1 >= len(c.Args) {
		return "", false
	}
	return c.Args[idx+1], true
}

// String renders the command as a shell-safe line for logs and error reports.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, shellQuote(c.Binary))
	for _, arg := range c.Args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.ContainsAny(value, " \t\n'\"\\$`;|&<>()[]{}*?!#~=") {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
