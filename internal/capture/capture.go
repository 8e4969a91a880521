// Package capture prepares completed commands for the entry store.
package capture

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/logtrains/internal/entry"
)

// IsTrivial reports whether command is not worth recording: its program
// name (after leading VAR=value assignments and sudo/env/command
// wrappers) is in ignored, or the command is blank.
func IsTrivial(command string, ignored []string) bool {
	prog := Program(command)
	if prog == "" {
		return true
	}
	for _, ig := range ignored {
		if prog == ig {
			return true
		}
	}
	return false
}

// Program returns the base name of the program command runs.
func Program(command string) string {
	for _, field := range strings.Fields(command) {
		if isAssignment(field) {
			continue
		}
		switch field {
		case "sudo", "env", "command", "builtin", "exec", "time", "nohup":
			continue
		}
		return filepath.Base(field)
	}
	return ""
}

func isAssignment(field string) bool {
	i := strings.IndexByte(field, '=')
	if i <= 0 {
		return false
	}
	for _, r := range field[:i] {
		if !(r == '_' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// Build assembles an entry for a finished command. A non-zero exit status
// is appended to the body so it reaches the model with the output. Invalid
// UTF-8 in the captured output is replaced with U+FFFD.
func Build(command string, body string, exitCode *int, now time.Time) entry.Entry {
	body = strings.ToValidUTF8(body, "�")
	if exitCode != nil && *exitCode != 0 {
		if body != "" && !strings.HasSuffix(body, "\n") {
			body += "\n"
		}
		body += entry.ExitTrailer(*exitCode)
	}

	e := entry.Entry{
		CapturedAt: now.UTC(),
		ExitCode:   exitCode,
		Body:       body,
		ByteLength: len(body),
	}
	if c := strings.TrimSpace(command); c != "" {
		e.Command = &c
	}
	return e
}
