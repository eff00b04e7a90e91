package control

import (
	"context"
	"os"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Session is an open, authenticated connection to one instance.
type Session interface {
	// Run executes a command to completion. A non-zero exit status is
	// reported in the Result, not as an error.
	Run(ctx context.Context, cmd Command) (*Result, error)

	// WriteFile places content at a path on the remote host.
	WriteFile(remotePath string, data []byte, mode os.FileMode) error

	// Host returns the address the session is connected to.
	Host() string

	// Close closes the connection. Any later Run fails.
	Close() error
}

// Command is one remote shell command.
type Command struct {
	// Name is a short label used in logs and errors. Line is used when empty.
	Name string
	Line string

	// Stdin is written to the remote process. It is never logged.
	Stdin string

	// Critical marks commands whose failure should stop a deployment.
	// Run and RunAll ignore it; it is for callers inspecting results.
	Critical bool
}

// Label returns the name used to identify the command in logs and errors.
func (c Command) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Line
}

// Result is the captured outcome of one command.
type Result struct {
	Command    string
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Success reports whether the command exited with status zero.
func (r *Result) Success() bool {
	return r.ExitStatus == 0
}

// Config defines configuration for opening a session
type Config struct {
	Host            string
	Port            int // 22 when zero
	User            string
	Signer          ssh.Signer
	HostKeyCallback ssh.HostKeyCallback
	DialTimeout     time.Duration
	InstanceName    string
}

var safeShellWord = regexp.MustCompile(`^[A-Za-z0-9_./:@%+=,-]+$`)

// Quote returns s as a single shell word, quoting it only when needed.
func Quote(s string) string {
	if safeShellWord.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
