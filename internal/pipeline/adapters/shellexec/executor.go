// Package shellexec runs task scripts through sh -c, the way the CD agent
// would. The provided variables are appended to the process environment so
// PATH and friends stay available to the script.
package shellexec

import (
	"bytes"
	"context"
	"os"
	"os/exec"
)

// Executor implements app.Executor with a local shell.
type Executor struct {
	// Shell overrides the interpreter, defaulting to sh.
	Shell string
}

// New creates a shell executor.
func New() *Executor {
	return &Executor{Shell: "sh"}
}

// Run executes the script and returns its combined output. The error is the
// command error (typically an *exec.ExitError, or the context error when the
// job timeout killed the script).
func (e *Executor) Run(ctx context.Context, script string, env []string) (string, error) {
	shell := e.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", script)
	cmd.Env = append(os.Environ(), env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return out.String(), err
}
