// Package bash exposes a shell to the model. Working directory and
// environment persist across invocations within one session, so the model
// can cd somewhere and keep working there.
package bash

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	defaultTimeout = 30 * time.Second

	pwdSentinel  = "___PWD___"
	exitSentinel = "___EXIT_CODE___"

	stdoutLimit = 50000
	stderrLimit = 10000
)

// Commands that would damage the host even in a sandboxed workspace.
var dangerousPatterns = []string{
	"rm -rf /",
	"dd if=/dev/zero",
	":(){ :|:& };:",
	"mkfs.",
	"format ",
}

// Tool runs shell commands with a persistent session.
type Tool struct {
	timeout time.Duration

	mu         sync.Mutex
	workingDir string
	env        []string
}

func New(timeout time.Duration) *Tool {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	t := &Tool{timeout: timeout}
	t.reset()
	return t
}

func (t *Tool) reset() {
	wd, err := os.Getwd()
	if err != nil {
		wd = "/"
	}
	t.workingDir = wd
	t.env = os.Environ()
}

func (t *Tool) Name() string { return "bash" }

func (t *Tool) Description() string {
	return "Execute a bash command. The working directory and environment persist between commands. Set restart=true to reset the session."
}

func (t *Tool) ParameterSchema() string {
	return `{
  "type": "object",
  "properties": {
    "command": { "type": "string", "description": "The bash command to execute." },
    "restart": { "type": "boolean", "description": "Restart the session before executing (resets working directory and environment)." }
  },
  "required": ["command"]
}`
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (string, error) {
	command, _ := params["command"].(string)
	restart, _ := params["restart"].(bool)

	t.mu.Lock()
	defer t.mu.Unlock()

	if restart {
		t.reset()
	}
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("missing command")
	}
	if isDangerous(command) {
		return "Error: command blocked for security reasons", nil
	}

	// The sentinels let us recover the working directory and the real
	// exit code of the user command from a single stdout stream.
	script := strings.Join([]string{
		"cd " + shellQuote(t.workingDir),
		command,
		"LAST_EXIT_CODE=$?",
		"echo " + pwdSentinel,
		"pwd",
		"echo " + exitSentinel,
		"echo $LAST_EXIT_CODE",
	}, "\n")

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", script)
	cmd.Env = t.env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Kill the whole group so pipelines die with the shell.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return fmt.Sprintf("Error: command timed out after %s", t.timeout), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	output, newDir, exitCode := parseOutput(stdout.String())
	if newDir != "" {
		if info, err := os.Stat(newDir); err == nil && info.IsDir() {
			t.workingDir = newDir
		}
	}
	if exitCode == -1 {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if runErr == nil {
			exitCode = 0
		}
	}

	return formatResult(output, stderr.String(), exitCode), nil
}

func parseOutput(raw string) (output, pwd string, exitCode int) {
	exitCode = -1
	lines := strings.Split(raw, "\n")
	var kept []string
	for i := 0; i < len(lines); i++ {
		switch lines[i] {
		case pwdSentinel:
			if i+1 < len(lines) {
				pwd = lines[i+1]
				i++
			}
		case exitSentinel:
			if i+1 < len(lines) {
				if code, err := strconv.Atoi(strings.TrimSpace(lines[i+1])); err == nil {
					exitCode = code
				}
				i++
			}
		default:
			kept = append(kept, lines[i])
		}
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n"), pwd, exitCode
}

func formatResult(stdout, stderr string, exitCode int) string {
	if len(stdout) > stdoutLimit {
		stdout = stdout[:stdoutLimit] + "\n... (output truncated)"
	}
	if len(stderr) > stderrLimit {
		stderr = stderr[:stderrLimit] + "\n... (error output truncated)"
	}

	var parts []string
	if stdout != "" {
		parts = append(parts, stdout)
	}
	if strings.TrimSpace(stderr) != "" {
		parts = append(parts, "stderr:\n"+strings.TrimRight(stderr, "\n"))
	}
	if exitCode != 0 {
		parts = append(parts, fmt.Sprintf("Error: exit code %d", exitCode))
	}
	if len(parts) == 0 {
		return "(no output)"
	}
	return strings.Join(parts, "\n")
}

func isDangerous(command string) bool {
	lowered := strings.ToLower(strings.TrimSpace(command))
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lowered, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
