package installer

import (
	"bytes"
	"context"
	"os/exec"
)

type execRunner struct{}

// ExecRunner runs commands with os/exec.
var ExecRunner Runner = execRunner{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
