package script

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ProcessEngine runs scripts through an external interpreter command, the
// only part of the system that executes untrusted author code. The script
// body is written to a temp file whose path is appended to Command; the
// variable context is sent as JSON on stdin and the mutated context is read
// back as JSON from stdout. The interpreter wrapper is expected to apply
// whatever sandboxing the deployment needs.
type ProcessEngine struct {
	Command []string      // e.g. ["oa-scriptrunner"]
	Timeout time.Duration // per-script wall clock limit, 0 = none
}

func (p *ProcessEngine) Exec(ctx context.Context, name string, src []byte, vars map[string]any) (map[string]any, error) {
	if len(p.Command) == 0 {
		return nil, ErrDisabled
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	tmp, err := os.CreateTemp("", "qscript-*")
	if err != nil {
		return nil, fmt.Errorf("write script %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(src); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write script %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("write script %s: %w", name, err)
	}

	stdin, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("encode script context: %w", err)
	}

	args := append(append([]string{}, p.Command[1:]...), tmp.Name())
	cmd := exec.CommandContext(ctx, p.Command[0], args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run script %s: %w (stderr: %s)",
			name, err, truncate(stderr.String(), 400))
	}

	var out map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("decode script %s output: %w (stdout: %s)",
			name, err, truncate(stdout.String(), 400))
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
