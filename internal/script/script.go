// Package script defines the execution boundary for author-supplied marker
// and results scripts. The engine contract is: run the script against a
// variable context and hand back the mutated context. Isolation and
// resource limits belong to the runner behind the contract, not to the
// marking engine.
package script

import (
	"context"
	"errors"
)

// Engine executes a script body against a variable context and returns the
// mutated context. name identifies the script for diagnostics (e.g.
// "__marker.py"). Implementations must treat the context as untrusted
// author code: any failure comes back as an error and callers degrade per
// their own fallback policy.
type Engine interface {
	Exec(ctx context.Context, name string, src []byte, vars map[string]any) (map[string]any, error)
}

// ErrDisabled is returned by the Disabled engine.
var ErrDisabled = errors.New("script execution disabled")

// Disabled is an Engine that refuses to run anything. With it installed,
// script-marked templates fall back to the standard marker and the standard
// results table.
type Disabled struct{}

func (Disabled) Exec(context.Context, string, []byte, map[string]any) (map[string]any, error) {
	return nil, ErrDisabled
}
