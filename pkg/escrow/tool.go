// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package escrow

import (
	"encoding/json"
	"fmt"
	"os/exec"
)

// Config is the opaque per-pin escrow configuration (spec.md §4.5: "an
// opaque (pin, JSON config) pair").
type Config map[string]interface{}

// InterpretConfig normalizes config in place for the given pin and mines
// an allow-overwrite flag out of it. The only field this mediator itself
// understands is "allow_overwrite"; everything else is pin-specific and
// passed through untouched to the external tool.
func InterpretConfig(pin string, config Config) (allowOverwrite bool, err error) {
	if config == nil {
		return false, nil
	}
	if v, ok := config["allow_overwrite"]; ok {
		b, ok := v.(bool)
		if !ok {
			return false, fmt.Errorf("escrow: allow_overwrite must be a boolean, got %T", v)
		}
		allowOverwrite = b
		delete(config, "allow_overwrite")
	}
	return allowOverwrite, nil
}

// Tool is the external escrow-tool collaborator (spec.md §6): invoked with
// (pin, config-json, key-material-file-path, allow-overwrite-flag), exit
// code 0 on success. ExternalTool is the real os/exec-backed implementation;
// tests substitute a fake.
type Tool interface {
	Bind(pin string, configJSON []byte, keyMaterialPath string, allowOverwrite bool) error
	Unbind(pin string, configJSON []byte, keyMaterialPath string) error
}

// ExternalTool shells out to separate bind/unbind binaries, following the
// teacher's convention of keeping external-process invocation at the edge
// of the package rather than threading *exec.Cmd through call sites.
type ExternalTool struct {
	BindPath   string
	UnbindPath string
}

// DefaultExternalTool invokes the "clevis"-family bind/unbind helpers on
// $PATH, matching the external tool spec.md's contract is modeled on.
var DefaultExternalTool = ExternalTool{BindPath: "clevis-luks-bind", UnbindPath: "clevis-luks-unbind"}

func (t ExternalTool) Bind(pin string, configJSON []byte, keyMaterialPath string, allowOverwrite bool) error {
	args := []string{pin, string(configJSON), keyMaterialPath}
	if allowOverwrite {
		args = append(args, "--yes")
	}
	cmd := exec.Command(t.BindPath, args...) // #nosec G204 -- args are internally constructed, not user input
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("escrow: bind tool failed: %w: %s", err, out)
	}
	return nil
}

func (t ExternalTool) Unbind(pin string, configJSON []byte, keyMaterialPath string) error {
	cmd := exec.Command(t.UnbindPath, pin, string(configJSON), keyMaterialPath) // #nosec G204
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("escrow: unbind tool failed: %w: %s", err, out)
	}
	return nil
}

// MarshalConfig is a small convenience used by callers that hold a Config
// map and need the JSON bytes to pass to Tool.
func MarshalConfig(config Config) ([]byte, error) {
	b, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("escrow: marshal config: %w", err)
	}
	return b, nil
}
