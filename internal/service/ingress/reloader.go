package ingress

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Reloader signals the external proxy process to pick up a swapped config.
type Reloader interface {
	Reload(ctx context.Context) error
	Close() error
}

// Validator checks a candidate config file before it is promoted.
type Validator interface {
	Validate(ctx context.Context, configPath string) error
}

// binaryValidator runs the proxy binary's config-test subcommand; a non-zero
// exit means the candidate must not be promoted.
type binaryValidator struct {
	binary string
}

func newBinaryValidator(binary string) binaryValidator {
	return binaryValidator{binary: binary}
}

func (v binaryValidator) Validate(ctx context.Context, configPath string) error {
	cmd := exec.CommandContext(ctx, v.binary, "-t", "-c", configPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("config test failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// commandReloader shells out to the configured reload command.
type commandReloader struct {
	command []string
}

func newCommandReloader(command string) (*commandReloader, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("reload command required")
	}
	return &commandReloader{command: fields}, nil
}

func (r *commandReloader) Reload(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("reload failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

func (r *commandReloader) Close() error { return nil }
