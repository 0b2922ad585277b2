package ingress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"log/slog"

	"github.com/bffless/bffless/pkg/config"
)

// Service materializes rendered configs on disk and drives the proxy reload
// cycle. The final file for a domain is only ever replaced wholesale: the
// candidate is written to a temp path, validated, then renamed over it.
type Service struct {
	configDir string
	validator Validator
	reloader  Reloader
	logger    *slog.Logger
}

// New builds the ingress service from configuration. When a proxy container
// name is set, reloads go through Docker; otherwise the reload command runs
// locally.
func New(cfg config.APIConfig, logger *slog.Logger) (*Service, error) {
	var reloader Reloader
	if cfg.NginxContainerName != "" {
		r, err := newDockerReloader(cfg.NginxContainerName)
		if err != nil {
			return nil, fmt.Errorf("configure docker reloader: %w", err)
		}
		reloader = r
	} else {
		r, err := newCommandReloader(cfg.NginxReloadCommand)
		if err != nil {
			return nil, fmt.Errorf("configure reload command: %w", err)
		}
		reloader = r
	}
	return &Service{
		configDir: cfg.NginxConfigDir,
		validator: newBinaryValidator(cfg.NginxBinary),
		reloader:  reloader,
		logger:    logger,
	}, nil
}

// NewWithParts wires explicit collaborators, used by tests.
func NewWithParts(configDir string, validator Validator, reloader Reloader, logger *slog.Logger) *Service {
	return &Service{configDir: configDir, validator: validator, reloader: reloader, logger: logger}
}

// ConfigPath returns the stable on-disk path for one domain's vhost file, so
// regeneration always replaces rather than accumulates.
func (s *Service) ConfigPath(host string) string {
	return filepath.Join(s.configDir, host+".conf")
}

// Apply writes a candidate config, validates it with the proxy binary and
// atomically promotes it before reloading. The live file is untouched unless
// validation passes.
func (s *Service) Apply(ctx context.Context, host, configText string) error {
	finalPath := s.ConfigPath(host)
	tempPath := finalPath + ".tmp"

	if err := os.WriteFile(tempPath, []byte(configText), 0o644); err != nil {
		return fmt.Errorf("write candidate config for %s: %w", host, err)
	}
	defer os.Remove(tempPath)

	if err := s.validator.Validate(ctx, tempPath); err != nil {
		s.logger.Error("proxy config validation failed", "host", host, "error", err)
		return fmt.Errorf("validate config for %s: %w", host, err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("promote config for %s: %w", host, err)
	}
	if err := s.reloader.Reload(ctx); err != nil {
		s.logger.Error("proxy reload failed", "host", host, "error", err)
		return fmt.Errorf("reload proxy for %s: %w", host, err)
	}
	s.logger.Info("proxy config applied", "host", host, "path", finalPath)
	return nil
}

// Remove deletes a domain's config and reloads; a missing file is not an
// error so removal is idempotent.
func (s *Service) Remove(ctx context.Context, host string) error {
	if err := os.Remove(s.ConfigPath(host)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("remove config for %s: %w", host, err)
	}
	if err := s.reloader.Reload(ctx); err != nil {
		return fmt.Errorf("reload proxy after removing %s: %w", host, err)
	}
	return nil
}

// Close releases reloader resources.
func (s *Service) Close() {
	if s.reloader != nil {
		_ = s.reloader.Close()
	}
}
