package tunnel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nimbusvpn/provision/internal/shared/logger"
)

// FileTunnel writes merged configurations to a directory for an
// external tunnel daemon to pick up. Activation is complete once the
// file is durably in place; deactivation removes it.
type FileTunnel struct {
	dir    string
	logger *logger.Logger
}

// NewFileTunnel creates a file-based tunnel handoff rooted at dir.
func NewFileTunnel(dir string, log *logger.Logger) *FileTunnel {
	if log == nil {
		log = logger.NewDevelopment("tunnel")
	}

	return &FileTunnel{
		dir:    dir,
		logger: log,
	}
}

// Activate writes the configuration atomically with owner-only
// permissions: temp file in the same directory, chmod, then rename.
func (t *FileTunnel) Activate(ctx context.Context, cfg *Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cfg.LocalID == "" {
		return fmt.Errorf("configuration has no local identifier")
	}

	if err := os.MkdirAll(t.dir, 0700); err != nil {
		return fmt.Errorf("failed to create tunnel config directory: %w", err)
	}

	target := t.configPath(cfg.LocalID)
	tmpFile, err := os.CreateTemp(t.dir, "vpncfg-*")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmpFile.WriteString(cfg.Body); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmpFile.Chmod(0600); err != nil {
		return fmt.Errorf("failed to set permissions on config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to move config file into place: %w", err)
	}

	t.logger.Info("configuration handed to tunnel",
		"server", cfg.Server.String(),
		"profile", cfg.ProfileID,
		"path", target)
	return nil
}

// Deactivate removes the configuration file. Removing a configuration
// that is already gone is not an error.
func (t *FileTunnel) Deactivate(ctx context.Context, localID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := t.configPath(localID)
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove config file: %w", err)
	}

	t.logger.Info("configuration removed", "path", target)
	return nil
}

func (t *FileTunnel) configPath(localID string) string {
	return filepath.Join(t.dir, localID+".conf")
}
