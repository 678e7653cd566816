package authkit

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig reloads the YAML file at path whenever it changes and applies
// its encryption section to c. Environment overrides are re-applied on each
// reload. It blocks until ctx is done.
//
// The parent directory is watched rather than the file so that editors
// replacing the file by rename are seen.
func WatchConfig(ctx context.Context, path string, c *Client) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := c.reloadEncryption(abs); err != nil {
				c.log.WithError(err).WithField("path", abs).Warn("authkit: config reload failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.WithError(err).Warn("authkit: config watcher error")
		}
	}
}

func (c *Client) reloadEncryption(path string) error {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return err
	}
	return c.SetEncryption(cfg.Encryption.Enabled, cfg.Encryption.PublicKey)
}
