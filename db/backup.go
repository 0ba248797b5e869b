package db

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/log"
)

// StartBackup copies the SQLite database file on the configured interval
// until ctx is cancelled. Other dialects manage their own backups.
func StartBackup(ctx context.Context) {
	if !conf.Server.Database.BackupEnabled || conf.Server.Database.Driver != "sqlite3" {
		return
	}
	path := databaseFile()
	if path == "" {
		log.Warn(ctx, "Backups enabled but the database is not file-backed")
		return
	}
	interval := conf.Server.Database.BackupInterval
	if interval <= 0 {
		interval = 600 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := copyFile(path, path+".backup"); err != nil {
					log.Error(ctx, "Database backup failed", err, "path", path)
				} else {
					log.Debug(ctx, "Database backup written", "path", path+".backup")
				}
			}
		}
	}()
}

func databaseFile() string {
	path := conf.Server.Database.Path
	path = strings.TrimPrefix(path, "file:")
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return ""
	}
	return path
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("flushing backup: %w", err)
	}
	return os.Rename(tmp, dst)
}
