package migrator

import (
	"fmt"
	"os"
	"strings"
)

const migrationsTable = "reminder_schema_migrations"

func normalizePath(path string) string {
	if strings.HasPrefix(path, "file://") {
		return path
	}
	return fmt.Sprintf("file://%s", path)
}

func checkDir(path string) error {
	dir := strings.TrimPrefix(path, "file://")
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot access migrations path %q: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("migrations path %q is not a directory", dir)
	}
	return nil
}
