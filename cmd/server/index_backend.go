package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxelshare.dev/internal/persistence/indexdb"
)

// openRuntimeIndex opens the mutation read-model selected by VS_INDEX_BACKEND
// (sqlite by default). It returns nil when indexing is off.
func openRuntimeIndex(worldDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VS_INDEX_BACKEND")))
	switch backend {
	case "", "sqlite":
		return indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
	case "none", "off", "disabled":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported VS_INDEX_BACKEND: %s", backend)
	}
}
