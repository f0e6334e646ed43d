package tiling

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	// TileExt is the file extension for raw tile documents.
	TileExt = ".osm"
	// RepairedSuffix marks a sibling artifact produced by the geometry
	// repair pass. Repaired artifacts never count toward tile-set
	// completeness.
	RepairedSuffix = "_fixed.osm"
)

// TileFileName returns the on-disk name for a tile of a place.
func TileFileName(placeID int64, index int) string {
	return fmt.Sprintf("%d_tile_%d%s", placeID, index, TileExt)
}

// RepairedPath returns the sibling path of the repaired artifact for a
// tile file.
func RepairedPath(tilePath string) string {
	return strings.TrimSuffix(tilePath, TileExt) + RepairedSuffix
}

// TileIndex extracts the tile index from a tile file name.
func TileIndex(name string) (int, error) {
	base := strings.TrimSuffix(filepath.Base(name), RepairedSuffix)
	base = strings.TrimSuffix(base, TileExt)

	pos := strings.LastIndex(base, "_tile_")
	if pos < 0 {
		return 0, fmt.Errorf("not a tile file name: %s", name)
	}

	index, err := strconv.Atoi(base[pos+len("_tile_"):])
	if err != nil {
		return 0, fmt.Errorf("invalid tile index in %s: %w", name, err)
	}
	return index, nil
}

// ListTileFiles lists the raw tile documents in a directory, excluding
// hidden entries and repaired artifacts, sorted by ascending tile index.
func ListTileFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if strings.HasSuffix(name, RepairedSuffix) || !strings.HasSuffix(name, TileExt) {
			continue
		}
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool {
		a, errA := TileIndex(names[i])
		b, errB := TileIndex(names[j])
		if errA != nil || errB != nil {
			return names[i] < names[j]
		}
		return a < b
	})

	return names, nil
}

// TilesAlreadyPresent reports whether the directory already holds a
// complete tile set of the expected size. An absent directory counts as
// incomplete. Used to make acquisition idempotent: an incomplete set
// triggers a re-fetch of the entire set.
func TilesAlreadyPresent(dir string, expected int) (bool, error) {
	names, err := ListTileFiles(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return len(names) == expected, nil
}

// WriteTileFile atomically writes a tile document into dir.
func WriteTileFile(dir, name string, data []byte) error {
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write tile file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename tile file: %w", err)
	}
	return nil
}
