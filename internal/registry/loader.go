package registry

import (
	"fmt"
	"os"

	"loramint/internal/common/fsutil"
	"loramint/internal/config"
	"loramint/pkg/types"
)

// catalogFile is the on-disk shape of a catalog document.
type catalogFile struct {
	Models []types.ModelDescriptor `json:"models" yaml:"models" toml:"models"`
}

// LoadFile reads a catalog document (yaml/json/toml by extension) and validates it.
func LoadFile(path string) (*Catalog, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var doc catalogFile
	if err := config.Decode(p, b, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", p, err)
	}
	return New(doc.Models)
}

// Load returns the catalog at path, or the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}
