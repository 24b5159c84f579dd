package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/formulary/internal/formula"
	"github.com/zjrosen/formulary/internal/log"
)

// descriptorFile is the on-disk layout shared by YAML and TOML descriptor files.
type descriptorFile struct {
	Formulas []formula.Descriptor `yaml:"formulas" toml:"formulas"`
}

// LoadDescriptorFile parses one .yaml, .yml or .toml descriptor file.
func LoadDescriptorFile(path string) ([]formula.Descriptor, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var file descriptorFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".toml":
		_, err = toml.Decode(string(data), &file)
	default:
		return nil, fmt.Errorf("%w: unsupported descriptor file %s", formula.ErrConfig, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", formula.ErrConfig, path, err)
	}

	for _, d := range file.Formulas {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return file.Formulas, nil
}

// LoadDescriptorDir reads every descriptor file directly under dir in name
// order. A missing directory yields nothing. Invalid files are logged and
// skipped so one bad file does not hide the rest.
func LoadDescriptorDir(dir string) ([]formula.Descriptor, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading descriptor dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".toml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []formula.Descriptor
	for _, name := range names {
		descs, err := LoadDescriptorFile(filepath.Join(dir, name))
		if err != nil {
			log.Warn(log.CatConfig, "Skipping descriptor file", "file", name, "error", err.Error())
			continue
		}
		out = append(out, descs...)
	}
	return out, nil
}

// Install applies descriptors to r. Known names keep their executor and get the
// new descriptor; unknown names are defined without an executor. It returns the
// number of descriptors applied.
func (r *Registry) Install(descs []formula.Descriptor) (int, error) {
	var errs []error
	applied := 0
	for _, d := range descs {
		var err error
		if _, ok := r.Get(d.Name); ok {
			err = r.Update(d)
		} else {
			err = r.Define(d)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}
