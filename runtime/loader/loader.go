// Package loader reads flow definitions from YAML and JSON files.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	goyaml "gopkg.in/yaml.v3"

	"chatflow/runtime"
)

// YAMLLoader loads flow definitions from YAML files.
type YAMLLoader struct{}

func (YAMLLoader) Extensions() []string {
	return []string{"*.yaml", "*.yml"}
}

func (YAMLLoader) Load(filePath string) (*runtime.Flow, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}

	var flow runtime.Flow
	if err := goyaml.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("error unmarshalling YAML: %w", err)
	}
	return &flow, nil
}

// JSONLoader loads flow definitions exported by the flow editor.
type JSONLoader struct{}

func (JSONLoader) Extensions() []string {
	return []string{"*.json"}
}

func (JSONLoader) Load(filePath string) (*runtime.Flow, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading JSON file: %w", err)
	}

	var flow runtime.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("error unmarshalling JSON: %w", err)
	}
	return &flow, nil
}

// Default returns the loaders for every supported file format.
func Default() []runtime.FlowLoader {
	return []runtime.FlowLoader{YAMLLoader{}, JSONLoader{}}
}

// LoadDir loads every flow file under dir, recursing one level so flows may
// be grouped per tenant. A flow without a tenant takes defaultTenant. Every
// flow is validated; all problems are returned together.
func LoadDir(l *slog.Logger, dir, defaultTenant string, loaders ...runtime.FlowLoader) ([]*runtime.Flow, error) {
	if len(loaders) == 0 {
		loaders = Default()
	}

	type source struct {
		path   string
		loader runtime.FlowLoader
	}
	var sources []source
	for _, ld := range loaders {
		for _, ext := range ld.Extensions() {
			for _, pattern := range []string{filepath.Join(dir, ext), filepath.Join(dir, "*", ext)} {
				files, err := filepath.Glob(pattern)
				if err != nil {
					return nil, fmt.Errorf("error reading directory: %w", err)
				}
				for _, f := range files {
					if err := withinDir(dir, f); err != nil {
						l.Warn("Skipping flow file", "file", f, "error", err)
						continue
					}
					sources = append(sources, source{path: f, loader: ld})
				}
			}
		}
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].path < sources[j].path })

	var (
		flows []*runtime.Flow
		errs  []error
		seen  = make(map[string]string)
	)
	for _, src := range sources {
		flow, err := src.loader.Load(src.path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.path, err))
			continue
		}
		if flow.TenantID == "" {
			flow.TenantID = defaultTenant
		}
		if err := flow.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.path, err))
			continue
		}
		id := flow.TenantID + "/" + flow.ID
		if prev, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("%s: flow %s already defined in %s", src.path, id, prev))
			continue
		}
		seen[id] = src.path

		l.Info("Loaded flow", "file", src.path, "tenant", flow.TenantID, "flow", flow.ID, "nodes", len(flow.Nodes))
		flows = append(flows, flow)
	}

	return flows, errors.Join(errs...)
}

// withinDir rejects files that resolve outside dir, for instance through a
// symlinked tenant directory.
func withinDir(dir, file string) error {
	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve flows directory %q: %w", dir, err)
	}
	target, err := filepath.EvalSymlinks(file)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", file, err)
	}
	root, _ = filepath.Abs(root)
	target, _ = filepath.Abs(target)

	rel, err := filepath.Rel(root, target)
	if err != nil {
		return fmt.Errorf("invalid path relationship between %q and %q: %w", root, target, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%q escapes flows directory %q", file, dir)
	}
	return nil
}
