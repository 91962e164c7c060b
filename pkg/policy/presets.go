package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/sitegate/pkg/observability"
)

// ModuleFlags are the four permission axes granted by a preset on one module
type ModuleFlags struct {
	CanView    bool
	CanEdit    bool
	CanUpload  bool
	CanRequest bool
}

// Preset is a named bundle of module grants
type Preset struct {
	Name    string
	Modules map[Module]ModuleFlags
}

// Grants expands the preset into module rows for one user on one project,
// ordered by module
func (p Preset) Grants(userID, projectID string) []ModuleAccess {
	grants := make([]ModuleAccess, 0, len(p.Modules))
	for module, flags := range p.Modules {
		grants = append(grants, ModuleAccess{
			UserID:     userID,
			ProjectID:  projectID,
			Module:     module,
			CanView:    flags.CanView,
			CanEdit:    flags.CanEdit,
			CanUpload:  flags.CanUpload,
			CanRequest: flags.CanRequest,
		})
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].Module < grants[j].Module })
	return grants
}

// presetFile is the YAML layout:
//
//	presets:
//	  site-manager:
//	    BUDGET: [view, edit, upload, request]
type presetFile struct {
	Presets map[string]map[string][]string `yaml:"presets"`
}

// ParsePresets decodes a YAML preset catalog
func ParsePresets(data []byte) (map[string]Preset, error) {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse presets: %w", err)
	}
	if len(file.Presets) == 0 {
		return nil, fmt.Errorf("no presets defined")
	}

	presets := make(map[string]Preset, len(file.Presets))
	for name, modules := range file.Presets {
		preset := Preset{Name: name, Modules: make(map[Module]ModuleFlags, len(modules))}
		for moduleName, flags := range modules {
			module, err := ParseModule(moduleName)
			if err != nil {
				return nil, fmt.Errorf("preset %s: %w", name, err)
			}
			var mf ModuleFlags
			for _, flag := range flags {
				switch strings.ToLower(strings.TrimSpace(flag)) {
				case "view":
					mf.CanView = true
				case "edit":
					mf.CanEdit = true
				case "upload":
					mf.CanUpload = true
				case "request":
					mf.CanRequest = true
				default:
					return nil, fmt.Errorf("preset %s: unknown flag %q on %s", name, flag, module)
				}
			}
			preset.Modules[module] = mf
		}
		presets[name] = preset
	}
	return presets, nil
}

// LoadPresetsFile reads and parses a preset catalog from disk
func LoadPresetsFile(path string) (map[string]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets: %w", err)
	}
	return ParsePresets(data)
}

// DefaultPresets is the built-in catalog used when no file is configured
func DefaultPresets() map[string]Preset {
	all := func(flags ModuleFlags) map[Module]ModuleFlags {
		modules := make(map[Module]ModuleFlags)
		for _, m := range AllModules() {
			modules[m] = flags
		}
		return modules
	}

	contractor := all(ModuleFlags{CanView: true, CanRequest: true})
	contractor[ModuleTasks] = ModuleFlags{CanView: true, CanEdit: true, CanUpload: true, CanRequest: true}
	contractor[ModuleDailyLogs] = ModuleFlags{CanView: true, CanEdit: true, CanUpload: true}
	delete(contractor, ModuleContacts)

	return map[string]Preset{
		"full-access": {Name: "full-access", Modules: all(ModuleFlags{CanView: true, CanEdit: true, CanUpload: true, CanRequest: true})},
		"contractor":  {Name: "contractor", Modules: contractor},
		"read-only":   {Name: "read-only", Modules: all(ModuleFlags{CanView: true})},
	}
}

// Catalog holds the active presets and may be swapped at runtime
type Catalog struct {
	mu      sync.RWMutex
	presets map[string]Preset
}

// NewCatalog creates a catalog
func NewCatalog(presets map[string]Preset) *Catalog {
	c := &Catalog{}
	c.Replace(presets)
	return c
}

// Get returns the named preset
func (c *Catalog) Get(name string) (Preset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.presets[name]
	return p, ok
}

// Names returns the preset names, sorted
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.presets))
	for name := range c.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replace swaps the whole catalog
func (c *Catalog) Replace(presets map[string]Preset) {
	if presets == nil {
		presets = map[string]Preset{}
	}
	c.mu.Lock()
	c.presets = presets
	c.mu.Unlock()
}

// WatchPresets reloads the catalog from path whenever the file changes,
// until ctx is cancelled. A file that fails to parse leaves the previous
// catalog in place.
func WatchPresets(ctx context.Context, path string, catalog *Catalog, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so that editors replacing the file by rename are seen.
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	logger.WithField("path", target).Info("Watching access presets")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			presets, err := LoadPresetsFile(target)
			if err != nil {
				logger.WithError(err).Warn("Failed to reload access presets, keeping previous catalog")
				continue
			}
			catalog.Replace(presets)
			logger.WithField("presets", len(presets)).Info("Reloaded access presets")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Access preset watcher error")
		}
	}
}
