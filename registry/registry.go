package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum-optimism/infra/op-blackbox/runner"
	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

// Registry holds the pipelines and test case groups of a manifest
type Registry struct {
	config    Config
	pipelines []*types.PipelineConfig
	groups    []runner.TestCaseGroup
	mu        sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log            log.Logger
	ManifestFile   string
	DefaultTimeout time.Duration // for pipelines that declare none
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.ManifestFile == "" {
		return nil, fmt.Errorf("manifest file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{config: cfg}
	if err := r.load(cfg.ManifestFile); err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	cfg.Log.Debug("Registry loaded", "pipelines", len(r.pipelines), "groups", len(r.groups))
	return r, nil
}

func (r *Registry) load(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, err := loadManifest(path)
	if err != nil {
		return err
	}

	pipelines, err := r.resolvePipelines(manifest.Pipelines)
	if err != nil {
		return fmt.Errorf("failed to resolve pipelines: %w", err)
	}
	groups, err := r.resolveGroups(manifest.Groups, filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("failed to resolve groups: %w", err)
	}

	r.pipelines = pipelines
	r.groups = groups
	return nil
}

// loadManifest decodes a manifest; the format follows the file extension.
func loadManifest(path string) (*Manifest, error) {
	log.Debug("Reading manifest file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}

	var m Manifest
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing manifest file: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &m)
		if err != nil {
			return nil, fmt.Errorf("parsing manifest file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing manifest file: unknown keys %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", ext)
	}
	return &m, nil
}

func (r *Registry) resolvePipelines(specs []PipelineSpec) ([]*types.PipelineConfig, error) {
	specMap := make(map[string]PipelineSpec, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("pipeline name cannot be empty")
		}
		if _, dup := specMap[s.Name]; dup {
			return nil, fmt.Errorf("pipeline %s is declared twice", s.Name)
		}
		specMap[s.Name] = s
	}

	for _, s := range specs {
		if err := checkCircularInheritance(s.Name, s.Inherits, specMap, make(map[string]bool)); err != nil {
			return nil, fmt.Errorf("circular inheritance detected: %w", err)
		}
	}

	pipelines := make([]*types.PipelineConfig, 0, len(specs))
	for _, s := range specs {
		resolved := resolveInherited(s, specMap)
		cfg := &types.PipelineConfig{
			Name:         s.Name,
			Frontend:     types.Frontend(resolved.Frontend),
			ModuleKind:   types.ModuleKind(resolved.ModuleKind),
			SessionMode:  resolved.SessionMode,
			Backend:      resolved.Backend,
			Tags:         resolved.Tags,
			CompilerArgs: resolved.CompilerArgs,
		}
		if resolved.DefaultTimeout != nil {
			cfg.DefaultTimeout = *resolved.DefaultTimeout
		} else {
			cfg.DefaultTimeout = r.config.DefaultTimeout
		}
		if resolved.Runtime != nil {
			cfg.Runtime = types.RuntimeConvention{
				ExceptionMarker: resolved.Runtime.ExceptionMarker,
				AssertionTypes:  resolved.Runtime.AssertionTypes,
			}
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		pipelines = append(pipelines, cfg)
	}
	return pipelines, nil
}

// checkCircularInheritance detects circular dependencies in pipeline inheritance
func checkCircularInheritance(currentName string, inherits []string, specMap map[string]PipelineSpec, visited map[string]bool) error {
	if visited[currentName] {
		return fmt.Errorf("circular inheritance detected at pipeline %s", currentName)
	}

	visited[currentName] = true
	defer delete(visited, currentName)

	for _, parentName := range inherits {
		parent, exists := specMap[parentName]
		if !exists {
			return fmt.Errorf("pipeline %s inherits from non-existent pipeline %s", currentName, parentName)
		}
		if err := checkCircularInheritance(parentName, parent.Inherits, specMap, visited); err != nil {
			return err
		}
	}
	return nil
}

// resolveInherited merges parents into s depth-first. Scalars set on the
// child win, then earlier parents win over later ones. Tags and compiler
// arguments accumulate, ancestors first.
func resolveInherited(s PipelineSpec, specMap map[string]PipelineSpec) PipelineSpec {
	if len(s.Inherits) == 0 {
		return s
	}

	merged := PipelineSpec{Name: s.Name}
	for _, parentName := range s.Inherits {
		parent := resolveInherited(specMap[parentName], specMap)
		merged.Frontend = firstNonEmpty(merged.Frontend, parent.Frontend)
		merged.ModuleKind = firstNonEmpty(merged.ModuleKind, parent.ModuleKind)
		merged.SessionMode = firstNonEmpty(merged.SessionMode, parent.SessionMode)
		merged.Backend = firstNonEmpty(merged.Backend, parent.Backend)
		if merged.DefaultTimeout == nil {
			merged.DefaultTimeout = parent.DefaultTimeout
		}
		if merged.Runtime == nil {
			merged.Runtime = parent.Runtime
		}
		merged.Tags = appendUnique(merged.Tags, parent.Tags...)
		merged.CompilerArgs = append(merged.CompilerArgs, parent.CompilerArgs...)
	}

	merged.Frontend = firstNonEmpty(s.Frontend, merged.Frontend)
	merged.ModuleKind = firstNonEmpty(s.ModuleKind, merged.ModuleKind)
	merged.SessionMode = firstNonEmpty(s.SessionMode, merged.SessionMode)
	merged.Backend = firstNonEmpty(s.Backend, merged.Backend)
	if s.DefaultTimeout != nil {
		merged.DefaultTimeout = s.DefaultTimeout
	}
	if s.Runtime != nil {
		merged.Runtime = s.Runtime
	}
	merged.Tags = appendUnique(merged.Tags, s.Tags...)
	merged.CompilerArgs = append(merged.CompilerArgs, s.CompilerArgs...)
	return merged
}

func (r *Registry) resolveGroups(specs []GroupSpec, baseDir string) ([]runner.TestCaseGroup, error) {
	seenGroups := make(map[string]bool, len(specs))
	groups := make([]runner.TestCaseGroup, 0, len(specs))

	for _, gs := range specs {
		if gs.ID == "" {
			return nil, fmt.Errorf("group ID cannot be empty")
		}
		if seenGroups[gs.ID] {
			return nil, fmt.Errorf("group %s is declared twice", gs.ID)
		}
		seenGroups[gs.ID] = true

		shared := make([]types.Module, 0, len(gs.Modules))
		for _, ms := range gs.Modules {
			m, err := ms.toModule(baseDir)
			if err != nil {
				return nil, fmt.Errorf("group %s: %w", gs.ID, err)
			}
			shared = append(shared, m)
		}

		group := runner.TestCaseGroup{ID: gs.ID, Description: gs.Description}
		seenCases := make(map[string]bool, len(gs.Cases))
		for _, cs := range gs.Cases {
			if cs.ID == "" {
				return nil, fmt.Errorf("group %s: case ID cannot be empty", gs.ID)
			}
			if seenCases[cs.ID] {
				return nil, fmt.Errorf("group %s: case %s is declared twice", gs.ID, cs.ID)
			}
			seenCases[cs.ID] = true

			tc, err := r.resolveCase(gs.ID, cs, shared, baseDir)
			if err != nil {
				return nil, fmt.Errorf("group %s: case %s: %w", gs.ID, cs.ID, err)
			}
			group.Cases = append(group.Cases, tc)
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (r *Registry) resolveCase(groupID string, cs CaseSpec, shared []types.Module, baseDir string) (types.TestCase, error) {
	tc := types.TestCase{
		ID:           cs.ID,
		Group:        groupID,
		MainModule:   cs.MainModule,
		EntryPoint:   cs.EntryPoint,
		Args:         cs.Args,
		RequiredTags: cs.RequiredTags,
		DisabledTags: cs.DisabledTags,
	}
	if cs.Timeout != nil {
		tc.Timeout = *cs.Timeout
	}

	own := make(map[string]bool, len(cs.Modules))
	for _, ms := range cs.Modules {
		own[ms.Name] = true
	}
	for _, m := range shared {
		if !own[m.Name] {
			tc.Modules = append(tc.Modules, m)
		}
	}
	for _, ms := range cs.Modules {
		m, err := ms.toModule(baseDir)
		if err != nil {
			return types.TestCase{}, err
		}
		tc.Modules = append(tc.Modules, m)
	}
	if len(tc.Modules) == 0 {
		return types.TestCase{}, fmt.Errorf("no modules declared")
	}

	stdin, err := cs.toStdin()
	if err != nil {
		return types.TestCase{}, err
	}
	tc.Stdin = stdin

	exp, err := cs.Expect.toExpectation(baseDir)
	if err != nil {
		return types.TestCase{}, err
	}
	tc.Expected = exp
	return tc, nil
}

// Pipelines returns every pipeline in declaration order
func (r *Registry) Pipelines() []*types.PipelineConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pipelines
}

// Pipeline returns the named pipeline
func (r *Registry) Pipeline(name string) (*types.PipelineConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Groups returns every group in declaration order
func (r *Registry) Groups() []runner.TestCaseGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groups
}

// Work pairs the selected groups with the selected pipelines. An empty
// selection selects everything; unknown names are an error.
func (r *Registry) Work(pipelines []string, groups []string) ([]runner.GroupWork, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selectedPipelines, err := selectByName(r.pipelines, pipelines, func(p *types.PipelineConfig) string { return p.Name }, "pipeline")
	if err != nil {
		return nil, err
	}
	selectedGroups, err := selectByName(r.groups, groups, func(g runner.TestCaseGroup) string { return g.ID }, "group")
	if err != nil {
		return nil, err
	}

	work := make([]runner.GroupWork, 0, len(selectedPipelines)*len(selectedGroups))
	for _, p := range selectedPipelines {
		for _, g := range selectedGroups {
			work = append(work, runner.GroupWork{Group: g, Pipeline: p})
		}
	}
	return work, nil
}

// GetConfig returns the registry configuration
func (r *Registry) GetConfig() Config {
	return r.config
}

func selectByName[T any](all []T, names []string, nameOf func(T) string, kind string) ([]T, error) {
	if len(names) == 0 {
		return all, nil
	}
	var selected []T
	for _, name := range names {
		idx := slices.IndexFunc(all, func(item T) bool { return nameOf(item) == name })
		if idx < 0 {
			return nil, fmt.Errorf("unknown %s %s", kind, name)
		}
		selected = append(selected, all[idx])
	}
	return selected, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
