package compiler

import (
	"fmt"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
)

// NewBuildRequest resolves the units, main module and entry point of tc for
// the given pipeline. All failures are *types.ConfigurationError.
func NewBuildRequest(tc types.TestCase, cfg *types.PipelineConfig, rule EntryPointRule) (types.BuildRequest, error) {
	if err := cfg.Validate(); err != nil {
		return types.BuildRequest{}, &types.ConfigurationError{Reason: "invalid pipeline", Err: err}
	}
	units, err := BuildUnits(tc)
	if err != nil {
		return types.BuildRequest{}, err
	}
	mainModule, err := tc.ResolveMainModule()
	if err != nil {
		return types.BuildRequest{}, err
	}
	if cfg.ModuleKind == types.ModuleKindMulti {
		if err := checkMainIsRoot(units, mainModule); err != nil {
			return types.BuildRequest{}, err
		}
	}
	entry, err := rule.Resolve(tc, cfg.ModuleKind, units, mainModule)
	if err != nil {
		return types.BuildRequest{}, err
	}
	return types.BuildRequest{
		TestID:     tc.GetName(),
		Units:      units,
		MainModule: mainModule,
		EntryPoint: entry,
		Config:     cfg,
	}, nil
}

// checkMainIsRoot rejects a multi-module main that another unit depends on.
// The main module is compiled straight into the program, so it never exists
// as a library for dependents to link against.
func checkMainIsRoot(units []*types.CompilationUnit, mainModule string) error {
	for _, u := range units {
		for _, d := range u.Deps {
			if d.Module == mainModule {
				return &types.ConfigurationError{Reason: fmt.Sprintf("main module %s is a dependency of module %s", mainModule, u.Module)}
			}
		}
	}
	return nil
}
