package compiler

import (
	"testing"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mod(name string, deps ...string) types.Module {
	return types.Module{
		Name:      name,
		DependsOn: deps,
		Files:     []types.SourceFile{{Path: name + ".kt", Content: "// " + name}},
	}
}

func unitNames(units []*types.CompilationUnit) []string {
	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Module)
	}
	return names
}

func TestBuildUnitsOrder(t *testing.T) {
	tests := []struct {
		name     string
		modules  []types.Module
		expected []string
	}{
		{
			name:     "single module",
			modules:  []types.Module{mod("main")},
			expected: []string{"main"},
		},
		{
			name:     "declaration order kept for independent modules",
			modules:  []types.Module{mod("b"), mod("a"), mod("c")},
			expected: []string{"b", "a", "c"},
		},
		{
			name:     "dependency declared after dependent",
			modules:  []types.Module{mod("main", "lib"), mod("lib")},
			expected: []string{"lib", "main"},
		},
		{
			name:     "diamond",
			modules:  []types.Module{mod("main", "left", "right"), mod("left", "base"), mod("right", "base"), mod("base")},
			expected: []string{"base", "left", "right", "main"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units, err := BuildUnits(types.TestCase{ID: "t", Modules: tt.modules})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, unitNames(units))

			pos := make(map[string]int)
			for i, u := range units {
				pos[u.Module] = i
			}
			for _, u := range units {
				for _, d := range u.Deps {
					assert.Less(t, pos[d.Module], pos[u.Module], "%s must follow %s", u.Module, d.Module)
				}
			}
		})
	}
}

func TestBuildUnitsSharesDependencyUnits(t *testing.T) {
	units, err := BuildUnits(types.TestCase{ID: "t", Modules: []types.Module{mod("a", "base"), mod("b", "base"), mod("base")}})
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Same(t, units[0], units[1].Deps[0])
	assert.Same(t, units[0], units[2].Deps[0])
	assert.Equal(t, []string{"base"}, units[1].DepNames())
}

func TestBuildUnitsErrors(t *testing.T) {
	tests := []struct {
		name    string
		modules []types.Module
		msg     string
	}{
		{
			name: "no modules",
			msg:  "has no modules",
		},
		{
			name:    "empty name",
			modules: []types.Module{mod("")},
			msg:     "module name cannot be empty",
		},
		{
			name:    "duplicate module",
			modules: []types.Module{mod("a"), mod("a")},
			msg:     "module a is declared twice",
		},
		{
			name:    "unknown dependency",
			modules: []types.Module{mod("main", "missing")},
			msg:     "module main depends on undeclared module missing",
		},
		{
			name:    "duplicate dependency",
			modules: []types.Module{mod("main", "lib", "lib"), mod("lib")},
			msg:     "module main lists dependency lib twice",
		},
		{
			name:    "self cycle",
			modules: []types.Module{mod("a", "a")},
			msg:     "module dependency cycle: a -> a",
		},
		{
			name:    "longer cycle",
			modules: []types.Module{mod("main", "a"), mod("a", "b"), mod("b", "a")},
			msg:     "module dependency cycle: a -> b -> a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildUnits(types.TestCase{ID: "t", Modules: tt.modules})
			require.Error(t, err)
			assert.True(t, types.IsConfigurationError(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
