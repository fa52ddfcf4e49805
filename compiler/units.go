package compiler

import (
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
)

// BuildUnits turns the modules of a test case into compilation units in
// topological order: every unit follows the units it depends on, and modules
// without an ordering constraint keep their declaration order.
func BuildUnits(tc types.TestCase) ([]*types.CompilationUnit, error) {
	if len(tc.Modules) == 0 {
		return nil, &types.ConfigurationError{Reason: fmt.Sprintf("test %s has no modules", tc.GetName())}
	}

	modules := make(map[string]types.Module, len(tc.Modules))
	for _, m := range tc.Modules {
		if m.Name == "" {
			return nil, &types.ConfigurationError{Reason: "module name cannot be empty"}
		}
		if _, dup := modules[m.Name]; dup {
			return nil, &types.ConfigurationError{Reason: fmt.Sprintf("module %s is declared twice", m.Name)}
		}
		modules[m.Name] = m
	}
	for _, m := range tc.Modules {
		seen := make(map[string]bool, len(m.DependsOn))
		for _, dep := range m.DependsOn {
			if _, ok := modules[dep]; !ok {
				return nil, &types.ConfigurationError{Reason: fmt.Sprintf("module %s depends on undeclared module %s", m.Name, dep)}
			}
			if seen[dep] {
				return nil, &types.ConfigurationError{Reason: fmt.Sprintf("module %s lists dependency %s twice", m.Name, dep)}
			}
			seen[dep] = true
		}
	}

	s := &sorter{
		modules: modules,
		units:   make(map[string]*types.CompilationUnit, len(modules)),
		state:   make(map[string]visitState, len(modules)),
	}
	for _, m := range tc.Modules {
		if err := s.visit(m.Name); err != nil {
			return nil, err
		}
	}
	return s.order, nil
}

type visitState int

const (
	unvisited visitState = iota
	visiting
	done
)

type sorter struct {
	modules map[string]types.Module
	units   map[string]*types.CompilationUnit
	state   map[string]visitState
	stack   []string
	order   []*types.CompilationUnit
}

func (s *sorter) visit(name string) error {
	switch s.state[name] {
	case done:
		return nil
	case visiting:
		return &types.ConfigurationError{Reason: fmt.Sprintf("module dependency cycle: %s", s.cyclePath(name))}
	}

	s.state[name] = visiting
	s.stack = append(s.stack, name)

	m := s.modules[name]
	deps := make([]*types.CompilationUnit, 0, len(m.DependsOn))
	for _, dep := range m.DependsOn {
		if err := s.visit(dep); err != nil {
			return err
		}
		deps = append(deps, s.units[dep])
	}

	s.stack = s.stack[:len(s.stack)-1]
	s.state[name] = done

	files := make([]types.SourceFile, len(m.Files))
	copy(files, m.Files)
	unit := &types.CompilationUnit{Module: name, Files: files, Deps: deps}
	s.units[name] = unit
	s.order = append(s.order, unit)
	return nil
}

// cyclePath renders the cycle closing at name, e.g. "a -> b -> a".
func (s *sorter) cyclePath(name string) string {
	start := 0
	for i, n := range s.stack {
		if n == name {
			start = i
			break
		}
	}
	path := append([]string{}, s.stack[start:]...)
	path = append(path, name)
	return strings.Join(path, " -> ")
}
