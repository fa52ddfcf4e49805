package compiler

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
)

var (
	ErrNoEntryPoint        = errors.New("no entry point found")
	ErrAmbiguousEntryPoint = errors.New("ambiguous entry point")
)

const defaultEntryName = "main"

// EntryPointRule finds program entry points in source text. Main matches a
// main-function declaration and Package captures the file's package name in
// its first group.
type EntryPointRule struct {
	Main     *regexp.Regexp
	Package  *regexp.Regexp
	FuncName string
}

// DefaultEntryPointRule recognises top-level `fun main(` declarations.
func DefaultEntryPointRule() EntryPointRule {
	return EntryPointRule{
		Main:     regexp.MustCompile(`(?m)^\s*fun\s+main\s*\(`),
		Package:  regexp.MustCompile(`(?m)^\s*package\s+([A-Za-z_][\w.]*)`),
		FuncName: defaultEntryName,
	}
}

// Resolve returns the entry point for tc. An explicit entry point wins.
// Otherwise the main module is scanned (every module for source builds) and
// exactly one package-qualified main must be found; overloads of main in one
// package count once.
func (r EntryPointRule) Resolve(tc types.TestCase, kind types.ModuleKind, units []*types.CompilationUnit, mainModule string) (string, error) {
	if tc.EntryPoint != "" {
		return tc.EntryPoint, nil
	}

	var scan []*types.CompilationUnit
	for _, u := range units {
		if kind == types.ModuleKindSource || u.Module == mainModule {
			scan = append(scan, u)
		}
	}

	var found []string
	for _, u := range scan {
		for _, f := range u.Files {
			if !r.Main.MatchString(f.Content) {
				continue
			}
			name := r.qualify(f.Content)
			if !slices.Contains(found, name) {
				found = append(found, name)
			}
		}
	}

	switch len(found) {
	case 0:
		return "", &types.ConfigurationError{
			Reason: fmt.Sprintf("test %s: no main function in module %s", tc.GetName(), mainModule),
			Err:    ErrNoEntryPoint,
		}
	case 1:
		return found[0], nil
	}
	slices.Sort(found)
	return "", &types.ConfigurationError{
		Reason: fmt.Sprintf("test %s: candidates %s", tc.GetName(), strings.Join(found, ", ")),
		Err:    ErrAmbiguousEntryPoint,
	}
}

func (r EntryPointRule) qualify(content string) string {
	fn := r.FuncName
	if fn == "" {
		fn = defaultEntryName
	}
	if r.Package == nil {
		return fn
	}
	if m := r.Package.FindStringSubmatch(content); len(m) > 1 && m[1] != "" {
		return m[1] + "." + fn
	}
	return fn
}
