package types

import (
	"fmt"
	"slices"
	"time"
)

// Frontend selects the semantic-analysis implementation feeding the backend.
type Frontend string

const (
	FrontendLegacy Frontend = "legacy"
	FrontendFIR    Frontend = "fir"
)

// IsValid reports whether f is a known frontend
func (f Frontend) IsValid() bool {
	return f == FrontendLegacy || f == FrontendFIR
}

// ModuleKind selects how a test's modules are turned into a program.
type ModuleKind string

const (
	// ModuleKindSource compiles every source of every module in one invocation.
	ModuleKindSource ModuleKind = "source"
	// ModuleKindLibrary compiles every module to a library first and links
	// the program from the main module's library.
	ModuleKindLibrary ModuleKind = "library"
	// ModuleKindMulti compiles dependencies to libraries and the main module
	// straight into the program.
	ModuleKindMulti ModuleKind = "multi-module"
)

// IsValid reports whether k is a known module kind
func (k ModuleKind) IsValid() bool {
	switch k {
	case ModuleKindSource, ModuleKindLibrary, ModuleKindMulti:
		return true
	}
	return false
}

// DefaultExceptionMarker prefixes the runtime's report of an uncaught exception.
const DefaultExceptionMarker = "Uncaught Kotlin exception: "

// RuntimeConvention describes how the compiled program reports abnormal
// termination on stderr. It does not affect compilation.
type RuntimeConvention struct {
	ExceptionMarker string
	AssertionTypes  []string
}

// DefaultRuntimeConvention returns the convention used when a pipeline does
// not declare one.
func DefaultRuntimeConvention() RuntimeConvention {
	return RuntimeConvention{
		ExceptionMarker: DefaultExceptionMarker,
		AssertionTypes:  []string{"kotlin.AssertionError", "AssertionError"},
	}
}

// IsAssertion reports whether an exception type denotes a failed assertion.
func (c RuntimeConvention) IsAssertion(exceptionType string) bool {
	return slices.Contains(c.AssertionTypes, exceptionType)
}

// PipelineConfig selects one compilation pipeline. A PipelineConfig is shared
// by pointer between many test cases and must not be mutated after
// construction.
type PipelineConfig struct {
	Name           string
	Frontend       Frontend
	ModuleKind     ModuleKind
	SessionMode    string
	Backend        string
	Tags           []string
	CompilerArgs   []string
	Runtime        RuntimeConvention
	DefaultTimeout time.Duration
}

// Validate checks that the configuration can drive a compilation.
func (c *PipelineConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("pipeline config cannot be nil")
	}
	if c.Name == "" {
		return fmt.Errorf("pipeline name cannot be empty")
	}
	if !c.Frontend.IsValid() {
		return fmt.Errorf("pipeline %s: invalid frontend %q", c.Name, c.Frontend)
	}
	if !c.ModuleKind.IsValid() {
		return fmt.Errorf("pipeline %s: invalid module kind %q", c.Name, c.ModuleKind)
	}
	if c.Backend == "" {
		return fmt.Errorf("pipeline %s: backend cannot be empty", c.Name)
	}
	return nil
}

// HasTag reports whether tag is enabled for this pipeline.
func (c *PipelineConfig) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}

// SkipReason returns the tag that excludes tc from this pipeline, or "" when
// the case applies.
func (c *PipelineConfig) SkipReason(tc TestCase) string {
	for _, tag := range tc.RequiredTags {
		if !c.HasTag(tag) {
			return tag
		}
	}
	for _, tag := range tc.DisabledTags {
		if c.HasTag(tag) {
			return tag
		}
	}
	return ""
}

// EffectiveTimeout returns the timeout for tc under this pipeline.
func (c *PipelineConfig) EffectiveTimeout(tc TestCase) time.Duration {
	if tc.Timeout > 0 {
		return tc.Timeout
	}
	return c.DefaultTimeout
}

// Convention returns the runtime convention, falling back to the default.
func (c *PipelineConfig) Convention() RuntimeConvention {
	conv := c.Runtime
	if conv.ExceptionMarker == "" {
		conv.ExceptionMarker = DefaultExceptionMarker
	}
	if len(conv.AssertionTypes) == 0 {
		conv.AssertionTypes = DefaultRuntimeConvention().AssertionTypes
	}
	return conv
}
