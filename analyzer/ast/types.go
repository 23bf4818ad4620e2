// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeySeparator joins the file path and qualified name inside a FunctionKey.
// "::" cannot appear in a relative path or a dotted Python name.
const KeySeparator = "::"

// ModuleFunctionName is the synthetic qualified name used for code that
// executes at module scope (top-level statements, the __main__ guard).
const ModuleFunctionName = "<module>"

// CatchAll is the sentinel caught-type name recorded for a bare "except:"
// clause or an "except BaseException:" style handler that names nothing.
const CatchAll = "*"

// FunctionKey is the canonical identity of a function or method:
// "<relative_file_path>::<qualified_name>".
//
// Description:
//
//	The qualified name is the dotted path of enclosing classes and functions
//	plus the function's own name ("Svc.run", "Outer.outer.inner"). Top-level
//	functions have qualified_name == name. All internal tables key on
//	FunctionKey; bare names are resolved to keys only at system boundaries.
type FunctionKey string

// MakeFunctionKey builds a FunctionKey from a relative file path and a
// qualified name.
func MakeFunctionKey(file, qualified string) FunctionKey {
	return FunctionKey(file + KeySeparator + qualified)
}

// File returns the relative file path component of the key.
func (k FunctionKey) File() string {
	if i := strings.Index(string(k), KeySeparator); i >= 0 {
		return string(k)[:i]
	}
	return ""
}

// Qualified returns the qualified-name component of the key.
func (k FunctionKey) Qualified() string {
	if i := strings.Index(string(k), KeySeparator); i >= 0 {
		return string(k)[i+len(KeySeparator):]
	}
	return string(k)
}

// Name returns the simple (bare) function name: the last dotted segment of
// the qualified name.
func (k FunctionKey) Name() string {
	q := k.Qualified()
	if i := strings.LastIndex(q, "."); i >= 0 {
		return q[i+1:]
	}
	return q
}

// IsFull reports whether the string form contains the key separator, i.e.
// whether it can only be a full key rather than a bare name.
func (k FunctionKey) IsFull() bool {
	return strings.Contains(string(k), KeySeparator)
}

// ResolutionKind classifies how a call site's callee was (or will be)
// resolved to a concrete function.
type ResolutionKind string

const (
	// ResolutionImport: the callee name was found in the file's import map.
	ResolutionImport ResolutionKind = "import"

	// ResolutionSelf: a method call on self inside a class body.
	ResolutionSelf ResolutionKind = "self"

	// ResolutionConstructor: a method call on a local variable whose class
	// is known from the local type environment (a constructor assignment or
	// a parameter annotation), or a direct call of a file-local class,
	// which resolves to its __init__.
	ResolutionConstructor ResolutionKind = "constructor"

	// ResolutionReturnType: the receiver's class came from a callee's
	// return type annotation.
	ResolutionReturnType ResolutionKind = "return_type"

	// ResolutionNameFallback: assigned during propagation when the bare
	// callee name matched exactly one known function.
	ResolutionNameFallback ResolutionKind = "name_fallback"

	// ResolutionPolymorphic: assigned during propagation when a method call
	// name matched several known functions.
	ResolutionPolymorphic ResolutionKind = "polymorphic"

	// ResolutionStub: the callee matched a stub library entry.
	ResolutionStub ResolutionKind = "stub"

	// ResolutionUnresolved: extraction could not resolve the callee.
	ResolutionUnresolved ResolutionKind = "unresolved"
)

// Decorator is a decorator applied to a function or class, as written.
type Decorator struct {
	// Name is the decorator expression without arguments: "app.get",
	// "staticmethod", "router.route".
	Name string `json:"name"`

	// Line is the 1-based source line of the decorator.
	Line int `json:"line"`

	// Args holds positional argument literals/identifiers, quotes stripped
	// for string literals.
	Args []string `json:"args,omitempty"`

	// Kwargs holds keyword argument values keyed by argument name.
	Kwargs map[string]string `json:"kwargs,omitempty"`
}

// FunctionDef describes one function or method definition.
type FunctionDef struct {
	File       string      `json:"file"`
	Line       int         `json:"line"`
	Name       string      `json:"name"`
	Qualified  string      `json:"qualified"`
	Class      string      `json:"class,omitempty"`
	ReturnType string      `json:"return_type,omitempty"`
	Decorators []Decorator `json:"decorators,omitempty"`
}

// Key returns the canonical FunctionKey for this definition.
func (f *FunctionDef) Key() FunctionKey {
	return MakeFunctionKey(f.File, f.Qualified)
}

// ClassDef describes one class definition with its base-class names. A
// dotted base is recorded as its trailing segment ("exceptions.HTTPError"
// -> "HTTPError") and a subscripted base as its base name ("Generic[T]" ->
// "Generic"); the module path of a base is not kept.
type ClassDef struct {
	File      string   `json:"file"`
	Line      int      `json:"line"`
	Name      string   `json:"name"`
	Qualified string   `json:"qualified"`
	Bases     []string `json:"bases,omitempty"`
	Methods   []string `json:"methods,omitempty"`

	// IsException is set during model assembly iff any transitive base
	// resolves to Exception in the accumulated hierarchy.
	IsException bool `json:"is_exception,omitempty"`
}

// RaiseSite is one raise statement.
type RaiseSite struct {
	File     string      `json:"file"`
	Line     int         `json:"line"`
	Function FunctionKey `json:"function"`

	// ExceptionType is the trailing dotted segment of the raised type name
	// as written ("errs.OtherError" -> "OtherError"); it is not resolved
	// through the import map to a module-qualified name. For a re-raise it
	// is the bound handler name (or empty for a bare "raise" in an unbound
	// handler).
	ExceptionType string `json:"exception_type"`

	// IsReraise is true for a bare "raise" inside an open except clause or
	// for "raise e" where e is the clause's bound name.
	IsReraise bool `json:"is_reraise,omitempty"`
}

// CatchSite is one except clause. A try statement with several except
// clauses yields several CatchSites sharing the same try-block span.
type CatchSite struct {
	File     string      `json:"file"`
	Line     int         `json:"line"`
	Function FunctionKey `json:"function"`

	// CaughtTypes lists the handled type names; CatchAll for a bare except.
	CaughtTypes []string `json:"caught_types"`

	// BoundName is the "as e" binding, if any.
	BoundName string `json:"bound_name,omitempty"`

	// TryStartLine and TryEndLine span the protected region (the try body).
	TryStartLine int `json:"try_start_line"`
	TryEndLine   int `json:"try_end_line"`

	// Reraises is true when the clause body re-raises the caught exception
	// (bare "raise" or "raise <bound name>"). Such a clause does not remove
	// the caught types from the enclosing function's escape set.
	Reraises bool `json:"reraises,omitempty"`
}

// CallSite is one call expression attributed to its containing function.
type CallSite struct {
	File   string      `json:"file"`
	Line   int         `json:"line"`
	Caller FunctionKey `json:"caller"`

	// CalleeBareName is always present: the attribute name for method
	// calls, the identifier for name calls.
	CalleeBareName string `json:"callee_bare_name"`

	// Callee is the resolved callee reference when extraction succeeded:
	// a full FunctionKey for self/constructor resolution, or a dotted
	// module-qualified path for import resolution (mapped to a key during
	// propagation). Empty when unresolved.
	Callee string `json:"callee,omitempty"`

	IsMethodCall bool           `json:"is_method_call,omitempty"`
	Resolution   ResolutionKind `json:"resolution"`

	// Args holds positional argument identifiers/literals, recorded only
	// for module-scope calls so detectors can match registration shapes
	// like api.add_resource(ClassName, "/path").
	Args []string `json:"args,omitempty"`
}

// EntrypointKind classifies how an entrypoint is reached from outside.
type EntrypointKind string

const (
	EntrypointHTTPRoute EntrypointKind = "http-route"
	EntrypointCLIScript EntrypointKind = "cli-script"
	EntrypointOther     EntrypointKind = "other"
)

// Entrypoint is an externally reachable function detected by a framework
// detector. Function holds the bare or class-qualified name as written;
// it is resolved to a FunctionKey at consumption time.
type Entrypoint struct {
	File     string            `json:"file"`
	Line     int               `json:"line"`
	Function string            `json:"function"`
	Kind     EntrypointKind    `json:"kind"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// GlobalHandler is a framework-registered exception handler
// (@app.errorhandler(Exc) and friends).
type GlobalHandler struct {
	File            string `json:"file"`
	Line            int    `json:"line"`
	HandlerFunction string `json:"handler_function"`
	ExceptionType   string `json:"exception_type"`
}

// FileExtraction is everything the extractor produced for one file.
//
// Description:
//
//	Source with syntax errors yields the facts the error-tolerant parse
//	recovers plus a diagnostic (an empty FileExtraction with a diagnostic
//	when no tree is produced); it never aborts an analysis run. Instances round-trip through the
//	extraction cache as JSON.
type FileExtraction struct {
	FilePath string `json:"file_path"`

	Functions []FunctionDef `json:"functions,omitempty"`
	Classes   []ClassDef    `json:"classes,omitempty"`
	Raises    []RaiseSite   `json:"raises,omitempty"`
	Catches   []CatchSite   `json:"catches,omitempty"`
	Calls     []CallSite    `json:"calls,omitempty"`

	// Imports maps a local name to its origin qualified name:
	// "foo" -> "pkg.mod.foo" for "from pkg.mod import foo",
	// "pkg.mod" -> "pkg.mod" (and "mod" -> "pkg.mod") for "import pkg.mod".
	Imports map[string]string `json:"imports,omitempty"`

	Entrypoints    []Entrypoint    `json:"entrypoints,omitempty"`
	GlobalHandlers []GlobalHandler `json:"global_handlers,omitempty"`

	// HasMainGuard is true when the file contains an
	// `if __name__ == "__main__":` block at module level.
	HasMainGuard  bool `json:"has_main_guard,omitempty"`
	MainGuardLine int  `json:"main_guard_line,omitempty"`

	Diagnostics []string `json:"diagnostics,omitempty"`
}

// ModuleKey returns the synthetic FunctionKey for this file's module-level
// code.
func (fx *FileExtraction) ModuleKey() FunctionKey {
	return MakeFunctionKey(fx.FilePath, ModuleFunctionName)
}

// ModulePath converts a relative file path to its dotted Python module path:
// "pkg/mod.py" -> "pkg.mod", "pkg/__init__.py" -> "pkg".
func ModulePath(filePath string) string {
	p := strings.TrimSuffix(filePath, ".py")
	p = strings.TrimSuffix(p, ".pyi")
	p = strings.ReplaceAll(p, "/", ".")
	p = strings.TrimSuffix(p, ".__init__")
	return p
}

// ContentHash returns the 16-character hex SHA256 prefix of the source
// bytes, used for content-addressed cache keys.
func ContentHash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])[:16]
}

// String implements fmt.Stringer for diagnostics.
func (c CallSite) String() string {
	return fmt.Sprintf("%s:%d %s -> %s (%s)", c.File, c.Line, c.Caller.Qualified(), c.CalleeBareName, c.Resolution)
}
