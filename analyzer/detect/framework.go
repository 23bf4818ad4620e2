// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detect

import (
	"strings"

	"github.com/AleutianAI/exctrace/analyzer/ast"
)

// Framework is a detector built entirely from pattern configuration.
//
// Description:
//
//	A Framework holds the route and handler patterns of one web framework
//	plus the exception-to-response map used by audit bucketing. It
//	implements ast.Detector; the extractor runs it after each file walk.
//
// Thread Safety: Safe for concurrent use after construction (read-only).
type Framework struct {
	// Tag is the framework name written into entrypoint metadata.
	Tag string `yaml:"name"`

	DecoratorRoutes   []DecoratorRoutePattern   `yaml:"decorator_routes,omitempty"`
	ClassRoutes       []ClassRoutePattern       `yaml:"class_routes,omitempty"`
	RegistrationCalls []RegistrationCallPattern `yaml:"registration_calls,omitempty"`
	Handlers          []HandlerPattern          `yaml:"handlers,omitempty"`

	// ExceptionResponses maps exception names the framework converts to
	// responses (HTTPException -> "HTTP 4xx/5xx"). Lookups tolerate
	// qualified names by falling back to the trailing segment.
	ExceptionResponses map[string]string `yaml:"exception_responses,omitempty"`
}

// Name returns the framework tag.
func (f *Framework) Name() string { return f.Tag }

// ResponseFor returns the framework's response description for an exception
// name, tolerant of qualified vs bare spellings.
func (f *Framework) ResponseFor(excName string) (string, bool) {
	if r, ok := f.ExceptionResponses[excName]; ok {
		return r, true
	}
	if r, ok := f.ExceptionResponses[lastSegment(excName)]; ok {
		return r, true
	}
	return "", false
}

// DetectEntrypoints returns every route this framework's patterns recognize
// in the extraction.
func (f *Framework) DetectEntrypoints(fx *ast.FileExtraction) []ast.Entrypoint {
	var eps []ast.Entrypoint

	for _, fn := range fx.Functions {
		for _, dec := range fn.Decorators {
			for _, pat := range f.DecoratorRoutes {
				path, method, ok := pat.matches(dec)
				if !ok {
					continue
				}
				meta := map[string]string{"framework": f.Tag}
				if path != "" {
					meta["path"] = path
				}
				if method != "" {
					meta["method"] = method
				}
				eps = append(eps, ast.Entrypoint{
					File:     fx.FilePath,
					Line:     fn.Line,
					Function: fn.Qualified,
					Kind:     ast.EntrypointHTTPRoute,
					Metadata: meta,
				})
				break
			}
		}
	}

	for _, cls := range fx.Classes {
		for _, pat := range f.ClassRoutes {
			if !pat.matchesClass(cls) {
				continue
			}
			for _, verb := range pat.verbs() {
				if !containsString(cls.Methods, verb) {
					continue
				}
				eps = append(eps, ast.Entrypoint{
					File:     fx.FilePath,
					Line:     cls.Line,
					Function: cls.Qualified + "." + verb,
					Kind:     ast.EntrypointHTTPRoute,
					Metadata: map[string]string{
						"framework": f.Tag,
						"method":    strings.ToUpper(verb),
						"class":     cls.Qualified,
					},
				})
			}
			break
		}
	}

	moduleKey := fx.ModuleKey()
	for _, call := range fx.Calls {
		if call.Caller != moduleKey {
			continue
		}
		for _, pat := range f.RegistrationCalls {
			if !pat.matches(call) || pat.ClassArg >= len(call.Args) {
				continue
			}
			className := call.Args[pat.ClassArg]
			cls, ok := findClass(fx, className)
			if !ok {
				continue
			}
			path := ""
			if pat.PathArg >= 0 && pat.PathArg < len(call.Args) {
				path = call.Args[pat.PathArg]
			}
			for _, verb := range defaultVerbMethods {
				if !containsString(cls.Methods, verb) {
					continue
				}
				meta := map[string]string{
					"framework": f.Tag,
					"method":    strings.ToUpper(verb),
					"class":     cls.Qualified,
				}
				if path != "" {
					meta["path"] = path
				}
				eps = append(eps, ast.Entrypoint{
					File:     fx.FilePath,
					Line:     call.Line,
					Function: cls.Qualified + "." + verb,
					Kind:     ast.EntrypointHTTPRoute,
					Metadata: meta,
				})
			}
			break
		}
	}

	return eps
}

// DetectGlobalHandlers returns every framework-level exception handler the
// patterns recognize.
func (f *Framework) DetectGlobalHandlers(fx *ast.FileExtraction) []ast.GlobalHandler {
	var handlers []ast.GlobalHandler

	for _, fn := range fx.Functions {
		for _, dec := range fn.Decorators {
			for _, pat := range f.Handlers {
				if !pat.matchesDecorator(dec) || len(dec.Args) == 0 {
					continue
				}
				handlers = append(handlers, ast.GlobalHandler{
					File:            fx.FilePath,
					Line:            dec.Line,
					HandlerFunction: fn.Qualified,
					ExceptionType:   lastSegment(dec.Args[0]),
				})
				break
			}
		}
	}

	moduleKey := fx.ModuleKey()
	for _, call := range fx.Calls {
		if call.Caller != moduleKey || len(call.Args) == 0 {
			continue
		}
		for _, pat := range f.Handlers {
			if !pat.matchesCall(call) {
				continue
			}
			handler := ast.GlobalHandler{
				File:          fx.FilePath,
				Line:          call.Line,
				ExceptionType: lastSegment(call.Args[0]),
			}
			if len(call.Args) > 1 {
				handler.HandlerFunction = call.Args[1]
			}
			handlers = append(handlers, handler)
			break
		}
	}

	return handlers
}

func findClass(fx *ast.FileExtraction, name string) (ast.ClassDef, bool) {
	for _, cls := range fx.Classes {
		if cls.Name == name || cls.Qualified == name {
			return cls, true
		}
	}
	return ast.ClassDef{}, false
}

func containsString(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
