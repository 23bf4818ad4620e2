// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package detect classifies extracted decorators, class bases, and
// registration calls as entrypoints or global exception handlers.
//
// A framework is pure pattern configuration; adding support for a new
// framework requires no extractor changes.
package detect

import (
	"strings"

	"github.com/AleutianAI/exctrace/analyzer/ast"
)

// DecoratorRoutePattern matches route-registering decorators like
// @app.get("/path") or @bp.route("/path", methods=["POST"]).
type DecoratorRoutePattern struct {
	// Attributes lists the matching decorator attribute names ("get",
	// "post", "route"). The decorator may hang off any object.
	Attributes []string `yaml:"attributes"`

	// PathArg is the positional slot holding the path template; -1 when
	// the path is keyword-only.
	PathArg int `yaml:"path_arg"`

	// PathKwarg names the keyword argument holding the path ("path").
	PathKwarg string `yaml:"path_kwarg,omitempty"`

	// MethodFromAttribute derives the HTTP method from the decorator
	// attribute name itself (@app.get -> GET).
	MethodFromAttribute bool `yaml:"method_from_attribute,omitempty"`

	// MethodsKwarg names the keyword argument listing HTTP methods
	// ("methods").
	MethodsKwarg string `yaml:"methods_kwarg,omitempty"`
}

// matches reports whether the decorator fits this pattern, returning the
// extracted path and method.
func (p DecoratorRoutePattern) matches(d ast.Decorator) (path, method string, ok bool) {
	attr := lastSegment(d.Name)
	found := false
	for _, a := range p.Attributes {
		if a == attr {
			found = true
			break
		}
	}
	if !found {
		return "", "", false
	}

	if p.PathArg >= 0 && p.PathArg < len(d.Args) {
		path = d.Args[p.PathArg]
	}
	if path == "" && p.PathKwarg != "" {
		path = d.Kwargs[p.PathKwarg]
	}

	if p.MethodFromAttribute {
		method = strings.ToUpper(attr)
		if method == "ROUTE" {
			method = ""
		}
	}
	if method == "" && p.MethodsKwarg != "" {
		method = normalizeMethodList(d.Kwargs[p.MethodsKwarg])
	}
	return path, method, true
}

// ClassRoutePattern matches class-based views: a class extending one of the
// configured bases exposes each HTTP-verb-named method as an entrypoint.
type ClassRoutePattern struct {
	// Bases lists the base-class names that mark a routed class
	// ("APIView", "ViewSet", "Resource").
	Bases []string `yaml:"bases"`

	// Methods lists the method names treated as HTTP handlers. Empty means
	// the standard verb set.
	Methods []string `yaml:"methods,omitempty"`
}

// defaultVerbMethods is the standard set of HTTP-verb method names on
// class-based views.
var defaultVerbMethods = []string{"get", "post", "put", "delete", "patch", "head", "options"}

func (p ClassRoutePattern) verbs() []string {
	if len(p.Methods) > 0 {
		return p.Methods
	}
	return defaultVerbMethods
}

func (p ClassRoutePattern) matchesClass(c ast.ClassDef) bool {
	for _, base := range c.Bases {
		for _, want := range p.Bases {
			if base == want {
				return true
			}
		}
	}
	return false
}

// RegistrationCallPattern matches module-scope registration calls like
// api.add_resource(ClassName, "/path"), emitting one entrypoint per
// handler method the class defines.
type RegistrationCallPattern struct {
	// Callees lists matching bare callee names ("add_resource").
	Callees []string `yaml:"callees"`

	// ClassArg is the positional slot holding the handler class name.
	ClassArg int `yaml:"class_arg"`

	// PathArg is the positional slot holding the path template; -1 if none.
	PathArg int `yaml:"path_arg"`
}

func (p RegistrationCallPattern) matches(c ast.CallSite) bool {
	for _, name := range p.Callees {
		if c.CalleeBareName == name {
			return true
		}
	}
	return false
}

// HandlerPattern matches global exception handler registrations: either a
// decorator (@app.errorhandler(Exc)) or a module-scope call
// (app.add_exception_handler(Exc, fn)).
type HandlerPattern struct {
	// Decorators lists matching decorator attribute names ("errorhandler",
	// "exception_handler").
	Decorators []string `yaml:"decorators,omitempty"`

	// Callees lists matching registration-call bare names
	// ("add_exception_handler").
	Callees []string `yaml:"callees,omitempty"`
}

func (p HandlerPattern) matchesDecorator(d ast.Decorator) bool {
	attr := lastSegment(d.Name)
	for _, want := range p.Decorators {
		if attr == want {
			return true
		}
	}
	return false
}

func (p HandlerPattern) matchesCall(c ast.CallSite) bool {
	for _, want := range p.Callees {
		if c.CalleeBareName == want {
			return true
		}
	}
	return false
}

// normalizeMethodList turns a methods kwarg literal like ["GET", "POST"]
// into "GET,POST".
func normalizeMethodList(raw string) string {
	raw = strings.Trim(raw, "[]")
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.Trim(strings.TrimSpace(p), `"'`))
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}

func lastSegment(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return name
}
