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

import "github.com/AleutianAI/exctrace/analyzer/ast"

// Flask returns the built-in Flask framework detector.
func Flask() *Framework {
	return &Framework{
		Tag: "flask",
		DecoratorRoutes: []DecoratorRoutePattern{
			{
				Attributes:   []string{"route"},
				PathArg:      0,
				MethodsKwarg: "methods",
			},
			{
				Attributes:          []string{"get", "post", "put", "delete", "patch"},
				PathArg:             0,
				MethodFromAttribute: true,
			},
		},
		ClassRoutes: []ClassRoutePattern{
			{Bases: []string{"MethodView", "Resource"}},
		},
		RegistrationCalls: []RegistrationCallPattern{
			{Callees: []string{"add_resource"}, ClassArg: 0, PathArg: 1},
		},
		Handlers: []HandlerPattern{
			{Decorators: []string{"errorhandler", "app_errorhandler"}},
			{Callees: []string{"register_error_handler"}},
		},
		ExceptionResponses: map[string]string{
			"HTTPException": "HTTP 4xx/5xx response",
			"abort":         "HTTP 4xx/5xx response",
		},
	}
}

// FastAPI returns the built-in FastAPI framework detector.
func FastAPI() *Framework {
	return &Framework{
		Tag: "fastapi",
		DecoratorRoutes: []DecoratorRoutePattern{
			{
				Attributes:          []string{"get", "post", "put", "delete", "patch", "head", "options", "trace", "websocket"},
				PathArg:             0,
				PathKwarg:           "path",
				MethodFromAttribute: true,
			},
			{
				Attributes:   []string{"api_route", "route"},
				PathArg:      0,
				PathKwarg:    "path",
				MethodsKwarg: "methods",
			},
		},
		Handlers: []HandlerPattern{
			{Decorators: []string{"exception_handler"}},
			{Callees: []string{"add_exception_handler"}},
		},
		ExceptionResponses: map[string]string{
			"HTTPException":          "HTTP 4xx/5xx response",
			"RequestValidationError": "HTTP 422 response",
			"ValidationError":        "HTTP 422 response",
			"WebSocketException":     "websocket close frame",
		},
	}
}

// Django returns the built-in Django / Django REST framework detector.
func Django() *Framework {
	return &Framework{
		Tag: "django",
		ClassRoutes: []ClassRoutePattern{
			{Bases: []string{"APIView", "ViewSet", "ModelViewSet", "GenericAPIView", "View"}},
		},
		Handlers: []HandlerPattern{
			{Callees: []string{"handler400", "handler403", "handler404", "handler500"}},
		},
		ExceptionResponses: map[string]string{
			"Http404":         "HTTP 404 response",
			"APIException":    "HTTP 4xx/5xx response",
			"PermissionDenied": "HTTP 403 response",
			"ValidationError": "HTTP 400 response",
			"SuspiciousOperation": "HTTP 400 response",
		},
	}
}

// CLIScript is the detector for plain scripts: any file with an
// `if __name__ == "__main__":` guard is an entrypoint whose function is the
// synthetic module-level record.
type CLIScript struct{}

// Name returns the detector tag.
func (CLIScript) Name() string { return "cli" }

// DetectEntrypoints emits one cli-script entrypoint per guarded file.
func (CLIScript) DetectEntrypoints(fx *ast.FileExtraction) []ast.Entrypoint {
	if !fx.HasMainGuard {
		return nil
	}
	return []ast.Entrypoint{{
		File:     fx.FilePath,
		Line:     fx.MainGuardLine,
		Function: ast.ModuleFunctionName,
		Kind:     ast.EntrypointCLIScript,
		Metadata: map[string]string{"framework": "cli"},
	}}
}

// DetectGlobalHandlers returns nothing; scripts have no framework handlers.
func (CLIScript) DetectGlobalHandlers(*ast.FileExtraction) []ast.GlobalHandler { return nil }

// Builtin returns the full built-in detector set in a stable order.
func Builtin() []ast.Detector {
	return []ast.Detector{Flask(), FastAPI(), Django(), CLIScript{}}
}

// ByName returns the built-in framework with the given tag.
func ByName(name string) (*Framework, bool) {
	for _, f := range []*Framework{Flask(), FastAPI(), Django()} {
		if f.Tag == name {
			return f, true
		}
	}
	return nil, false
}
