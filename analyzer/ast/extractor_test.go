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
	"context"
	"strings"
	"testing"
)

// extract is a test helper running the extractor over inline source.
func extract(t *testing.T, filePath, source string) *FileExtraction {
	t.Helper()
	fx, err := NewExtractor().Extract(context.Background(), []byte(source), filePath)
	if err != nil {
		t.Fatalf("Extract(%s): %v", filePath, err)
	}
	return fx
}

func findFunction(fx *FileExtraction, qualified string) (FunctionDef, bool) {
	for _, fn := range fx.Functions {
		if fn.Qualified == qualified {
			return fn, true
		}
	}
	return FunctionDef{}, false
}

func TestExtract_FunctionsAndClasses(t *testing.T) {
	src := `
class Svc:
    def run(self):
        pass

    class Inner:
        def hop(self):
            pass

def top(x: int) -> str:
    def nested():
        pass
    return ""
`
	fx := extract(t, "svc.py", src)

	wantQualified := []string{"Svc.run", "Svc.Inner.hop", "top", "top.nested"}
	for _, q := range wantQualified {
		if _, ok := findFunction(fx, q); !ok {
			t.Errorf("missing function %q; got %+v", q, fx.Functions)
		}
	}

	run, _ := findFunction(fx, "Svc.run")
	if run.Class != "Svc" {
		t.Errorf("Svc.run class = %q, want Svc", run.Class)
	}
	top, _ := findFunction(fx, "top")
	if top.Class != "" {
		t.Errorf("top class = %q, want empty", top.Class)
	}
	if top.ReturnType != "str" {
		t.Errorf("top return type = %q, want str", top.ReturnType)
	}

	if len(fx.Classes) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(fx.Classes))
	}
	if fx.Classes[0].Qualified != "Svc" || fx.Classes[1].Qualified != "Svc.Inner" {
		t.Errorf("class qualified names wrong: %+v", fx.Classes)
	}
}

func TestExtract_ClassBases(t *testing.T) {
	src := `
class MyErr(ValueError):
    pass

class Qualified(exceptions.HTTPError):
    pass

class Parameterized(Generic[T], Base):
    pass
`
	fx := extract(t, "errors.py", src)

	tests := []struct {
		name  string
		bases []string
	}{
		{"MyErr", []string{"ValueError"}},
		{"Qualified", []string{"HTTPError"}},
		{"Parameterized", []string{"Generic", "Base"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, cls := range fx.Classes {
				if cls.Name != tt.name {
					continue
				}
				if len(cls.Bases) != len(tt.bases) {
					t.Fatalf("bases = %v, want %v", cls.Bases, tt.bases)
				}
				for i := range tt.bases {
					if cls.Bases[i] != tt.bases[i] {
						t.Errorf("base[%d] = %q, want %q", i, cls.Bases[i], tt.bases[i])
					}
				}
				return
			}
			t.Fatalf("class %q not extracted", tt.name)
		})
	}
}

func TestExtract_Imports(t *testing.T) {
	src := `
import pkg.mod
import numpy as np
from a import f
from pkg.sub import g as h, j
from . import sibling
`
	fx := extract(t, "pkg/user.py", src)

	want := map[string]string{
		"pkg.mod": "pkg.mod",
		"mod":     "pkg.mod",
		"np":      "numpy",
		"f":       "a.f",
		"h":       "pkg.sub.g",
		"j":       "pkg.sub.j",
		"sibling": "pkg.sibling",
	}
	for local, origin := range want {
		if got := fx.Imports[local]; got != origin {
			t.Errorf("import %q = %q, want %q", local, got, origin)
		}
	}
}

func TestExtract_RaiseSites(t *testing.T) {
	src := `
from errs import CustomError

def direct():
    raise ValueError("x")

def qualified():
    raise errs.OtherError()

def imported():
    raise CustomError("y")

def preconstructed():
    e = CustomError("z")
    raise e
`
	fx := extract(t, "a.py", src)

	byFunc := map[string]RaiseSite{}
	for _, r := range fx.Raises {
		byFunc[r.Function.Qualified()] = r
	}

	tests := []struct {
		fn   string
		exc  string
	}{
		{"direct", "ValueError"},
		{"qualified", "OtherError"},
		{"imported", "CustomError"},
		{"preconstructed", "CustomError"},
	}
	for _, tt := range tests {
		site, ok := byFunc[tt.fn]
		if !ok {
			t.Errorf("no raise site for %s", tt.fn)
			continue
		}
		if site.ExceptionType != tt.exc {
			t.Errorf("%s raises %q, want %q", tt.fn, site.ExceptionType, tt.exc)
		}
		if site.IsReraise {
			t.Errorf("%s marked reraise", tt.fn)
		}
	}
}

func TestExtract_ReraiseContext(t *testing.T) {
	src := `
def f():
    try:
        risky()
    except KeyError as e:
        raise

def g():
    try:
        risky()
    except KeyError as e:
        raise e

def h():
    try:
        risky()
    except KeyError:
        raise ValueError("wrapped")
`
	fx := extract(t, "a.py", src)

	var reraises, fresh []RaiseSite
	for _, r := range fx.Raises {
		if r.IsReraise {
			reraises = append(reraises, r)
		} else {
			fresh = append(fresh, r)
		}
	}
	if len(reraises) != 2 {
		t.Fatalf("expected 2 reraise sites, got %d: %+v", len(reraises), fx.Raises)
	}
	for _, r := range reraises {
		if r.ExceptionType != "e" {
			t.Errorf("reraise type = %q, want bound name e", r.ExceptionType)
		}
	}
	if len(fresh) != 1 || fresh[0].ExceptionType != "ValueError" {
		t.Errorf("fresh raises = %+v, want one ValueError", fresh)
	}

	// The re-raising clauses must be flagged; the wrapping clause must not.
	var flagged int
	for _, c := range fx.Catches {
		if c.Reraises {
			flagged++
		}
	}
	if flagged != 2 {
		t.Errorf("expected 2 reraising catch clauses, got %d", flagged)
	}
}

func TestExtract_CatchSites(t *testing.T) {
	src := `
def f():
    try:
        work()
    except (ValueError, KeyError) as e:
        handle(e)
    except OSError:
        pass
    except:
        pass
`
	fx := extract(t, "a.py", src)

	if len(fx.Catches) != 3 {
		t.Fatalf("expected 3 catch sites, got %d: %+v", len(fx.Catches), fx.Catches)
	}

	first := fx.Catches[0]
	if len(first.CaughtTypes) != 2 || first.CaughtTypes[0] != "ValueError" || first.CaughtTypes[1] != "KeyError" {
		t.Errorf("tuple clause caught %v", first.CaughtTypes)
	}
	if first.BoundName != "e" {
		t.Errorf("bound name = %q, want e", first.BoundName)
	}

	last := fx.Catches[2]
	if len(last.CaughtTypes) != 1 || last.CaughtTypes[0] != CatchAll {
		t.Errorf("bare except caught %v, want sentinel", last.CaughtTypes)
	}

	// All three clauses protect the same try body.
	for _, c := range fx.Catches[1:] {
		if c.TryStartLine != first.TryStartLine || c.TryEndLine != first.TryEndLine {
			t.Errorf("clause spans differ: %+v vs %+v", c, first)
		}
	}
}

func TestExtract_CallResolution(t *testing.T) {
	src := `
from a import f
import http_client

class Svc:
    def run(self):
        self._step()

    def _step(self):
        pass

def use():
    f()
    http_client.get("u")
    s = Svc()
    s.run()
    (lambda: 1)()
`
	fx := extract(t, "svc.py", src)

	type want struct {
		bare       string
		callee     string
		resolution ResolutionKind
		method     bool
	}
	wants := []want{
		{"f", "a.f", ResolutionImport, false},
		{"get", "http_client.get", ResolutionImport, true},
		{"Svc", "svc.py::Svc.__init__", ResolutionConstructor, false},
		{"run", "svc.py::Svc.run", ResolutionConstructor, true},
		{"_step", "svc.py::Svc._step", ResolutionSelf, true},
	}
	for _, wnt := range wants {
		found := false
		for _, c := range fx.Calls {
			if c.CalleeBareName == wnt.bare && c.Callee == wnt.callee {
				found = true
				if c.Resolution != wnt.resolution {
					t.Errorf("%s resolution = %s, want %s", wnt.bare, c.Resolution, wnt.resolution)
				}
				if c.IsMethodCall != wnt.method {
					t.Errorf("%s method flag = %v, want %v", wnt.bare, c.IsMethodCall, wnt.method)
				}
				break
			}
		}
		if !found {
			t.Errorf("missing call %s -> %s; calls: %+v", wnt.bare, wnt.callee, fx.Calls)
		}
	}

	// The lambda call's function position is not a name or attribute.
	for _, c := range fx.Calls {
		if strings.Contains(c.CalleeBareName, "lambda") {
			t.Errorf("lambda call should not emit a call site: %+v", c)
		}
	}
}

func TestExtract_AnnotatedParamBinding(t *testing.T) {
	src := `
class Repo:
    def save(self):
        pass

def use(r: Repo):
    r.save()
`
	fx := extract(t, "repo.py", src)

	for _, c := range fx.Calls {
		if c.CalleeBareName == "save" {
			if c.Callee != "repo.py::Repo.save" {
				t.Errorf("save callee = %q", c.Callee)
			}
			if c.Resolution != ResolutionConstructor {
				t.Errorf("save resolution = %s, want constructor", c.Resolution)
			}
			return
		}
	}
	t.Fatal("save call not extracted")
}

func TestExtract_ReturnTypeBinding(t *testing.T) {
	src := `
class Conn:
    def query(self):
        pass

def connect() -> Conn:
    return Conn()

def use():
    c = connect()
    c.query()
`
	fx := extract(t, "db.py", src)

	for _, c := range fx.Calls {
		if c.CalleeBareName == "query" {
			if c.Callee != "db.py::Conn.query" {
				t.Errorf("query callee = %q", c.Callee)
			}
			if c.Resolution != ResolutionReturnType {
				t.Errorf("query resolution = %s, want return_type", c.Resolution)
			}
			return
		}
	}
	t.Fatal("query call not extracted")
}

func TestExtract_DecoratorsEmitNoCallSites(t *testing.T) {
	src := `
@app.get("/x")
def handler():
    pass
`
	fx := extract(t, "web.py", src)

	if len(fx.Calls) != 0 {
		t.Errorf("decorator emitted call sites: %+v", fx.Calls)
	}
	fn, ok := findFunction(fx, "handler")
	if !ok {
		t.Fatal("handler not extracted")
	}
	if len(fn.Decorators) != 1 || fn.Decorators[0].Name != "app.get" {
		t.Fatalf("decorators = %+v", fn.Decorators)
	}
	if len(fn.Decorators[0].Args) != 1 || fn.Decorators[0].Args[0] != "/x" {
		t.Errorf("decorator args = %v, want [/x]", fn.Decorators[0].Args)
	}
}

func TestExtract_MainGuard(t *testing.T) {
	src := `
import sys

def main():
    pass

if __name__ == "__main__":
    main()
`
	fx := extract(t, "tool.py", src)

	if !fx.HasMainGuard {
		t.Fatal("main guard not detected")
	}
	if _, ok := findFunction(fx, ModuleFunctionName); !ok {
		t.Error("module-level synthetic function not recorded")
	}
	// The guarded call attributes to module scope.
	for _, c := range fx.Calls {
		if c.CalleeBareName == "main" && c.Caller != fx.ModuleKey() {
			t.Errorf("guarded call attributed to %s", c.Caller)
		}
	}
}

func TestExtract_ParseFailureIsNotFatal(t *testing.T) {
	fx := extract(t, "broken.py", "def broken(:\n")
	if len(fx.Diagnostics) == 0 {
		t.Error("expected a diagnostic for syntactically invalid source")
	}
}

func TestExtract_RejectsOversizedAndBinary(t *testing.T) {
	ex := NewExtractor(WithMaxFileSize(8))
	if _, err := ex.Extract(context.Background(), []byte("0123456789"), "big.py"); err == nil {
		t.Error("expected ErrFileTooLarge")
	}
	if _, err := NewExtractor().Extract(context.Background(), []byte{0xff, 0xfe, 0x00}, "bin.py"); err == nil {
		t.Error("expected ErrInvalidContent")
	}
}

func TestFunctionKey_Parts(t *testing.T) {
	key := MakeFunctionKey("pkg/svc.py", "Svc.run")
	if key.File() != "pkg/svc.py" {
		t.Errorf("File() = %q", key.File())
	}
	if key.Qualified() != "Svc.run" {
		t.Errorf("Qualified() = %q", key.Qualified())
	}
	if key.Name() != "run" {
		t.Errorf("Name() = %q", key.Name())
	}
	if !key.IsFull() {
		t.Error("IsFull() = false")
	}
}

func TestModulePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a.py", "a"},
		{"pkg/mod.py", "pkg.mod"},
		{"pkg/__init__.py", "pkg"},
	}
	for _, tt := range tests {
		if got := ModulePath(tt.path); got != tt.want {
			t.Errorf("ModulePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
