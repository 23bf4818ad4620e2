// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/exctrace/analyzer/ast"
	"github.com/AleutianAI/exctrace/analyzer/detect"
	"github.com/AleutianAI/exctrace/analyzer/model"
	"github.com/AleutianAI/exctrace/analyzer/propagate"
)

// newEngine builds a model over inline sources and wires a query engine.
func newEngine(t *testing.T, files map[string]string) *Engine {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	m, err := model.Build(context.Background(), root,
		model.WithDetectors(detect.Builtin()...))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return NewEngine(m, propagate.NewSession(m))
}

func TestFindRaises(t *testing.T) {
	e := newEngine(t, map[string]string{
		"a.py": `class MyErr(ValueError):
    pass

def f():
    raise ValueError()

def g():
    raise MyErr()
`,
	})

	t.Run("exact", func(t *testing.T) {
		res := e.FindRaises("ValueError", false)
		if len(res.Sites) != 1 || res.Sites[0].Function.Qualified() != "f" {
			t.Errorf("sites = %+v", res.Sites)
		}
	})

	t.Run("with subclasses", func(t *testing.T) {
		res := e.FindRaises("ValueError", true)
		if len(res.Sites) != 2 {
			t.Errorf("sites = %+v, want raises of ValueError and MyErr", res.Sites)
		}
	})
}

func TestFindCatches_Direction(t *testing.T) {
	e := newEngine(t, map[string]string{
		"a.py": `class MyErr(ValueError):
    pass

def base_catcher():
    try:
        work()
    except ValueError:
        pass

def sub_catcher():
    try:
        work()
    except MyErr:
        pass
`,
	})

	// Querying the subclass matches the base-class catcher, marked
	// indirect.
	res := e.FindCatches("MyErr", false)
	foundBase := false
	for _, m := range res.Matches {
		if m.Site.Function.Qualified() == "base_catcher" {
			foundBase = true
			if m.Direct {
				t.Error("base-class catch must not be marked direct")
			}
			if m.MatchedType != "ValueError" {
				t.Errorf("matched type = %q", m.MatchedType)
			}
		}
		if m.Site.Function.Qualified() == "sub_catcher" && !m.Direct {
			t.Error("exact catch must be marked direct")
		}
	}
	if !foundBase {
		t.Error("catching a base class must match a subclass query")
	}

	// The reverse direction requires the subclasses flag.
	res = e.FindCatches("ValueError", false)
	for _, m := range res.Matches {
		if m.Site.Function.Qualified() == "sub_catcher" {
			t.Error("subclass catch site must not match without the flag")
		}
	}
	res = e.FindCatches("ValueError", true)
	found := false
	for _, m := range res.Matches {
		if m.Site.Function.Qualified() == "sub_catcher" {
			found = true
		}
	}
	if !found {
		t.Error("subclass catch site must match with the flag")
	}
}

func TestFindCallers(t *testing.T) {
	e := newEngine(t, map[string]string{
		"a.py": "def leaf():\n    pass\n",
		"b.py": "from a import leaf\n\ndef mid():\n    leaf()\n\ndef top():\n    mid()\n",
	})
	leaf := ast.MakeFunctionKey("a.py", "leaf")

	direct := e.FindCallers(leaf, propagate.ModeDefault, false)
	if len(direct.Callers) != 1 || direct.Callers[0].Caller.Qualified() != "mid" {
		t.Fatalf("direct callers = %+v", direct.Callers)
	}

	recursive := e.FindCallers(leaf, propagate.ModeDefault, true)
	if len(recursive.Callers) != 2 {
		t.Fatalf("recursive callers = %+v", recursive.Callers)
	}
	if recursive.Callers[1].Caller.Qualified() != "top" || recursive.Callers[1].Depth != 2 {
		t.Errorf("transitive caller = %+v", recursive.Callers[1])
	}

	// top -> mid is a name-fallback edge (same-file bare call), so strict
	// mode drops it.
	strict := e.FindCallers(ast.MakeFunctionKey("b.py", "mid"), propagate.ModeStrict, false)
	if len(strict.Callers) != 0 {
		t.Errorf("strict callers = %+v, want none", strict.Callers)
	}
}

func TestTrace_CycleAndAnnotations(t *testing.T) {
	e := newEngine(t, map[string]string{
		"a.py": `def ping():
    pong()
    raise ValueError()

def pong():
    ping()
`,
	})
	res := e.Trace(ast.MakeFunctionKey("a.py", "ping"), propagate.ModeDefault)

	root := res.Root
	if root == nil || len(root.Children) == 0 {
		t.Fatal("trace tree empty")
	}
	if len(root.DirectRaises) != 1 || root.DirectRaises[0] != "ValueError" {
		t.Errorf("root direct raises = %v", root.DirectRaises)
	}

	// ping -> pong -> ping must terminate in a revisit stub.
	pong := root.Children[0]
	if pong.Function.Qualified() != "pong" {
		t.Fatalf("first child = %s", pong.Function)
	}
	if len(pong.Children) != 1 || !pong.Children[0].Revisit {
		t.Errorf("cycle not broken with a revisit stub: %+v", pong.Children)
	}
}

func TestAudit_Buckets(t *testing.T) {
	// S5 shape plus a global handler and an uncaught escape.
	e := newEngine(t, map[string]string{
		"app.py": `from fwk import HTTPException

class AppError(Exception):
    pass

@app.exception_handler(AppError)
def handle_app_error(exc):
    pass

@router.get("/handled")
def handled():
    raise HTTPException(404)

@router.get("/custom")
def custom():
    raise AppError()

@router.get("/broken")
def broken():
    raise KeyError()
`,
	})

	fw, ok := detect.ByName("fastapi")
	if !ok {
		t.Fatal("fastapi framework missing")
	}
	res := e.Audit(fw, propagate.ModeDefault, nil)

	if res.Passed {
		t.Error("audit must fail: /broken leaks KeyError")
	}

	buckets := map[string]AuditBucket{}
	for _, ep := range res.Entrypoints {
		for _, exc := range ep.Escapes {
			buckets[ep.Entrypoint.Function+"/"+exc.Exception] = exc.Bucket
		}
	}
	tests := []struct {
		key  string
		want AuditBucket
	}{
		{"handled/HTTPException", BucketFrameworkHandled},
		{"custom/AppError", BucketGlobalHandler},
		{"broken/KeyError", BucketUncaught},
	}
	for _, tt := range tests {
		if got := buckets[tt.key]; got != tt.want {
			t.Errorf("bucket[%s] = %s, want %s (all: %v)", tt.key, got, tt.want, buckets)
		}
	}
}

func TestAudit_HandledBaseClasses(t *testing.T) {
	e := newEngine(t, map[string]string{
		"app.py": `class Handled(Exception):
    pass

class Specific(Handled):
    pass

@router.get("/x")
def h():
    raise Specific()
`,
	})
	fw, _ := detect.ByName("fastapi")

	res := e.Audit(fw, propagate.ModeDefault, []string{"Handled"})
	if !res.Passed {
		t.Fatalf("configured handled base class must make the audit pass: %+v", res.Entrypoints)
	}
	for _, ep := range res.Entrypoints {
		for _, exc := range ep.Escapes {
			if exc.Bucket != BucketFrameworkHandled {
				t.Errorf("bucket = %s, want framework-handled", exc.Bucket)
			}
		}
	}
}

func TestRoutesTo(t *testing.T) {
	e := newEngine(t, map[string]string{
		"app.py": `class MyErr(ValueError):
    pass

@router.get("/a")
def a():
    raise MyErr()

@router.get("/b")
def b():
    pass
`,
	})

	res := e.RoutesTo("fastapi", "ValueError", true, propagate.ModeDefault)
	if len(res.Routes) != 1 {
		t.Fatalf("routes = %+v, want just /a", res.Routes)
	}
	if res.Routes[0].Entrypoint.Metadata["path"] != "/a" {
		t.Errorf("route = %+v", res.Routes[0])
	}

	exact := e.RoutesTo("fastapi", "ValueError", false, propagate.ModeDefault)
	if len(exact.Routes) != 0 {
		t.Errorf("exact match must not include the MyErr route: %+v", exact.Routes)
	}
}

func TestExceptionHierarchyAndSubclasses(t *testing.T) {
	e := newEngine(t, map[string]string{
		"errs.py": "class AppError(Exception):\n    pass\n\nclass DBError(AppError):\n    pass\n",
	})

	hier := e.ExceptionHierarchy()
	var app *HierarchyEntry
	for i := range hier.Exceptions {
		if hier.Exceptions[i].Name == "AppError" {
			app = &hier.Exceptions[i]
		}
	}
	if app == nil {
		t.Fatal("AppError missing from hierarchy listing")
	}
	if app.Builtin || app.File != "errs.py" {
		t.Errorf("AppError entry = %+v", app)
	}

	subs := e.Subclasses("AppError")
	if len(subs.Subclasses) != 1 || subs.Subclasses[0] != "DBError" {
		t.Errorf("subclasses = %v", subs.Subclasses)
	}
}

func TestCLIEntrypointResolution(t *testing.T) {
	e := newEngine(t, map[string]string{
		"tool.py": `def main():
    raise RuntimeError()

if __name__ == "__main__":
    main()
`,
	})

	eps := e.Entrypoints("cli")
	if len(eps.Entrypoints) != 1 {
		t.Fatalf("entrypoints = %+v", eps.Entrypoints)
	}
	key, ok := e.resolveEntrypoint(eps.Entrypoints[0])
	if !ok {
		t.Fatal("cli entrypoint did not resolve")
	}
	if key != ast.MakeFunctionKey("tool.py", ast.ModuleFunctionName) {
		t.Errorf("resolved to %s", key)
	}
}
