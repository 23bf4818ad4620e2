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
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Detector classifies decorators, class bases, and registration calls in a
// finished FileExtraction as entrypoints or global handlers. Implementations
// live in the detect package; the extractor only invokes them.
type Detector interface {
	// Name returns the framework tag written into entrypoint metadata.
	Name() string

	// DetectEntrypoints returns the entrypoints this detector recognizes in
	// the extraction.
	DetectEntrypoints(fx *FileExtraction) []Entrypoint

	// DetectGlobalHandlers returns the framework-level exception handlers
	// this detector recognizes in the extraction.
	DetectGlobalHandlers(fx *FileExtraction) []GlobalHandler
}

// ExtractorOption configures an Extractor instance.
type ExtractorOption func(*Extractor)

// WithMaxFileSize sets the maximum source size the extractor will accept.
func WithMaxFileSize(bytes int64) ExtractorOption {
	return func(e *Extractor) {
		if bytes > 0 {
			e.maxFileSize = bytes
		}
	}
}

// WithDetectors sets the detector set run after each extraction.
func WithDetectors(detectors ...Detector) ExtractorOption {
	return func(e *Extractor) {
		e.detectors = detectors
	}
}

// Extractor converts one Python source file into a FileExtraction.
//
// Description:
//
//	Extractor performs a single tree-sitter CST traversal per file,
//	maintaining a scope stack (classes and functions), a per-scope local
//	type environment, the file's import map, and the re-raise context of
//	open except clauses. The traversal emits the typed fact tables the
//	propagator consumes: function and class definitions, raise sites,
//	catch sites, and partially resolved call sites.
//
// Thread Safety:
//
//	Extractor instances are safe for concurrent use. Each Extract call
//	creates its own tree-sitter parser and traversal state.
type Extractor struct {
	maxFileSize int64
	detectors   []Detector
}

// NewExtractor creates a new Extractor with the given options.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract parses Python source and produces a FileExtraction.
//
// Description:
//
//	Parse failures are not fatal. Source with syntax errors is still
//	walked: the error-tolerant parse yields whatever facts it recovers,
//	plus a diagnostic. A parse that produces no tree at all yields an
//	empty FileExtraction with a diagnostic. Either way the surrounding
//	analysis run continues. Hard errors are returned only for inputs the extractor
//	refuses outright (oversized files, invalid UTF-8, canceled context).
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing.
//   - content: Raw Python source bytes. Must be valid UTF-8.
//   - filePath: Path relative to the analysis root, forward slashes.
//
// Outputs:
//   - *FileExtraction: The extracted fact tables. Never nil on success.
//   - error: ErrFileTooLarge, ErrInvalidContent, or a context error.
func (e *Extractor) Extract(ctx context.Context, content []byte, filePath string) (*FileExtraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extraction canceled before start: %w", err)
	}

	if int64(len(content)) > e.maxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), e.maxFileSize)
	}
	if len(content) > WarnFileSize {
		slog.Warn("extracting large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extraction canceled after parse: %w", err)
	}

	fx := &FileExtraction{
		FilePath: filePath,
		Imports:  make(map[string]string),
	}

	root := tree.RootNode()
	if root == nil {
		fx.Diagnostics = append(fx.Diagnostics, "tree-sitter returned nil root node")
		return fx, nil
	}
	if root.HasError() {
		fx.Diagnostics = append(fx.Diagnostics, "source contains syntax errors; extraction may be partial")
	}

	w := &walker{
		content:      content,
		filePath:     filePath,
		fx:           fx,
		localClasses: make(map[string]string),
		localReturns: make(map[string]string),
	}
	w.pushEnv() // module-scope type environment

	w.prepass(root)
	w.walk(root)

	w.finishModuleFunction()

	for _, d := range e.detectors {
		fx.Entrypoints = append(fx.Entrypoints, d.DetectEntrypoints(fx)...)
		fx.GlobalHandlers = append(fx.GlobalHandlers, d.DetectGlobalHandlers(fx)...)
	}

	return fx, nil
}

// scopeEntry is one open class or function scope during the walk.
type scopeEntry struct {
	name    string
	isClass bool
}

// typeBinding records the class a local variable holds, and how we learned
// it. File is empty for classes imported from another module, in which case
// Qualified is a dotted module path.
type typeBinding struct {
	file      string
	qualified string
	origin    ResolutionKind // constructor or return_type
}

// exceptCtx is one open except clause during the walk.
type exceptCtx struct {
	boundName string
	catchIdx  int
}

// walker holds the mutable traversal state for one file.
type walker struct {
	content  []byte
	filePath string
	fx       *FileExtraction

	scopes      []scopeEntry
	envStack    []map[string]typeBinding
	exceptStack []exceptCtx

	// localClasses maps a file-local bare class name to its qualified name.
	localClasses map[string]string

	// localReturns maps a file-local function bare name to its return type
	// annotation, for return-type based bindings.
	localReturns map[string]string
}

func (w *walker) text(n *sitter.Node) string {
	return string(w.content[n.StartByte():n.EndByte()])
}

func (w *walker) line(n *sitter.Node) int {
	return int(n.StartPoint().Row + 1)
}

func (w *walker) pushEnv() {
	w.envStack = append(w.envStack, make(map[string]typeBinding))
}

func (w *walker) popEnv() {
	w.envStack = w.envStack[:len(w.envStack)-1]
}

func (w *walker) bind(name string, b typeBinding) {
	w.envStack[len(w.envStack)-1][name] = b
}

// lookup searches the type environment from the innermost scope outward.
func (w *walker) lookup(name string) (typeBinding, bool) {
	for i := len(w.envStack) - 1; i >= 0; i-- {
		if b, ok := w.envStack[i][name]; ok {
			return b, true
		}
	}
	return typeBinding{}, false
}

// qualifiedName joins the open scopes with the given name.
func (w *walker) qualifiedName(name string) string {
	if len(w.scopes) == 0 {
		return name
	}
	parts := make([]string, 0, len(w.scopes)+1)
	for _, s := range w.scopes {
		parts = append(parts, s.name)
	}
	parts = append(parts, name)
	return strings.Join(parts, ".")
}

// enclosingClass returns the dotted class path when the innermost open scope
// is a class body, else "".
func (w *walker) enclosingClass() string {
	if len(w.scopes) == 0 || !w.scopes[len(w.scopes)-1].isClass {
		return ""
	}
	parts := make([]string, 0, len(w.scopes))
	for _, s := range w.scopes {
		if !s.isClass {
			return "" // class nested inside a function body
		}
		parts = append(parts, s.name)
	}
	return strings.Join(parts, ".")
}

// currentFunction returns the key of the innermost open function, or the
// module-level synthetic key when no function is open.
func (w *walker) currentFunction() FunctionKey {
	for i := len(w.scopes) - 1; i >= 0; i-- {
		if !w.scopes[i].isClass {
			parts := make([]string, 0, i+1)
			for _, s := range w.scopes[:i+1] {
				parts = append(parts, s.name)
			}
			return MakeFunctionKey(w.filePath, strings.Join(parts, "."))
		}
	}
	return MakeFunctionKey(w.filePath, ModuleFunctionName)
}

// prepass collects file-local class names and function return annotations so
// that forward references resolve during the main walk.
func (w *walker) prepass(node *sitter.Node) {
	var visit func(n *sitter.Node, classPath []string)
	visit = func(n *sitter.Node, classPath []string) {
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child == nil {
				continue
			}
			switch child.Type() {
			case "class_definition":
				if nameNode := child.ChildByFieldName("name"); nameNode != nil {
					name := w.text(nameNode)
					qualified := strings.Join(append(classPath, name), ".")
					w.localClasses[name] = qualified
					if body := child.ChildByFieldName("body"); body != nil {
						visit(body, append(classPath, name))
					}
				}
			case "function_definition":
				if nameNode := child.ChildByFieldName("name"); nameNode != nil {
					if ret := child.ChildByFieldName("return_type"); ret != nil {
						w.localReturns[w.text(nameNode)] = w.text(ret)
					}
				}
				// Nested definitions inside function bodies are visible only
				// locally; the prepass does not descend into them.
			case "decorated_definition":
				visit(child, classPath)
			default:
				if len(classPath) == 0 {
					visit(child, classPath)
				}
			}
		}
	}
	visit(node, nil)
}

// walk is the main traversal. Specialized cases manage their own children;
// the default case recurses.
func (w *walker) walk(node *sitter.Node) {
	switch node.Type() {
	case "import_statement":
		w.processImport(node)
		return
	case "import_from_statement":
		w.processImportFrom(node)
		return
	case "class_definition":
		w.processClass(node, nil)
		return
	case "function_definition":
		w.processFunction(node, nil)
		return
	case "decorated_definition":
		w.processDecorated(node)
		return
	case "raise_statement":
		w.processRaise(node)
		return
	case "try_statement":
		w.processTry(node)
		return
	case "call":
		w.processCall(node)
		// fall through to children: nested calls live in arguments and in
		// chained receivers.
	case "assignment":
		w.processAssignment(node)
		// fall through so calls on the right-hand side are emitted.
	case "if_statement":
		w.checkMainGuard(node)
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		if child := node.Child(i); child != nil {
			w.walk(child)
		}
	}
}

// processImport handles `import foo.bar` and `import foo.bar as b`.
func (w *walker) processImport(node *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "dotted_name":
			path := w.text(child)
			w.fx.Imports[path] = path
			if idx := strings.LastIndex(path, "."); idx >= 0 {
				// Trailing segment and full path are both addressable.
				w.fx.Imports[path[idx+1:]] = path
			}
		case "aliased_import":
			var path, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				gc := child.Child(j)
				switch gc.Type() {
				case "dotted_name":
					path = w.text(gc)
				case "identifier":
					alias = w.text(gc)
				}
			}
			if path != "" && alias != "" {
				w.fx.Imports[alias] = path
			}
		}
	}
}

// processImportFrom handles `from x import y [as z]` including relative
// imports and wildcard imports (the latter contribute nothing resolvable).
func (w *walker) processImportFrom(node *sitter.Node) {
	var modulePath string
	sawImport := false

	record := func(name, alias string) {
		origin := modulePath + "." + name
		if modulePath == "" {
			origin = name
		}
		local := name
		if alias != "" {
			local = alias
		}
		w.fx.Imports[local] = origin
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			modulePath = w.resolveRelativeModule(w.text(child))
		case "dotted_name":
			if !sawImport {
				modulePath = w.text(child)
			} else {
				record(w.text(child), "")
			}
		case "identifier":
			if sawImport {
				record(w.text(child), "")
			}
		case "aliased_import":
			var name, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				gc := child.Child(j)
				switch gc.Type() {
				case "dotted_name":
					if name == "" {
						name = w.text(gc)
					}
				case "identifier":
					if name == "" {
						name = w.text(gc)
					} else {
						alias = w.text(gc)
					}
				}
			}
			if name != "" {
				record(name, alias)
			}
		}
	}
}

// resolveRelativeModule converts a relative import prefix like "..sub" into
// an absolute dotted module path based on the current file's package.
func (w *walker) resolveRelativeModule(rel string) string {
	dots := 0
	for dots < len(rel) && rel[dots] == '.' {
		dots++
	}
	rest := rel[dots:]

	pkg := ModulePath(w.filePath)
	parts := strings.Split(pkg, ".")
	// One dot refers to the file's own package; each extra dot climbs one
	// level. The last segment of the module path is the file itself.
	up := dots
	if up > len(parts) {
		up = len(parts)
	}
	base := parts[:len(parts)-up]
	if rest != "" {
		base = append(base, strings.Split(rest, ".")...)
	}
	return strings.Join(base, ".")
}

// processClass records a ClassDef and walks the class body with the class
// scope open.
func (w *walker) processClass(node *sitter.Node, decorators []Decorator) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)
	qualified := w.qualifiedName(name)

	cls := ClassDef{
		File:      w.filePath,
		Line:      w.line(node),
		Name:      name,
		Qualified: qualified,
	}

	if args := node.ChildByFieldName("superclasses"); args != nil {
		for i := 0; i < int(args.ChildCount()); i++ {
			arg := args.Child(i)
			switch arg.Type() {
			case "identifier":
				cls.Bases = append(cls.Bases, w.text(arg))
			case "attribute":
				// Qualified bases are stripped to the trailing segment so
				// that hierarchy lookups stay name-keyed.
				cls.Bases = append(cls.Bases, lastSegment(w.text(arg)))
			case "subscript":
				if base := subscriptBaseName(arg, w.content); base != "" {
					cls.Bases = append(cls.Bases, base)
				}
			}
		}
	}

	// Record the class before walking its body so nested classes follow
	// their enclosing class in declaration order.
	w.fx.Classes = append(w.fx.Classes, cls)
	clsIdx := len(w.fx.Classes) - 1

	w.scopes = append(w.scopes, scopeEntry{name: name, isClass: true})
	w.pushEnv()
	if body := node.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.ChildCount()); i++ {
			if child := body.Child(i); child != nil {
				w.walk(child)
			}
		}
		w.fx.Classes[clsIdx].Methods = w.collectMethodNames(body)
	}
	w.popEnv()
	w.scopes = w.scopes[:len(w.scopes)-1]
}

// collectMethodNames lists the directly defined method names of a class body.
func (w *walker) collectMethodNames(body *sitter.Node) []string {
	var methods []string
	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		def := child
		if child.Type() == "decorated_definition" {
			def = child.ChildByFieldName("definition")
			if def == nil {
				continue
			}
		}
		if def.Type() == "function_definition" {
			if nameNode := def.ChildByFieldName("name"); nameNode != nil {
				methods = append(methods, w.text(nameNode))
			}
		}
	}
	return methods
}

// processFunction records a FunctionDef and walks the body with a fresh
// scope and type environment seeded from annotated parameters.
func (w *walker) processFunction(node *sitter.Node, decorators []Decorator) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)

	def := FunctionDef{
		File:       w.filePath,
		Line:       w.line(node),
		Name:       name,
		Qualified:  w.qualifiedName(name),
		Class:      w.enclosingClass(),
		Decorators: decorators,
	}
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		def.ReturnType = w.text(ret)
	}
	w.fx.Functions = append(w.fx.Functions, def)

	w.scopes = append(w.scopes, scopeEntry{name: name})
	w.pushEnv()
	w.seedParamBindings(node.ChildByFieldName("parameters"))

	if body := node.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.ChildCount()); i++ {
			if child := body.Child(i); child != nil {
				w.walk(child)
			}
		}
	}

	w.popEnv()
	w.scopes = w.scopes[:len(w.scopes)-1]
}

// seedParamBindings binds annotated parameters (x: T) in the fresh scope.
func (w *walker) seedParamBindings(params *sitter.Node) {
	if params == nil {
		return
	}
	for i := 0; i < int(params.ChildCount()); i++ {
		p := params.Child(i)
		if p.Type() != "typed_parameter" && p.Type() != "typed_default_parameter" {
			continue
		}
		var paramName string
		var typeName string
		for j := 0; j < int(p.ChildCount()); j++ {
			c := p.Child(j)
			switch c.Type() {
			case "identifier":
				if paramName == "" {
					paramName = w.text(c)
				}
			case "type":
				typeName = strings.TrimSpace(w.text(c))
			}
		}
		if paramName == "" || typeName == "" {
			continue
		}
		if b, ok := w.resolveClassRef(typeName); ok {
			// The binding reflects intent, not mechanism: calls through it
			// resolve as constructor hops.
			b.origin = ResolutionConstructor
			w.bind(paramName, b)
		}
	}
}

// resolveClassRef resolves a written type name to a class reference through
// file-local classes first, then the import map.
func (w *walker) resolveClassRef(name string) (typeBinding, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return typeBinding{}, false
	}
	if qualified, ok := w.localClasses[lastSegment(name)]; ok {
		return typeBinding{file: w.filePath, qualified: qualified}, true
	}
	head := name
	if idx := strings.Index(name, "."); idx >= 0 {
		head = name[:idx]
	}
	if origin, ok := w.fx.Imports[head]; ok {
		full := origin
		if head != name {
			full = origin + name[len(head):]
		}
		return typeBinding{qualified: full}, true
	}
	return typeBinding{}, false
}

// processDecorated extracts decorators and dispatches to the wrapped
// definition. Decorator expressions do not emit call sites.
func (w *walker) processDecorated(node *sitter.Node) {
	var decorators []Decorator
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "decorator" {
			if d, ok := w.parseDecorator(child); ok {
				decorators = append(decorators, d)
			}
		}
	}

	def := node.ChildByFieldName("definition")
	if def == nil {
		return
	}
	switch def.Type() {
	case "function_definition":
		w.processFunction(def, decorators)
	case "class_definition":
		w.processClass(def, decorators)
	}
}

// parseDecorator reads one decorator node into a Decorator record.
func (w *walker) parseDecorator(node *sitter.Node) (Decorator, bool) {
	d := Decorator{Line: w.line(node)}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier", "attribute":
			d.Name = w.text(child)
		case "call":
			fn := child.ChildByFieldName("function")
			if fn != nil {
				d.Name = w.text(fn)
			}
			if args := child.ChildByFieldName("arguments"); args != nil {
				for j := 0; j < int(args.ChildCount()); j++ {
					arg := args.Child(j)
					switch arg.Type() {
					case "string":
						d.Args = append(d.Args, stripQuotes(w.text(arg)))
					case "identifier", "attribute", "integer", "float":
						d.Args = append(d.Args, w.text(arg))
					case "list":
						d.Args = append(d.Args, w.text(arg))
					case "keyword_argument":
						nameNode := arg.ChildByFieldName("name")
						valueNode := arg.ChildByFieldName("value")
						if nameNode != nil && valueNode != nil {
							if d.Kwargs == nil {
								d.Kwargs = make(map[string]string)
							}
							d.Kwargs[w.text(nameNode)] = stripQuotes(w.text(valueNode))
						}
					}
				}
			}
		}
	}
	if d.Name == "" {
		return d, false
	}
	return d, true
}

// processRaise emits a RaiseSite for one raise statement.
func (w *walker) processRaise(node *sitter.Node) {
	site := RaiseSite{
		File:     w.filePath,
		Line:     w.line(node),
		Function: w.currentFunction(),
	}

	var target *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		t := child.Type()
		if t == "raise" || t == "from" || t == "comment" {
			continue
		}
		if target == nil {
			target = child
		}
		// A `raise X from Y` cause expression is ignored.
		break
	}

	switch {
	case target == nil:
		// Bare raise: re-raises the innermost open handler's exception.
		if len(w.exceptStack) == 0 {
			return // bare raise outside any handler is a runtime error; skip
		}
		top := &w.exceptStack[len(w.exceptStack)-1]
		site.ExceptionType = top.boundName
		site.IsReraise = true
		w.fx.Catches[top.catchIdx].Reraises = true

	case target.Type() == "call":
		fn := target.ChildByFieldName("function")
		if fn == nil {
			return
		}
		site.ExceptionType = lastSegment(w.text(fn))

	case target.Type() == "identifier":
		name := w.text(target)
		if idx, ok := w.openHandlerBinding(name); ok {
			site.ExceptionType = name
			site.IsReraise = true
			w.fx.Catches[idx].Reraises = true
			break
		}
		if b, ok := w.lookup(name); ok {
			// Raising a pre-constructed exception instance.
			site.ExceptionType = lastSegment(b.qualified)
		} else {
			site.ExceptionType = name
		}

	case target.Type() == "attribute":
		site.ExceptionType = lastSegment(w.text(target))

	default:
		return // raise of an arbitrary expression carries no usable name
	}

	w.fx.Raises = append(w.fx.Raises, site)
}

// openHandlerBinding reports whether name is the bound name of any open
// except clause, returning the clause's catch-site index.
func (w *walker) openHandlerBinding(name string) (int, bool) {
	for i := len(w.exceptStack) - 1; i >= 0; i-- {
		if w.exceptStack[i].boundName == name {
			return w.exceptStack[i].catchIdx, true
		}
	}
	return 0, false
}

// processTry walks a try statement: the protected body, then each except
// clause with the re-raise context open, then else/finally blocks.
func (w *walker) processTry(node *sitter.Node) {
	body := node.ChildByFieldName("body")
	if body != nil {
		for i := 0; i < int(body.ChildCount()); i++ {
			if child := body.Child(i); child != nil {
				w.walk(child)
			}
		}
	}

	tryStart, tryEnd := 0, 0
	if body != nil {
		tryStart = int(body.StartPoint().Row + 1)
		tryEnd = int(body.EndPoint().Row + 1)
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "except_clause", "except_group_clause":
			// except* group sub-handlers are modeled as ordinary clauses.
			w.processExceptClause(child, tryStart, tryEnd)
		case "else_clause", "finally_clause":
			for j := 0; j < int(child.ChildCount()); j++ {
				if gc := child.Child(j); gc != nil && gc.Type() == "block" {
					for k := 0; k < int(gc.ChildCount()); k++ {
						if stmt := gc.Child(k); stmt != nil {
							w.walk(stmt)
						}
					}
				}
			}
		}
	}
}

// processExceptClause emits a CatchSite and walks the handler body inside
// the re-raise context.
func (w *walker) processExceptClause(node *sitter.Node, tryStart, tryEnd int) {
	site := CatchSite{
		File:         w.filePath,
		Line:         w.line(node),
		Function:     w.currentFunction(),
		TryStartLine: tryStart,
		TryEndLine:   tryEnd,
	}

	var body *sitter.Node
	sawAs := false
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "except", "except*", ":", "comment":
			// keywords and punctuation
		case "as":
			sawAs = true
		case "identifier":
			if sawAs {
				site.BoundName = w.text(child)
			} else {
				site.CaughtTypes = append(site.CaughtTypes, w.catchTypeName(w.text(child)))
			}
		case "attribute":
			site.CaughtTypes = append(site.CaughtTypes, lastSegment(w.text(child)))
		case "tuple", "parenthesized_expression", "expression_list":
			w.collectCaughtTypes(child, &site.CaughtTypes)
		case "as_pattern":
			// `except X as e` parses as an as_pattern node.
			w.parseAsPattern(child, &site)
		case "block":
			body = child
		}
	}

	if len(site.CaughtTypes) == 0 {
		site.CaughtTypes = []string{CatchAll}
	}

	w.fx.Catches = append(w.fx.Catches, site)
	catchIdx := len(w.fx.Catches) - 1

	if body != nil {
		w.exceptStack = append(w.exceptStack, exceptCtx{boundName: site.BoundName, catchIdx: catchIdx})
		for i := 0; i < int(body.ChildCount()); i++ {
			if child := body.Child(i); child != nil {
				w.walk(child)
			}
		}
		w.exceptStack = w.exceptStack[:len(w.exceptStack)-1]
	}
}

// parseAsPattern reads the caught types and bound name from an
// `except X as e` pattern.
func (w *walker) parseAsPattern(node *sitter.Node, site *CatchSite) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			site.CaughtTypes = append(site.CaughtTypes, w.catchTypeName(w.text(child)))
		case "attribute":
			site.CaughtTypes = append(site.CaughtTypes, lastSegment(w.text(child)))
		case "tuple", "parenthesized_expression", "expression_list":
			w.collectCaughtTypes(child, &site.CaughtTypes)
		case "as_pattern_target":
			site.BoundName = w.text(child)
		}
	}
}

// collectCaughtTypes gathers type names from a tuple of caught exceptions.
func (w *walker) collectCaughtTypes(node *sitter.Node, out *[]string) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			*out = append(*out, w.catchTypeName(w.text(child)))
		case "attribute":
			*out = append(*out, lastSegment(w.text(child)))
		case "tuple", "parenthesized_expression", "expression_list":
			w.collectCaughtTypes(child, out)
		}
	}
}

// catchTypeName maps a written caught-type name to its recorded form.
// Catching BaseException is the "catches everything" sentinel.
func (w *walker) catchTypeName(name string) string {
	if name == "BaseException" {
		return CatchAll
	}
	return name
}

// processAssignment applies the local-type-environment rules:
// x = ClassName(...) binds x to the class; x = f(...) binds through f's
// return annotation when f is file-local.
func (w *walker) processAssignment(node *sitter.Node) {
	left := node.ChildByFieldName("left")
	right := node.ChildByFieldName("right")
	if left == nil || right == nil || left.Type() != "identifier" {
		return
	}
	if right.Type() != "call" {
		return
	}
	fn := right.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" && fn.Type() != "attribute" {
		return
	}
	callee := w.text(fn)

	if b, ok := w.resolveClassRef(callee); ok {
		b.origin = ResolutionConstructor
		w.bind(w.text(left), b)
		return
	}
	if fn.Type() == "identifier" {
		if ret, ok := w.localReturns[callee]; ok {
			if b, ok := w.resolveClassRef(ret); ok {
				b.origin = ResolutionReturnType
				w.bind(w.text(left), b)
			}
		}
	}
}

// processCall emits one CallSite with the partial resolution of §4.4.
func (w *walker) processCall(node *sitter.Node) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return
	}

	site := CallSite{
		File:       w.filePath,
		Line:       w.line(node),
		Caller:     w.currentFunction(),
		Resolution: ResolutionUnresolved,
	}

	switch fn.Type() {
	case "identifier":
		name := w.text(fn)
		site.CalleeBareName = name
		if qualified, ok := w.localClasses[name]; ok {
			// Constructing a local class calls its __init__.
			site.Callee = string(MakeFunctionKey(w.filePath, qualified+".__init__"))
			site.Resolution = ResolutionConstructor
		} else if origin, ok := w.fx.Imports[name]; ok {
			site.Callee = origin
			site.Resolution = ResolutionImport
		}

	case "attribute":
		attr := fn.ChildByFieldName("attribute")
		obj := fn.ChildByFieldName("object")
		if attr == nil || obj == nil {
			return
		}
		site.CalleeBareName = w.text(attr)
		site.IsMethodCall = true

		switch {
		case obj.Type() == "identifier" && w.text(obj) == "self":
			if cls := w.selfClass(); cls != "" {
				site.Callee = string(MakeFunctionKey(w.filePath, cls+"."+site.CalleeBareName))
				site.Resolution = ResolutionSelf
			}
		case obj.Type() == "identifier":
			name := w.text(obj)
			if b, ok := w.lookup(name); ok {
				if b.file != "" {
					site.Callee = string(MakeFunctionKey(b.file, b.qualified+"."+site.CalleeBareName))
				} else {
					site.Callee = b.qualified + "." + site.CalleeBareName
				}
				site.Resolution = b.origin
			} else if origin, ok := w.fx.Imports[name]; ok {
				// Module-qualified call: http_client.get(...)
				site.Callee = origin + "." + site.CalleeBareName
				site.Resolution = ResolutionImport
			}
		}

	default:
		// A call whose function position is an arbitrary expression emits
		// no call site.
		return
	}

	if site.Caller == w.fx.ModuleKey() {
		site.Args = w.collectCallArgs(node)
	}

	w.fx.Calls = append(w.fx.Calls, site)
}

// collectCallArgs records positional argument identifiers and string
// literals for detector matching of module-scope registration calls.
func (w *walker) collectCallArgs(node *sitter.Node) []string {
	args := node.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	var out []string
	for i := 0; i < int(args.ChildCount()); i++ {
		child := args.Child(i)
		switch child.Type() {
		case "identifier", "attribute":
			out = append(out, w.text(child))
		case "string":
			out = append(out, stripQuotes(w.text(child)))
		}
	}
	return out
}

// selfClass returns the qualified name of the class owning the innermost
// method scope, or "" when self has no meaning here.
func (w *walker) selfClass() string {
	// Find the innermost function scope, then require its parent scope to
	// be a class.
	for i := len(w.scopes) - 1; i >= 0; i-- {
		if !w.scopes[i].isClass {
			var parts []string
			for j := 0; j < i; j++ {
				if !w.scopes[j].isClass {
					return ""
				}
				parts = append(parts, w.scopes[j].name)
			}
			if len(parts) == 0 {
				return ""
			}
			return strings.Join(parts, ".")
		}
	}
	return ""
}

// checkMainGuard flags `if __name__ == "__main__":` at module level.
func (w *walker) checkMainGuard(node *sitter.Node) {
	if len(w.scopes) != 0 || w.fx.HasMainGuard {
		return
	}
	cond := node.ChildByFieldName("condition")
	if cond == nil {
		return
	}
	text := w.text(cond)
	if strings.Contains(text, "__name__") && strings.Contains(text, "__main__") {
		w.fx.HasMainGuard = true
		w.fx.MainGuardLine = w.line(node)
	}
}

// finishModuleFunction records the synthetic module-level function when the
// file has module-scope behavior worth attributing.
func (w *walker) finishModuleFunction() {
	moduleKey := w.fx.ModuleKey()
	needed := w.fx.HasMainGuard
	if !needed {
		for _, c := range w.fx.Calls {
			if c.Caller == moduleKey {
				needed = true
				break
			}
		}
	}
	if !needed {
		for _, r := range w.fx.Raises {
			if r.Function == moduleKey {
				needed = true
				break
			}
		}
	}
	if !needed {
		return
	}
	line := 1
	if w.fx.MainGuardLine > 0 {
		line = w.fx.MainGuardLine
	}
	w.fx.Functions = append(w.fx.Functions, FunctionDef{
		File:      w.filePath,
		Line:      line,
		Name:      ModuleFunctionName,
		Qualified: ModuleFunctionName,
	})
}

// lastSegment returns the trailing dotted segment of a qualified name.
func lastSegment(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

// stripQuotes removes surrounding string quotes from a literal.
func stripQuotes(s string) string {
	if strings.HasPrefix(s, `"""`) || strings.HasPrefix(s, `'''`) {
		return strings.Trim(s, `"'`)
	}
	return strings.Trim(s, `"'`)
}

// subscriptBaseName extracts the base identifier from a subscript node like
// Generic[T], mirroring base-class extraction for parameterized bases.
func subscriptBaseName(node *sitter.Node, content []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			return string(content[child.StartByte():child.EndByte()])
		case "attribute":
			return lastSegment(string(content[child.StartByte():child.EndByte()]))
		}
	}
	return ""
}
