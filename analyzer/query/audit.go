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
	"github.com/AleutianAI/exctrace/analyzer/detect"
	"github.com/AleutianAI/exctrace/analyzer/propagate"
)

// Audit partitions every escaping exception of each entrypoint into the
// four audit buckets.
//
// Description:
//
//	For each entrypoint of the integration: resolve its function, then
//	classify each escape as framework-handled (matched by the framework's
//	exception_responses or a configured handled base class), caught by a
//	registered global handler, locally caught, or uncaught. Passed is
//	true iff no entrypoint has an uncaught escape.
//
// Inputs:
//   - fw: The framework integration to audit against.
//   - mode: The propagation mode.
//   - handledBases: Extra base classes from config; any subclass of one is
//     treated as framework-handled.
func (e *Engine) Audit(fw *detect.Framework, mode propagate.Mode, handledBases []string) *AuditResult {
	result := e.session.Result(mode)
	res := &AuditResult{Framework: fw.Name(), Mode: mode, Passed: true}

	for _, ep := range e.model.Entrypoints {
		if ep.Metadata["framework"] != fw.Name() {
			continue
		}
		audit := EntrypointAudit{Entrypoint: ep}

		key, ok := e.resolveEntrypoint(ep)
		if !ok {
			audit.Unresolved = "entrypoint function not found in model"
			res.Entrypoints = append(res.Entrypoints, audit)
			continue
		}
		audit.Function = key

		for _, exc := range result.Escaping(key) {
			evidence, _ := result.Evidence(key, exc)
			entry := AuditedException{Exception: exc, Confidence: evidence.Confidence}

			switch {
			case e.frameworkHandled(fw, handledBases, exc, &entry):
				entry.Bucket = BucketFrameworkHandled
			case e.globallyHandled(exc, &entry):
				entry.Bucket = BucketGlobalHandler
			case result.Caught[key].Contains(exc):
				entry.Bucket = BucketLocalCatch
			default:
				entry.Bucket = BucketUncaught
				res.Passed = false
			}
			audit.Escapes = append(audit.Escapes, entry)
		}
		res.Entrypoints = append(res.Entrypoints, audit)
	}
	return res
}

// frameworkHandled reports whether the framework converts the exception (or
// one of its ancestors) to a response.
func (e *Engine) frameworkHandled(fw *detect.Framework, handledBases []string, exc string, entry *AuditedException) bool {
	if response, ok := fw.ResponseFor(exc); ok {
		entry.Response = response
		return true
	}
	for name, response := range fw.ExceptionResponses {
		if e.model.Hierarchy.IsSubclassOf(exc, name) {
			entry.Response = response
			return true
		}
	}
	for _, base := range handledBases {
		if e.model.Hierarchy.IsSubclassOf(exc, base) {
			entry.Response = "handled base class " + base
			return true
		}
	}
	return false
}

// globallyHandled reports whether a registered global handler catches the
// exception or one of its ancestors.
func (e *Engine) globallyHandled(exc string, entry *AuditedException) bool {
	for _, handler := range e.model.GlobalHandlers {
		if e.model.Hierarchy.IsSubclassOf(exc, handler.ExceptionType) {
			entry.Handler = handler.HandlerFunction
			return true
		}
	}
	return false
}
