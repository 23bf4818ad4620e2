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

import "errors"

// Sentinel errors for extraction failures.
var (
	// ErrFileTooLarge indicates the source exceeds the extractor's size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size")

	// ErrInvalidContent indicates the source is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid file content")
)

// DefaultMaxFileSize is the largest source file the extractor accepts (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// WarnFileSize is the threshold above which a warning is logged (1MB).
const WarnFileSize = 1 * 1024 * 1024
