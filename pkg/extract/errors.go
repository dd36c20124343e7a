// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extract

import "fmt"

// ExtractionError represents an error during content extraction.
type ExtractionError struct {
	Extractor string // Extractor name
	FilePath  string // File path
	Message   string // Error message
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("[%s] extraction failed for %s: %s", e.Extractor, e.FilePath, e.Message)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// NewExtractionError creates a new ExtractionError.
func NewExtractionError(extractor, filePath, message string, err error) *ExtractionError {
	return &ExtractionError{
		Extractor: extractor,
		FilePath:  filePath,
		Message:   message,
		Err:       err,
	}
}
