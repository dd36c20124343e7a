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

package objstore

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a missing object.
var ErrNotFound = errors.New("object not found")

// StoreError represents an error in object store operations.
type StoreError struct {
	Operation string // Operation that failed
	Key       string // Object key if applicable
	Message   string // Error message
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := fmt.Sprintf("[objstore] %s: %s", e.Operation, e.Message)
	if e.Key != "" {
		msg += fmt.Sprintf(" (key: %s)", e.Key)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(operation, key, message string, err error) *StoreError {
	return &StoreError{
		Operation: operation,
		Key:       key,
		Message:   message,
		Err:       err,
	}
}

// IsNotFound reports whether err stems from a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
