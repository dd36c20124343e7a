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

package queue

import "fmt"

// QueueError represents an error in queue operations.
type QueueError struct {
	Operation string // Operation that failed
	Message   string // Error message
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *QueueError) Error() string {
	msg := fmt.Sprintf("[queue] %s: %s", e.Operation, e.Message)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *QueueError) Unwrap() error {
	return e.Err
}

// NewQueueError creates a new QueueError.
func NewQueueError(operation, message string, err error) *QueueError {
	return &QueueError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
