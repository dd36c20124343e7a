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

package index

import "fmt"

// IndexError describes a failed index operation.
type IndexError struct {
	Operation  string
	Message    string
	StatusCode int
	Err        error
}

func (e *IndexError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("index %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("index %s: %s", e.Operation, e.Message)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

func NewIndexError(operation, message string, statusCode int, err error) *IndexError {
	return &IndexError{
		Operation:  operation,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}
