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

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kadirpekel/docsync/pkg/objstore"
)

// extractCSV renders rows as tab-separated values. A malformed row is a soft
// error and parsing continues with the next row.
func extractCSV(raw *objstore.RawDocument) (string, Method, int, []string, error) {
	reader := csv.NewReader(bytes.NewReader(raw.Bytes))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var sb strings.Builder
	var softErrs []string
	rowNum := 0

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		if err != nil {
			softErrs = append(softErrs, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}

		sb.WriteString(strings.Join(row, "\t"))
		sb.WriteString("\n")
	}

	return sb.String(), MethodCSVText, 0, softErrs, nil
}

// extractPlain decodes the bytes as UTF-8, replacing invalid sequences.
func extractPlain(raw *objstore.RawDocument) (string, Method, int, []string, error) {
	text := strings.ToValidUTF8(string(raw.Bytes), "�")
	return text, MethodPlainText, 0, nil, nil
}
