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
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/kadirpekel/docsync/pkg/objstore"
)

// maxCellsPerSheet caps per-sheet output to keep pathological spreadsheets
// from dominating the index.
const maxCellsPerSheet = 1000

// extractDocx pulls paragraph text out of a Word document, preserving
// paragraph order.
func extractDocx(raw *objstore.RawDocument) (string, Method, int, []string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(raw.Bytes), int64(len(raw.Bytes)))
	if err != nil {
		return "", "", 0, nil, NewExtractionError("docx", raw.Key, "failed to open document", err)
	}
	defer doc.Close()

	text := docxXMLToText(doc.Editable().GetContent())
	return text, MethodDocxText, 0, nil, nil
}

var (
	docxParagraphEnd = regexp.MustCompile(`</w:p>`)
	docxLineBreak    = regexp.MustCompile(`<w:(?:br|cr)\s*/>`)
	docxTab          = regexp.MustCompile(`<w:tab\s*/>`)
	xmlTag           = regexp.MustCompile(`<[^>]+>`)
)

// docxXMLToText flattens WordprocessingML into plain text: paragraph and
// line-break elements become newlines, tabs become tabs, all other markup
// is dropped and entities are decoded.
func docxXMLToText(content string) string {
	s := docxParagraphEnd.ReplaceAllString(content, "\n")
	s = docxLineBreak.ReplaceAllString(s, "\n")
	s = docxTab.ReplaceAllString(s, "\t")
	s = xmlTag.ReplaceAllString(s, "")
	return html.UnescapeString(s)
}

// extractSpreadsheet emits one "Sheet: <name>" block per sheet with rows as
// tab-separated values. A failed sheet is a soft error.
func extractSpreadsheet(ctx context.Context, raw *objstore.RawDocument) (string, Method, int, []string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw.Bytes))
	if err != nil {
		return "", "", 0, nil, NewExtractionError("spreadsheet", raw.Key, "failed to open workbook", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var parts []string
	var softErrs []string

	for _, sheetName := range sheets {
		select {
		case <-ctx.Done():
			return "", "", 0, softErrs, NewExtractionError("spreadsheet", raw.Key, "cancelled", ctx.Err())
		default:
		}

		rows, err := f.GetRows(sheetName)
		if err != nil {
			softErrs = append(softErrs, fmt.Sprintf("sheet %q: %v", sheetName, err))
			continue
		}

		var sheetText strings.Builder
		sheetText.WriteString("Sheet: " + sheetName + "\n")

		cellCount := 0
		for _, row := range rows {
			if cellCount >= maxCellsPerSheet {
				sheetText.WriteString("... (truncated)\n")
				break
			}
			sheetText.WriteString(strings.Join(row, "\t"))
			sheetText.WriteString("\n")
			cellCount += len(row)
		}

		parts = append(parts, sheetText.String())
	}

	return strings.Join(parts, "\n"), MethodSpreadsheetText, len(sheets), softErrs, nil
}
