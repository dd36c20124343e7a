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

// Package extract turns raw document bytes into normalized UTF-8 text.
//
// Dispatch is a closed switch over the supported content types; each format
// handler shares the signature (ctx, RawDocument) -> (text, method, pages,
// soft errors, error). Per-page and per-sheet failures are soft: they are
// accumulated and extraction continues with whatever succeeded.
package extract

import (
	"context"
	"path"
	"strings"

	"github.com/kadirpekel/docsync/pkg/objstore"
)

// Method identifies how the text was obtained.
type Method string

const (
	MethodPDFOCR          Method = "pdf_ocr"
	MethodPDFText         Method = "pdf_text"
	MethodImageOCR        Method = "image_ocr"
	MethodDocxText        Method = "docx_text"
	MethodSpreadsheetText Method = "spreadsheet_text"
	MethodCSVText         Method = "csv_text"
	MethodPlainText       Method = "plain_text"
)

// ExtractedDocument is the result of extraction on one RawDocument.
type ExtractedDocument struct {
	Key              string
	CleanedText      string
	Method           Method
	PageCount        int
	ExtractionErrors []string
}

// Extractor dispatches raw documents to format handlers and cleans the
// resulting text.
type Extractor struct {
	recognizer TextRecognizer
	cleaner    *Cleaner
}

// New creates an Extractor. extraElisions extends the built-in OCR elision
// table (configuration, not code).
func New(recognizer TextRecognizer, extraElisions map[string]string) *Extractor {
	return &Extractor{
		recognizer: recognizer,
		cleaner:    NewCleaner(extraElisions),
	}
}

// Extract transforms one raw document into cleaned text. An unsupported
// suffix is a permanent error. Zero extracted text is not an error: the
// result carries an empty CleanedText and the pipeline short-circuits.
func (e *Extractor) Extract(ctx context.Context, raw *objstore.RawDocument) (*ExtractedDocument, error) {
	var (
		text     string
		method   Method
		pages    int
		softErrs []string
		err      error
	)

	switch strings.ToLower(path.Ext(raw.Key)) {
	case ".pdf":
		text, method, pages, softErrs, err = e.extractPDF(ctx, raw)
	case ".png", ".jpg", ".jpeg", ".tiff":
		text, method, pages, softErrs, err = e.extractImage(ctx, raw)
	case ".docx":
		text, method, pages, softErrs, err = extractDocx(raw)
	case ".xlsx", ".xls":
		text, method, pages, softErrs, err = extractSpreadsheet(ctx, raw)
	case ".csv":
		text, method, pages, softErrs, err = extractCSV(raw)
	case ".txt":
		text, method, pages, softErrs, err = extractPlain(raw)
	default:
		return nil, NewExtractionError("dispatch", raw.Key, "unsupported file type", nil)
	}

	if err != nil {
		return nil, err
	}

	return &ExtractedDocument{
		Key:              raw.Key,
		CleanedText:      e.cleaner.Clean(text),
		Method:           method,
		PageCount:        pages,
		ExtractionErrors: softErrs,
	}, nil
}
