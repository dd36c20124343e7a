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
	"path"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kadirpekel/docsync/pkg/objstore"
)

// extractPDF tries the native text layer first; scanned PDFs without one go
// to the recognition service whole, which reports the page count itself.
// Page texts are joined by form feed.
func (e *Extractor) extractPDF(ctx context.Context, raw *objstore.RawDocument) (string, Method, int, []string, error) {
	text, pages, softErrs, err := nativePDFText(ctx, raw.Bytes)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, MethodPDFText, pages, softErrs, nil
	}
	if ctx.Err() != nil {
		return "", "", 0, nil, NewExtractionError("pdf", raw.Key, "cancelled", ctx.Err())
	}

	res, ocrErr := e.recognizer.Recognize(ctx, path.Base(raw.Key), raw.Bytes)
	if ocrErr != nil {
		return "", "", 0, nil, ocrErr
	}

	if res.Pages > 0 {
		pages = res.Pages
	}
	return res.Content, MethodPDFOCR, pages, softErrs, nil
}

// extractImage sends the raw bytes to the recognition service.
func (e *Extractor) extractImage(ctx context.Context, raw *objstore.RawDocument) (string, Method, int, []string, error) {
	res, err := e.recognizer.Recognize(ctx, path.Base(raw.Key), raw.Bytes)
	if err != nil {
		return "", "", 0, nil, err
	}

	pages := res.Pages
	if pages == 0 {
		pages = 1
	}
	return res.Content, MethodImageOCR, pages, nil, nil
}

// nativePDFText extracts the embedded text layer page by page. A failed page
// is a soft error; the reader can panic on malformed files, which is treated
// as an extraction failure.
func nativePDFText(ctx context.Context, data []byte) (text string, pages int, softErrs []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, nil, err
	}

	pages = reader.NumPage()
	var parts []string

	for pageNum := 1; pageNum <= pages; pageNum++ {
		select {
		case <-ctx.Done():
			return "", pages, softErrs, ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		pageText, err := page.GetPlainText(nil)
		if err != nil {
			softErrs = append(softErrs, fmt.Sprintf("page %d: %v", pageNum, err))
			continue
		}

		parts = append(parts, pageText)
	}

	return strings.Join(parts, "\f"), pages, softErrs, nil
}
