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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/kadirpekel/docsync/pkg/config"
	"github.com/kadirpekel/docsync/pkg/httpclient"
)

// RecognitionResult is the text recognition service's answer for one file.
type RecognitionResult struct {
	Content string
	// Pages is the page count reported by the service, 0 when unknown.
	Pages int
}

// TextRecognizer abstracts the two recognition backends. Upstream code never
// learns which one is configured.
type TextRecognizer interface {
	Recognize(ctx context.Context, fileName string, data []byte) (*RecognitionResult, error)
}

// NewRecognizer builds the recognizer selected by configuration.
func NewRecognizer(cfg config.OCRConfig) (TextRecognizer, error) {
	switch cfg.Mode {
	case "fast":
		return NewFastRecognizer(cfg), nil
	case "llm":
		return NewVisionRecognizer(cfg), nil
	default:
		return nil, fmt.Errorf("unknown ocr mode: %q", cfg.Mode)
	}
}

// ============================================================================
// Fast path: multipart POST to a dedicated OCR endpoint
// ============================================================================

// FastRecognizer talks to the dedicated OCR service: a multipart file POST
// answered with {status, content, total_pages}.
type FastRecognizer struct {
	client   *httpclient.Client
	endpoint string
}

// NewFastRecognizer creates a FastRecognizer from configuration.
func NewFastRecognizer(cfg config.OCRConfig) *FastRecognizer {
	return &FastRecognizer{
		client: httpclient.New(
			httpclient.WithTimeout(cfg.Timeout),
			httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeader),
		),
		endpoint: cfg.Endpoint,
	}
}

type fastOCRResponse struct {
	Status     string `json:"status"`
	Content    string `json:"content"`
	TotalPages int    `json:"total_pages"`
}

// Recognize submits the whole file and returns the recognized text.
func (r *FastRecognizer) Recognize(ctx context.Context, fileName string, data []byte) (*RecognitionResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, NewExtractionError("ocr", fileName, "failed to build multipart request", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, NewExtractionError("ocr", fileName, "failed to write multipart body", err)
	}
	if err := writer.Close(); err != nil {
		return nil, NewExtractionError("ocr", fileName, "failed to finalize multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, NewExtractionError("ocr", fileName, "failed to create request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, NewExtractionError("ocr", fileName, "request failed", err)
	}
	defer resp.Body.Close()

	var parsed fastOCRResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, NewExtractionError("ocr", fileName, "invalid response", err)
	}

	if parsed.Status != "success" {
		return nil, NewExtractionError("ocr", fileName,
			fmt.Sprintf("service reported status %q", parsed.Status), nil)
	}

	return &RecognitionResult{
		Content: parsed.Content,
		Pages:   parsed.TotalPages,
	}, nil
}

// ============================================================================
// LLM path: OpenAI-compatible vision endpoint
// ============================================================================

// VisionRecognizer talks to an OpenAI-compatible chat-completions endpoint,
// sending the file as a base64 data-URI.
type VisionRecognizer struct {
	client   *httpclient.Client
	endpoint string
	model    string
	apiKey   string
}

// NewVisionRecognizer creates a VisionRecognizer from configuration. The
// configured endpoint is the full chat-completions URL.
func NewVisionRecognizer(cfg config.OCRConfig) *VisionRecognizer {
	return &VisionRecognizer{
		client: httpclient.New(
			httpclient.WithTimeout(cfg.Timeout),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
	}
}

const visionPrompt = "Extract all text from this document. " +
	"Return only the extracted text, with no commentary."

type visionImageURL struct {
	URL string `json:"url"`
}

type visionContent struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *visionImageURL `json:"image_url,omitempty"`
}

type visionMessage struct {
	Role    string          `json:"role"`
	Content []visionContent `json:"content"`
}

type visionRequest struct {
	Model     string          `json:"model"`
	Messages  []visionMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type visionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Recognize submits the file as a data-URI and returns the model's answer.
func (r *VisionRecognizer) Recognize(ctx context.Context, fileName string, data []byte) (*RecognitionResult, error) {
	dataURI := fmt.Sprintf("data:%s;base64,%s", mimeTypeFor(fileName),
		base64.StdEncoding.EncodeToString(data))

	reqBody := visionRequest{
		Model:     r.model,
		MaxTokens: 4096,
		Messages: []visionMessage{
			{
				Role: "user",
				Content: []visionContent{
					{Type: "text", Text: visionPrompt},
					{Type: "image_url", ImageURL: &visionImageURL{URL: dataURI}},
				},
			},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, NewExtractionError("ocr", fileName, "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, NewExtractionError("ocr", fileName, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, NewExtractionError("ocr", fileName, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewExtractionError("ocr", fileName, "failed to read response", err)
	}

	var parsed visionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, NewExtractionError("ocr", fileName, "invalid response", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, NewExtractionError("ocr", fileName, "response contained no choices", nil)
	}

	return &RecognitionResult{
		Content: parsed.Choices[0].Message.Content,
	}, nil
}

func mimeTypeFor(fileName string) string {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

var (
	_ TextRecognizer = (*FastRecognizer)(nil)
	_ TextRecognizer = (*VisionRecognizer)(nil)
)
