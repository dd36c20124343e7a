package extract

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docsync/pkg/config"
)

func fastConfig(endpoint string) config.OCRConfig {
	return config.OCRConfig{
		Mode:     "fast",
		Endpoint: endpoint,
		Timeout:  5 * time.Second,
	}
}

func TestFastRecognizerSuccess(t *testing.T) {
	var gotFileName string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		gotFileName = header.Filename

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, []byte("pdf bytes"), data)

		json.NewEncoder(w).Encode(map[string]any{
			"status":      "success",
			"content":     "Alpha\fBeta\fGamma",
			"total_pages": 3,
		})
	}))
	defer server.Close()

	r := NewFastRecognizer(fastConfig(server.URL))

	res, err := r.Recognize(context.Background(), "report.pdf", []byte("pdf bytes"))
	require.NoError(t, err)

	assert.Equal(t, "report.pdf", gotFileName)
	assert.Equal(t, "Alpha\fBeta\fGamma", res.Content)
	assert.Equal(t, 3, res.Pages)
}

func TestFastRecognizerRetriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "success",
			"content":     "recovered",
			"total_pages": 1,
		})
	}))
	defer server.Close()

	cfg := fastConfig(server.URL)
	r := NewFastRecognizer(cfg)

	res, err := r.Recognize(context.Background(), "scan.png", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Content)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFastRecognizerServiceFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "error", "content": ""})
	}))
	defer server.Close()

	r := NewFastRecognizer(fastConfig(server.URL))

	_, err := r.Recognize(context.Background(), "a.pdf", []byte("x"))
	require.Error(t, err)

	var exErr *ExtractionError
	require.ErrorAs(t, err, &exErr)
	assert.Contains(t, exErr.Message, "error")
}

func TestVisionRecognizer(t *testing.T) {
	var gotAuth string
	var gotReq visionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "extracted text"}},
			},
		})
	}))
	defer server.Close()

	r := NewVisionRecognizer(config.OCRConfig{
		Mode:     "llm",
		Endpoint: server.URL,
		Model:    "qwen2-vl",
		APIKey:   "secret",
		Timeout:  5 * time.Second,
	})

	res, err := r.Recognize(context.Background(), "page.png", []byte{0x89, 0x50})
	require.NoError(t, err)

	assert.Equal(t, "extracted text", res.Content)
	assert.Equal(t, 0, res.Pages)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "qwen2-vl", gotReq.Model)

	require.Len(t, gotReq.Messages, 1)
	require.Len(t, gotReq.Messages[0].Content, 2)
	img := gotReq.Messages[0].Content[1]
	require.NotNil(t, img.ImageURL)
	assert.True(t, strings.HasPrefix(img.ImageURL.URL, "data:image/png;base64,"))
}

func TestVisionRecognizerNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	r := NewVisionRecognizer(config.OCRConfig{
		Mode:     "llm",
		Endpoint: server.URL,
		Model:    "qwen2-vl",
		Timeout:  5 * time.Second,
	})

	_, err := r.Recognize(context.Background(), "page.png", []byte("x"))
	require.Error(t, err)
}

func TestNewRecognizer(t *testing.T) {
	fast, err := NewRecognizer(config.OCRConfig{Mode: "fast", Endpoint: "http://x"})
	require.NoError(t, err)
	assert.IsType(t, &FastRecognizer{}, fast)

	llm, err := NewRecognizer(config.OCRConfig{Mode: "llm", Endpoint: "http://x", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &VisionRecognizer{}, llm)

	_, err = NewRecognizer(config.OCRConfig{Mode: "tesseract"})
	require.Error(t, err)
}

func TestMimeTypeFor(t *testing.T) {
	assert.Equal(t, "application/pdf", mimeTypeFor("a.pdf"))
	assert.Equal(t, "image/png", mimeTypeFor("a.PNG"))
	assert.Equal(t, "image/jpeg", mimeTypeFor("a.jpg"))
	assert.Equal(t, "image/jpeg", mimeTypeFor("a.jpeg"))
	assert.Equal(t, "image/tiff", mimeTypeFor("a.tiff"))
	assert.Equal(t, "application/octet-stream", mimeTypeFor("a.bin"))
}
