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

// Package chunker splits cleaned document text into overlapping
// fixed-size token windows suitable for embedding.
//
// Tokens are whitespace-delimited words. Each chunk holds at most
// Window tokens, and successive chunks share Overlap tokens so that
// sentences straddling a boundary appear in both chunks. The last
// chunk may be shorter.
package chunker

import (
	"fmt"
	"strings"
)

const (
	// DefaultWindow is the chunk size in whitespace tokens.
	DefaultWindow = 512

	// DefaultOverlap is the number of tokens shared between
	// successive chunks.
	DefaultOverlap = 50
)

// Chunk is one token window of a document.
type Chunk struct {
	// Index is the zero-based position of this chunk within the
	// document. Chunks are always produced in index order.
	Index int

	// Text is the chunk content, tokens joined by single spaces.
	Text string

	// Tokens is the number of whitespace tokens in Text.
	Tokens int
}

// Chunker produces overlapping token windows.
type Chunker struct {
	window  int
	overlap int
}

// New creates a chunker. Zero values select the defaults. The overlap
// must be smaller than the window, otherwise the stride would be zero
// and chunking could not terminate.
func New(window, overlap int) (*Chunker, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= window {
		return nil, fmt.Errorf("chunker: overlap %d must be smaller than window %d", overlap, window)
	}
	return &Chunker{window: window, overlap: overlap}, nil
}

// Split breaks text into overlapping chunks of whitespace tokens.
//
// Text with no tokens yields no chunks. Text with at most Window
// tokens yields exactly one chunk. Otherwise windows advance by
// (window - overlap) tokens, every token lands in at least one chunk,
// and each pair of successive chunks shares exactly Overlap tokens.
func (c *Chunker) Split(text string) []Chunk {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) <= c.window {
		return []Chunk{{
			Index:  0,
			Text:   strings.Join(tokens, " "),
			Tokens: len(tokens),
		}}
	}

	stride := c.window - c.overlap
	var chunks []Chunk
	for start := 0; ; start += stride {
		end := start + c.window
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Text:   strings.Join(window, " "),
			Tokens: len(window),
		})
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// Count returns the number of chunks Split would produce for a
// document of n tokens, without materializing them.
func (c *Chunker) Count(n int) int {
	if n == 0 {
		return 0
	}
	if n <= c.window {
		return 1
	}
	stride := c.window - c.overlap
	covered := n - c.overlap
	return (covered + stride - 1) / stride
}

// Window reports the configured chunk size in tokens.
func (c *Chunker) Window() int { return c.window }

// Overlap reports the configured overlap in tokens.
func (c *Chunker) Overlap() int { return c.overlap }
