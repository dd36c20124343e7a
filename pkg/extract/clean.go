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
	"regexp"
	"sort"
	"strings"
)

var (
	// Period directly followed by an uppercase letter ("India.It")
	periodNoSpace = regexp.MustCompile(`\.([A-Z])`)
	// Comma or semicolon directly followed by any letter
	commaNoSpace = regexp.MustCompile(`([,;])([A-Za-z])`)
)

// Cleaner applies the deterministic OCR cleanup rules. Clean is idempotent:
// Clean(Clean(x)) == Clean(x).
type Cleaner struct {
	elisionPattern *regexp.Regexp
	elisions       map[string]string
}

// NewCleaner builds a Cleaner from the built-in elision table plus any
// extra entries from configuration.
func NewCleaner(extraElisions map[string]string) *Cleaner {
	table := make(map[string]string, len(defaultElisions)+len(extraElisions))
	for k, v := range defaultElisions {
		table[strings.ToLower(k)] = v
	}
	for k, v := range extraElisions {
		table[strings.ToLower(k)] = v
	}

	// Longest-first alternation so "asan" wins over "asa"
	words := make([]string, 0, len(table))
	for w := range table {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if len(words[i]) != len(words[j]) {
			return len(words[i]) > len(words[j])
		}
		return words[i] < words[j]
	})
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}

	return &Cleaner{
		elisionPattern: regexp.MustCompile(`(?i)\b(` + strings.Join(words, "|") + `)\b`),
		elisions:       table,
	}
}

// Clean normalizes extracted text:
//
//  1. line endings to LF (form feeds become line breaks),
//  2. runs of blank lines collapse to one blank line,
//  3. an intra-paragraph newline joins to a space,
//  4. missing space after sentence punctuation is restored,
//  5. known OCR elisions expand to their spaced forms,
//  6. trailing whitespace stripped, leading/trailing blank lines trimmed.
func (c *Cleaner) Clean(text string) string {
	if text == "" {
		return ""
	}

	// Rule 1
	s := strings.ReplaceAll(text, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\f", "\n")

	// Rules 2, 3, 6 operate line-wise
	lines := strings.Split(s, "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)

		if line == "" {
			// Collapse blank runs to a single separator
			if len(result) > 0 && result[len(result)-1] != "" {
				result = append(result, "")
			}
			continue
		}

		// A single newline after a line that does not end a sentence is an
		// OCR line-wrap, not a paragraph break
		if len(result) > 0 {
			prev := result[len(result)-1]
			if prev != "" && !endsSentence(prev) {
				result[len(result)-1] = prev + " " + line
				continue
			}
		}

		result = append(result, line)
	}

	s = strings.Join(result, "\n")

	// Rule 4
	s = periodNoSpace.ReplaceAllString(s, ". $1")
	s = commaNoSpace.ReplaceAllString(s, "$1 $2")

	// Rule 5
	s = c.elisionPattern.ReplaceAllStringFunc(s, func(m string) string {
		if spaced, ok := c.elisions[strings.ToLower(m)]; ok {
			return spaced
		}
		return m
	})

	// Rule 6
	return strings.TrimSpace(s)
}

func endsSentence(line string) bool {
	switch line[len(line)-1] {
	case '.', '!', '?', ':', ';':
		return true
	}
	return false
}
