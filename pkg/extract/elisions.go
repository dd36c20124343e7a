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

// defaultElisions maps OCR-fused word pairs to their spaced forms. OCR output
// frequently drops the space between a short function word and the article
// that follows it. Matching is whole-word and case-insensitive. Extra entries
// come from configuration.
var defaultElisions = map[string]string{
	"isa":    "is a",
	"hasa":   "has a",
	"wasa":   "was a",
	"ina":    "in a",
	"ona":    "on a",
	"ata":    "at a",
	"toa":    "to a",
	"fora":   "for a",
	"asa":    "as a",
	"bya":    "by a",
	"oran":   "or an",
	"asan":   "as an",
	"catof":  "cat of",
	"goto":   "go to",
	"makeit": "make it",
}
