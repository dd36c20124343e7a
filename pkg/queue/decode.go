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

package queue

import (
	"encoding/json"
	"net/url"
	"strings"
)

// s3Message is the wire shape of an S3 event notification message.
type s3Message struct {
	Event   string `json:"Event"`
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// DecodeBody parses one message body into object events. isTest is true for
// s3:TestEvent subscription confirmations, which carry no records.
// Records with event names that are neither created nor removed are skipped.
func DecodeBody(body string) (events []ObjectEvent, isTest bool, err error) {
	var msg s3Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return nil, false, NewQueueError("decode", "invalid message body", err)
	}

	if msg.Event == "s3:TestEvent" {
		return nil, true, nil
	}

	for _, rec := range msg.Records {
		kind, ok := classifyEventName(rec.EventName)
		if !ok {
			continue
		}

		key, err := decodeObjectKey(rec.S3.Object.Key)
		if err != nil || key == "" {
			continue
		}

		events = append(events, ObjectEvent{
			Kind:   kind,
			Bucket: rec.S3.Bucket.Name,
			Key:    key,
		})
	}

	return events, false, nil
}

func classifyEventName(name string) (EventKind, bool) {
	switch {
	case strings.Contains(name, "ObjectRemoved"):
		return ObjectRemoved, true
	case strings.Contains(name, "ObjectCreated"):
		return ObjectCreated, true
	default:
		return 0, false
	}
}

// decodeObjectKey reverses the URL encoding S3 applies to object keys in
// event payloads ("+" stands for a space).
func decodeObjectKey(key string) (string, error) {
	return url.QueryUnescape(key)
}
