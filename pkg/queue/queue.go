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

// Package queue receives object-store notifications from an SQS queue.
//
// Delivery is at-least-once: a message is deleted only after the caller
// explicitly acknowledges it, so unacknowledged messages redeliver.
package queue

import (
	"context"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/kadirpekel/docsync/pkg/config"
)

// EventKind distinguishes object creation from removal.
type EventKind int

const (
	ObjectCreated EventKind = iota
	ObjectRemoved
)

func (k EventKind) String() string {
	if k == ObjectRemoved {
		return "removed"
	}
	return "created"
}

// ObjectEvent is one decoded object-store event.
type ObjectEvent struct {
	Kind   EventKind
	Bucket string
	Key    string
}

// Notification is one queue message: its decoded events plus the handle
// needed to acknowledge it.
type Notification struct {
	Events        []ObjectEvent
	ReceiptHandle string
}

// Receiver is the queue contract the coordinator consumes.
type Receiver interface {
	// Receive long-polls for messages and returns their decoded
	// notifications. Test events are acknowledged and dropped internally.
	// An empty slice means the poll timed out with no messages.
	Receive(ctx context.Context) ([]Notification, error)

	// Delete acknowledges a message by receipt handle.
	Delete(ctx context.Context, receiptHandle string) error
}

// sqsAPI is the slice of the SQS client used here, for test fakes.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSReceiver implements Receiver against AWS SQS.
type SQSReceiver struct {
	client      sqsAPI
	url         string
	maxMessages int32
	waitTime    time.Duration
}

// New creates an SQSReceiver from configuration using the default AWS
// credential chain.
func New(ctx context.Context, cfg config.QueueConfig) (*SQSReceiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, NewQueueError("connect", "failed to load AWS config", err)
	}

	return &SQSReceiver{
		client:      sqs.NewFromConfig(awsCfg),
		url:         cfg.URL,
		maxMessages: cfg.MaxMessages,
		waitTime:    cfg.WaitTime,
	}, nil
}

// Receive long-polls once and decodes every returned message.
func (r *SQSReceiver) Receive(ctx context.Context) ([]Notification, error) {
	out, err := r.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &r.url,
		MaxNumberOfMessages: r.maxMessages,
		WaitTimeSeconds:     int32(r.waitTime / time.Second),
	})
	if err != nil {
		return nil, NewQueueError("receive", "long poll failed", err)
	}

	var notifications []Notification
	for _, msg := range out.Messages {
		if msg.Body == nil || msg.ReceiptHandle == nil {
			continue
		}

		events, isTest, err := DecodeBody(*msg.Body)
		if err != nil {
			slog.Warn("Failed to decode queue message, leaving for redelivery", "error", err)
			continue
		}

		if isTest {
			// Subscription test events carry no work; acknowledge and drop
			slog.Debug("Dropping subscription test event")
			if err := r.Delete(ctx, *msg.ReceiptHandle); err != nil {
				slog.Warn("Failed to delete test event", "error", err)
			}
			continue
		}

		notifications = append(notifications, Notification{
			Events:        events,
			ReceiptHandle: *msg.ReceiptHandle,
		})
	}

	return notifications, nil
}

// Delete acknowledges a message.
func (r *SQSReceiver) Delete(ctx context.Context, receiptHandle string) error {
	_, err := r.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &r.url,
		ReceiptHandle: &receiptHandle,
	})
	if err != nil {
		return NewQueueError("delete", "failed to delete message", err)
	}
	return nil
}

var _ Receiver = (*SQSReceiver)(nil)
