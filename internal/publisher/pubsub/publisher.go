// Package pubsub announces harvested records on a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/JakeFAU/media-harvester/internal/crawler"
	"github.com/JakeFAU/media-harvester/internal/id/uuid"
)

// Publisher publishes one message per record and waits for the server
// acknowledgement before returning.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New connects to projectID and verifies topicID exists.
func New(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	return &Publisher{client: client, topic: topic}, nil
}

// Write publishes record as JSON. Attributes carry the identifiers so
// subscribers can filter without decoding the body.
func (p *Publisher) Write(ctx context.Context, record crawler.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.GlobalID, err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"global_id":  record.GlobalID,
			"run_id":     record.RunID,
			"media_type": record.MediaType,
			"record_key": uuid.RecordKey(record.RunID, record.GlobalID),
		},
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish record %s: %w", record.GlobalID, err)
	}
	return nil
}

// Close flushes pending publishes and closes the client.
func (p *Publisher) Close(context.Context) error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
