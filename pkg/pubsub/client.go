// Package pubsub owns the Pub/Sub v2 connection used by the outbox relay.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/marketplace-payments/pkg/config"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
)

// ErrTopicNotFound is returned when a configured topic has not been created.
var ErrTopicNotFound = errors.New("pubsub: topic not found")

// Client hands out one ordered publisher per topic and stops them all on Close.
type Client struct {
	sdk       *pubsub.Client
	projectID string
	topic     string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects and checks that the order events topic exists. Topics
// are provisioned outside this service.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errors.New("pubsub: gcp project id required")
	}
	if strings.TrimSpace(cfg.OrderEventsTopic) == "" {
		return nil, errors.New("pubsub: order events topic required")
	}
	sdk, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub: connect: %w", err)
	}
	c := &Client{
		sdk:        sdk,
		projectID:  projectID,
		topic:      cfg.OrderEventsTopic,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.Ping(ctx); err != nil {
		_ = sdk.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", c.topicName(c.topic)), "pubsub client ready")
	}
	return c, nil
}

// Ping looks up the order events topic through the admin API.
func (c *Client) Ping(ctx context.Context) error {
	name := c.topicName(c.topic)
	_, err := c.sdk.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	switch {
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%w: %s", ErrTopicNotFound, name)
	case err != nil:
		return fmt.Errorf("pubsub: get topic %s: %w", name, err)
	}
	return nil
}

// Publisher returns the cached publisher for topic, creating it with message
// ordering enabled on first use. topic may be a short id or a full resource name.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	name := c.topicName(topic)
	if name == "" || c.sdk == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[name]; ok {
		return p
	}
	p := c.sdk.Publisher(name)
	p.EnableMessageOrdering = true
	c.publishers[name] = p
	return p
}

// Close flushes every publisher before closing the connection.
func (c *Client) Close() error {
	if c.sdk == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.sdk.Close()
}

func (c *Client) topicName(topic string) string {
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		return ""
	case strings.HasPrefix(topic, "projects/") && strings.Contains(topic, "/topics/"):
		return topic
	case c.projectID == "":
		return ""
	}
	return "projects/" + c.projectID + "/topics/" + topic
}
