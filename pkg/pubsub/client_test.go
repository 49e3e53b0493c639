package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicName(t *testing.T) {
	c := &Client{projectID: "marketpay-prod"}
	cases := map[string]string{
		"":                                   "",
		"order-events":                       "projects/marketpay-prod/topics/order-events",
		" order-events ":                     "projects/marketpay-prod/topics/order-events",
		"projects/other/topics/order-events": "projects/other/topics/order-events",
	}
	for in, want := range cases {
		assert.Equal(t, want, c.topicName(in), "input %q", in)
	}

	assert.Empty(t, (&Client{}).topicName("order-events"))
}

func TestUnconnectedClient(t *testing.T) {
	c := &Client{projectID: "p"}
	assert.Nil(t, c.Publisher("order-events"))
	assert.NoError(t, c.Close())
}
