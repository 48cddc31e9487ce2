package pubsub

import (
	"testing"

	"github.com/angelmondragon/shopbot-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project string
		name    string
		want    string
	}{
		{"proj", "purchases", "projects/proj/topics/purchases"},
		{"proj", " purchases ", "projects/proj/topics/purchases"},
		{"proj", "projects/other/topics/delivery", "projects/other/topics/delivery"},
		{"", "purchases", ""},
		{"proj", "", ""},
	}
	for _, tc := range cases {
		if got := topicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("topicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestTopicNamesDeduplicates(t *testing.T) {
	names := TopicNames(config.PubSubConfig{PurchasesTopic: "events", DeliveryTopic: " events "})
	if len(names) != 1 || names[0] != "events" {
		t.Fatalf("expected single topic, got %v", names)
	}

	if names := TopicNames(config.PubSubConfig{}); len(names) != 0 {
		t.Fatalf("expected no topics, got %v", names)
	}
}

func TestNilClientPublisher(t *testing.T) {
	var c *Client
	if c.Publisher("purchases") != nil {
		t.Fatalf("expected nil publisher from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}
