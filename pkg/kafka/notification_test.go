package kafka

import (
	"testing"

	"aec-rag-go/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBucketNotification(t *testing.T) {
	payload := `{"EventName":"s3:ObjectCreated:Put","Key":"docs/structural/beam+schedule.pdf","Records":[
		{"eventName":"s3:ObjectCreated:Put","s3":{"bucket":{"name":"docs"},"object":{"key":"structural/beam+schedule%281%29.pdf"}}},
		{"eventName":"s3:ObjectRemoved:Delete","s3":{"bucket":{"name":"docs"},"object":{"key":"mep/old.docx"}}},
		{"eventName":"s3:ObjectAccessed:Get","s3":{"bucket":{"name":"docs"},"object":{"key":"mep/read.docx"}}},
		{"eventName":"s3:ObjectCreated:Put","s3":{"bucket":{"name":"docs"},"object":{"key":"mep/"}}}
	]}`
	events, err := ParseBucketNotification([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, []provider.ObjectEvent{
		{URI: "minio://docs/structural/beam schedule(1).pdf", Kind: provider.ObjectUpserted},
		{URI: "minio://docs/mep/old.docx", Kind: provider.ObjectRemoved},
	}, events)
}

func TestParseBucketNotificationInvalid(t *testing.T) {
	_, err := ParseBucketNotification([]byte("not json"))
	assert.Error(t, err)
}

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokers(" a:9092, ,b:9092"))
}
