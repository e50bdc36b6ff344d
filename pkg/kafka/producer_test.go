package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(WithCompression("lz4"))
	assert.ErrorIs(t, err, ErrNoBrokers)
}

func TestNewProducer_AppliesOptions(t *testing.T) {
	p, err := NewProducer(
		WithBrokers([]string{"localhost:9092"}),
		WithCompression("zstd"),
		WithRequiredAcks(1),
		WithMaxAttempts(0),
		WithHashByKey(true),
	)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, kafka.RequireOne, p.w.RequiredAcks)
	assert.Equal(t, kafka.Zstd, p.w.Compression)
	assert.Equal(t, 3, p.w.MaxAttempts)
	assert.IsType(t, &kafka.Hash{}, p.w.Balancer)
}

func TestPayloadBytes(t *testing.T) {
	b, err := payloadBytes("raw")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), b)

	b, err = payloadBytes(map[string]int{"tier": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tier":1}`, string(b))

	_, err = payloadBytes(func() {})
	assert.Error(t, err)
}
