package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
	"github.com/stretchr/testify/assert"
)

func TestCompression(t *testing.T) {
	assert.Equal(t, compress.None, compression("none"))
	assert.Equal(t, compress.Gzip, compression("gzip"))
	assert.Equal(t, compress.Lz4, compression("lz4"))
	assert.Equal(t, compress.Zstd, compression("zstd"))
	assert.Equal(t, compress.Snappy, compression("snappy"))
}

func TestRequiredAcks(t *testing.T) {
	assert.Equal(t, kafka.RequireNone, requiredAcks(0))
	assert.Equal(t, kafka.RequireOne, requiredAcks(1))
	assert.Equal(t, kafka.RequireAll, requiredAcks(-1))
}
