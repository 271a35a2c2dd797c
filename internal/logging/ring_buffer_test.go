package logging

import (
	"fmt"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer_WrapsOldestFirst(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Write(LogEntry{Message: fmt.Sprintf("m%d", i)})
	}

	entries := rb.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "m2", entries[0].Message)
	assert.Equal(t, "m4", entries[2].Message)

	recent := rb.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "m3", recent[0].Message)
	assert.Equal(t, 3, rb.Len())

	rb.Clear()
	assert.Empty(t, rb.Entries())
}

func TestRingBuffer_FireMasksSensitiveFields(t *testing.T) {
	rb := NewRingBuffer(10)
	logger := log.New()
	entry := log.NewEntry(logger).WithFields(log.Fields{
		"token":     "ya29.a0AfH6SMBxyz1234",
		"operation": "generate",
	})
	entry.Time = time.Now()
	entry.Level = log.WarnLevel
	entry.Message = "relay"

	require.NoError(t, rb.Fire(entry))

	got := rb.Entries()
	require.Len(t, got, 1)
	assert.Equal(t, "warn", got[0].Level)
	assert.Equal(t, "ya29.a...1234", got[0].Fields["token"])
	assert.Equal(t, "generate", got[0].Fields["operation"])
}
