package processor

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedUntilComplete(t *testing.T, b *RecordingBuffer, blockSize, maxBlocks int) *Recording {
	t.Helper()
	for i := 0; i < maxBlocks; i++ {
		rec, err := b.Feed(rampSamples(0, blockSize))
		require.NoError(t, err)
		if rec != nil {
			return rec
		}
	}
	t.Fatalf("recording did not complete within %d blocks", maxBlocks)
	return nil
}

func TestFeedWithoutSessionIsIgnored(t *testing.T) {
	b := NewRecordingBuffer(16000)

	rec, err := b.Feed(rampSamples(0, 100))
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.False(t, b.Active())
}

func TestRecordingDurationRoundsUp(t *testing.T) {
	b := NewRecordingBuffer(16000)
	require.NoError(t, b.Start(1000*time.Millisecond))
	assert.True(t, b.Active())

	// 1000 ms at 16000 Hz needs 16000 samples; blocks of 441 overshoot the
	// target rather than cutting the recording short.
	rec := feedUntilComplete(t, b, 441, 100)
	assert.GreaterOrEqual(t, rec.Samples, 16000)
	assert.Equal(t, 16000, rec.SampleRate)
	assert.GreaterOrEqual(t, rec.Duration(), 1000*time.Millisecond)
	assert.False(t, b.Active(), "session must clear on completion")
}

func TestRecordingCompletesExactlyOnce(t *testing.T) {
	b := NewRecordingBuffer(16000)
	require.NoError(t, b.Start(time.Millisecond))

	rec, err := b.Feed(rampSamples(0, 100))
	require.NoError(t, err)
	require.NotNil(t, rec)

	// Follow-up feeds belong to no session.
	rec, err = b.Feed(rampSamples(0, 100))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSecondStartRejectedWhileActive(t *testing.T) {
	b := NewRecordingBuffer(16000)
	require.NoError(t, b.Start(time.Second))

	err := b.Start(time.Second)
	assert.ErrorIs(t, err, ErrRecordingInProgress)

	// The original session is undisturbed and still completes.
	rec := feedUntilComplete(t, b, 4000, 10)
	assert.GreaterOrEqual(t, rec.Samples, 16000)

	// A fresh session may start once the first completed.
	assert.NoError(t, b.Start(time.Second))
}

func TestCancelDiscardsSession(t *testing.T) {
	b := NewRecordingBuffer(16000)
	require.NoError(t, b.Start(time.Millisecond))

	b.Cancel()
	assert.False(t, b.Active())

	rec, err := b.Feed(rampSamples(0, 16000))
	require.NoError(t, err)
	assert.Nil(t, rec, "cancelled session must never deliver")
}

func TestRecordingBlobIsValidWAV(t *testing.T) {
	b := NewRecordingBuffer(16000)
	require.NoError(t, b.Start(10*time.Millisecond)) // 160 samples

	samples := make([]float32, 200)
	for i := range samples {
		samples[i] = float32(i) / 32767
	}
	rec, err := b.Feed(samples)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 200, rec.Samples)

	decoder := wav.NewDecoder(bytes.NewReader(rec.Blob))
	require.True(t, decoder.IsValidFile(), "blob must decode as WAV")

	buf, err := decoder.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 16000, buf.Format.SampleRate)
	assert.Equal(t, 1, buf.Format.NumChannels)
	require.Len(t, buf.Data, 200)
	for i, v := range buf.Data {
		assert.Equal(t, i, v, "sample %d", i)
	}
}
