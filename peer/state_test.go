package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBatchId_RoundTrip(t *testing.T) {
	id := BatchId{Start: 0, End: 2}
	encoded := id.Encode()

	decoded, err := DecodeBatchId(encoded)
	require.NoError(t, err)
	require.Equal(t, id, decoded)
}

func TestDecodeBatchId_UnknownBytesError(t *testing.T) {
	_, err := DecodeBatchId([]byte{0xff})
	require.Error(t, err)
}

// TestS3_BroadcastAndAckRetry exercises spec.md scenario S3.
func TestS3_BroadcastAndAckRetry(t *testing.T) {
	s := newState()

	batch1 := BatchId{Start: 0, End: 2}
	s.RecordBroadcast(batch1, []uint64{1, 2}, 2, time.Now(), nil)
	require.Equal(t, uint64(2), s.TimelineID())

	handled := s.HandleResponse(batch1.Encode(), []uint64{1}, false)
	require.True(t, handled)
	require.ElementsMatch(t, []uint64{2}, s.RetryIDs())
	require.False(t, s.BackoffMode())

	batch2 := BatchId{Start: 2, End: 3}
	s.RecordBroadcast(batch2, []uint64{2, 3}, 3, time.Now(), []uint64{2})
	require.Empty(t, s.RetryIDs())
	require.Equal(t, uint64(3), s.TimelineID())
}

func TestHandleResponse_UnknownBatchIgnored(t *testing.T) {
	s := newState()
	handled := s.HandleResponse(BatchId{Start: 0, End: 1}.Encode(), []uint64{0}, false)
	require.False(t, handled)
}

func TestBackoffStickiness(t *testing.T) {
	s := newState()
	batch := BatchId{Start: 0, End: 1}
	s.RecordBroadcast(batch, []uint64{0}, 1, time.Now(), nil)

	s.HandleResponse(batch.Encode(), nil, true)
	require.True(t, s.BackoffMode())
}

func TestExpireStaleBatches(t *testing.T) {
	s := newState()
	batch := BatchId{Start: 0, End: 1}
	old := time.Now().Add(-time.Hour)
	s.RecordBroadcast(batch, []uint64{5}, 1, old, nil)

	s.ExpireStaleBatches(time.Now(), time.Minute)
	require.ElementsMatch(t, []uint64{5}, s.RetryIDs())

	_, ok := s.TimelineIDsForBatch(batch)
	require.False(t, ok)
}
