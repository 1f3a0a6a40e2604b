package introspect

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytesExposesFieldsInOrder(t *testing.T) {
	s := &Snapshot{
		TotalPages: 100,
		FreePages:  40,
	}
	b := s.Bytes()
	require.Len(t, b, int(8*9))
	require.Equal(t, uint64(100), binary.LittleEndian.Uint64(b[0:8]))
	require.Equal(t, uint64(40), binary.LittleEndian.Uint64(b[8:16]))
}

func TestProfileHasOneSamplePerPhase(t *testing.T) {
	s := &Snapshot{
		PagesSelected:  10,
		PagesVetoed:    2,
		PagesReclaimed: 8,
		NotTrackedHits: 1,
		ReclaimNs:      5000,
	}
	p := s.Profile()
	require.NoError(t, p.CheckValid())
	// 4 phase samples plus the reclaim_total timing sample.
	require.Len(t, p.Sample, 5)
}
