package kb

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk/pkg/embedding"
	"helpdesk/pkg/incerrors"
)

func newTestIndex(t *testing.T) (*Index, *embedding.MockEmbedder) {
	t.Helper()
	embedder := embedding.NewMockEmbedder("vpn", "printer")
	return NewIndex(embedder), embedder
}

func TestReindexPublishesSnapshot(t *testing.T) {
	idx, _ := newTestIndex(t)

	count, err := idx.Reindex(context.Background(), sampleKB)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	snap := idx.Current()
	assert.Equal(t, uint64(1), snap.Generation)
	assert.Equal(t, 2, snap.Len())

	entry, ok := snap.Lookup("KB_VPN_01")
	require.True(t, ok)
	assert.Equal(t, "VPN will not connect", entry.UseCase)

	_, ok = snap.Lookup("KB_NOPE_99")
	assert.False(t, ok)
}

func TestReindexRejectsMalformedTextKeepsOldSnapshot(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.Reindex(ctx, sampleKB)
	require.NoError(t, err)
	before := idx.Current()

	_, err = idx.Reindex(ctx, "no markers here")
	require.Error(t, err)
	assert.True(t, incerrors.Is(err, incerrors.KindValidation))

	// The failed reindex must not have touched the live snapshot.
	after := idx.Current()
	assert.Same(t, before, after)
	assert.Equal(t, uint64(1), after.Generation)
}

func TestReindexEmbedderFailureKeepsOldSnapshot(t *testing.T) {
	idx, embedder := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.Reindex(ctx, sampleKB)
	require.NoError(t, err)
	before := idx.Current()

	embedder.Err = errors.New("embedder down")
	_, err = idx.Reindex(ctx, sampleKB)
	require.Error(t, err)
	assert.True(t, incerrors.Is(err, incerrors.KindCapabilityUnavailable))
	assert.Same(t, before, idx.Current())
}

func TestReindexAtomicSwapUnderConcurrentReaders(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	oldText := "[KB_ID: OLD_1]\nUse Case: old one\n\n[KB_ID: OLD_2]\nUse Case: old two\n"
	newText := "[KB_ID: NEW_1]\nUse Case: new one\n\n[KB_ID: NEW_2]\nUse Case: new two\n"

	_, err := idx.Reindex(ctx, oldText)
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	violations := make(chan string, 16)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := idx.Current()
				entries := snap.Entries()
				sawOld, sawNew := false, false
				for _, e := range entries {
					switch e.ID[:3] {
					case "OLD":
						sawOld = true
					case "NEW":
						sawNew = true
					}
				}
				if sawOld && sawNew {
					select {
					case violations <- "mixed snapshot observed":
					default:
					}
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		text := oldText
		if i%2 == 0 {
			text = newText
		}
		_, err := idx.Reindex(ctx, text)
		require.NoError(t, err)
	}

	close(stop)
	wg.Wait()
	select {
	case v := <-violations:
		t.Fatal(v)
	default:
	}
}

func TestGenerationIncreasesMonotonically(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	var last uint64
	for i := 0; i < 5; i++ {
		_, err := idx.Reindex(ctx, sampleKB)
		require.NoError(t, err)
		gen := idx.Current().Generation
		assert.Greater(t, gen, last)
		last = gen
	}
}
