package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/engram/pkg/store"
	"github.com/cuemby/engram/pkg/types"
)

func TestCollector_RefreshesStoreGauges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.CreateEpisode(ctx, &types.Episode{
		ID:         "ep1",
		SessionID:  "sess1",
		Scope:      types.ScopeGlobal,
		Summary:    "remembered something",
		Entities:   []string{},
		CreatedAt:  1,
		AccessedAt: 1,
	}))

	c := NewCollector(s, func() int { return 2 })
	c.collect()

	assert.Equal(t, float64(1), testutil.ToFloat64(EpisodesTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(TailersActive))

	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Stop()
}
