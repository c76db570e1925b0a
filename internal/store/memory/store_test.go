package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mwolters/catalog-harvester/internal/harvest"
)

func TestStore_PersistSkipsDuplicates(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, []harvest.Product{
		{ExternalID: "a", CategoryID: "1"},
		{ExternalID: "b", CategoryID: "1"},
	}))
	require.NoError(t, s.Persist(ctx, []harvest.Product{
		{ExternalID: "a", CategoryID: "2"},
		{ExternalID: "c", CategoryID: "2"},
	}))

	ids, err := s.LoadIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, ids)

	// The first write wins for a duplicated id.
	all, err := s.Read(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, "1", all[0].CategoryID)
}

func TestStore_ReadWindow(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, s.Persist(ctx, []harvest.Product{{ExternalID: fmt.Sprintf("p-%d", i)}}))
	}

	page, err := s.Read(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "p-2", page[0].ExternalID)

	tail, err := s.Read(ctx, 4, 10)
	require.NoError(t, err)
	require.Len(t, tail, 1)

	none, err := s.Read(ctx, 9, 1)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestStore_ConcurrentPersists(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				_ = s.Persist(ctx, []harvest.Product{{ExternalID: fmt.Sprintf("w%d-%d", w, i)}})
			}
		}()
	}
	wg.Wait()

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 200, count)
}
