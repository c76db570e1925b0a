package harvest

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDSet_SeededAndGrown(t *testing.T) {
	t.Parallel()

	s := NewIDSet([]string{"a", "b"}, []string{"b", "c"})
	require.Equal(t, 3, s.Len())
	require.True(t, s.Has("a"))
	require.False(t, s.Has("z"))

	require.True(t, s.Add("z"))
	require.False(t, s.Add("z"))
	s.AddAll([]string{"a", "q"})
	require.Equal(t, 5, s.Len())
	require.Equal(t, []string{"a", "b", "c", "q", "z"}, s.Snapshot())
}

func TestIDSet_ConcurrentAdds(t *testing.T) {
	t.Parallel()

	s := NewIDSet()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				s.Add(fmt.Sprintf("id-%d", i))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 100, s.Len())
}
