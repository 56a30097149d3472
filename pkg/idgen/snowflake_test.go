package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIDUniqueAcrossGoroutines(t *testing.T) {
	const workers, perWorker = 8, 500

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				ids = append(ids, NextID())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(GenerateTransactionNo(), "FND"))
	assert.True(t, strings.HasPrefix(GenerateLedgerEntryNo(), "LED"))
	assert.True(t, strings.HasPrefix(GenerateOperationNo(), "OPR"))

	a, b := GenerateTransactionNo(), GenerateTransactionNo()
	require.NotEqual(t, a, b)
	assert.LessOrEqual(t, len(a), 64)
}
