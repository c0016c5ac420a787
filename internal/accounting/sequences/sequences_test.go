package sequences

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	_ "github.com/odyssey-erp/ledger/testing"
)

type memoryCounter struct {
	mu       sync.Mutex
	last     map[Key]int64
	failures int
}

func newMemoryCounter() *memoryCounter {
	return &memoryCounter{last: make(map[Key]int64)}
}

func (c *memoryCounter) Increment(ctx context.Context, key Key) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.failures--
		return 0, shared.ErrSerialization
	}
	c.last[key]++
	return c.last[key], nil
}

var day = time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC)

func TestFormatPadsToThreeDigitsAndGrows(t *testing.T) {
	key, err := NewKey(7, "bp", day)
	require.NoError(t, err)

	assert.Equal(t, "BP-20251101001", Format(key, 1))
	assert.Equal(t, "BP-20251101003", Format(key, 3))
	assert.Equal(t, "BP-20251101999", Format(key, 999))
	assert.Equal(t, "BP-202511011000", Format(key, 1000))
	assert.Len(t, Format(key, 1000), len("BP-20251101")+4)
}

func TestParse(t *testing.T) {
	cases := map[string]int64{
		"CP-20251101001":  1,
		"CP-20251101042":  42,
		"CP-202511011000": 1000,
		"CP-20251101":     0,
		"CP-20251101abc":  0,
		"garbage":         0,
		"":                0,
	}
	for code, want := range cases {
		assert.Equal(t, want, Parse(code), code)
	}
}

func TestLessOrdersByLengthThenText(t *testing.T) {
	codes := []string{"CP-202511011000", "CP-20251101999", "CP-20251101002"}
	sort.Slice(codes, func(i, j int) bool { return Less(codes[i], codes[j]) })
	assert.Equal(t, []string{"CP-20251101002", "CP-20251101999", "CP-202511011000"}, codes)
}

func TestNewKeyRejectsBadPrefix(t *testing.T) {
	for _, prefix := range []string{"", "C-P", "C%", "WAYTOOLONGPREFIXXX"} {
		_, err := NewKey(1, prefix, day)
		require.ErrorIs(t, err, shared.ErrInvalidPrefix, prefix)
	}
}

func TestNextCodeFirstOfDayIsOne(t *testing.T) {
	svc := NewService(newMemoryCounter(), 3, nil)
	code, err := svc.NextCode(context.Background(), "CP", day, 1)
	require.NoError(t, err)
	assert.Equal(t, "CP-20251101001", code)

	next, err := svc.NextCode(context.Background(), "CP", day, 1)
	require.NoError(t, err)
	assert.Equal(t, "CP-20251101002", next)

	other, err := svc.NextCode(context.Background(), "CP", day, 2)
	require.NoError(t, err)
	assert.Equal(t, "CP-20251101001", other, "tenants have independent counters")
}

func TestNextCodeRetriesConflicts(t *testing.T) {
	counter := newMemoryCounter()
	counter.failures = 2
	svc := NewService(counter, 3, nil)

	code, err := svc.NextCode(context.Background(), "CP", day, 1)
	require.NoError(t, err)
	assert.Equal(t, "CP-20251101001", code)
}

func TestNextCodeGivesUpAfterRetries(t *testing.T) {
	counter := newMemoryCounter()
	counter.failures = 5
	svc := NewService(counter, 2, nil)

	_, err := svc.NextCode(context.Background(), "CP", day, 1)
	require.Error(t, err)
	assert.True(t, shared.IsRetryable(err))
}

func TestNextCodeDoesNotRetryValidation(t *testing.T) {
	calls := 0
	svc := NewService(counterFunc(func(context.Context, Key) (int64, error) {
		calls++
		return 0, errors.New("boom")
	}), 5, nil)

	_, err := svc.NextCode(context.Background(), "CP", day, 1)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNextCodeConcurrentIssuanceIsDistinctAndGapless(t *testing.T) {
	const n = 64
	svc := NewService(newMemoryCounter(), 3, nil)

	codes := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			code, err := svc.NextCode(context.Background(), "CP", day, 9)
			codes[i] = code
			return err
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[int64]bool, n)
	for _, code := range codes {
		seq := Parse(code)
		require.False(t, seen[seq], "duplicate %s", code)
		seen[seq] = true
	}
	for seq := int64(1); seq <= n; seq++ {
		assert.True(t, seen[seq], "missing sequence %d", seq)
	}
}

type counterFunc func(context.Context, Key) (int64, error)

func (f counterFunc) Increment(ctx context.Context, key Key) (int64, error) { return f(ctx, key) }
