package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/newstore-ledger/internal/clock"
	"github.com/iliyamo/newstore-ledger/internal/repository/memstore"
)

type countingSettings struct {
	*memstore.Store
	reads int
}

func (c *countingSettings) GetSetting(ctx context.Context, name string) (string, error) {
	c.reads++
	return c.Store.GetSetting(ctx, name)
}

func TestCurrentFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New(memstore.New(), nil, clk, time.Minute, 500)

	v, err := c.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), v)
}

func TestCurrentCachesUntilTTL(t *testing.T) {
	ctx := context.Background()
	src := &countingSettings{Store: memstore.New()}
	require.NoError(t, src.PutSetting(ctx, SettingName, "700"))
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New(src, nil, clk, time.Minute, 500)

	for i := 0; i < 3; i++ {
		v, err := c.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(700), v)
	}
	assert.Equal(t, 1, src.reads)

	// an out-of-band change is picked up only after the TTL
	require.NoError(t, src.PutSetting(ctx, SettingName, "900"))
	v, _ := c.Current(ctx)
	assert.Equal(t, int64(700), v)
	clk.Advance(time.Minute)
	v, _ = c.Current(ctx)
	assert.Equal(t, int64(900), v)
	assert.Equal(t, 2, src.reads)
}

func TestSetInvalidates(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New(memstore.New(), nil, clk, time.Hour, 500)

	v, _ := c.Current(ctx)
	assert.Equal(t, int64(500), v)
	require.NoError(t, c.Set(ctx, 1200))
	v, _ = c.Current(ctx)
	assert.Equal(t, int64(1200), v)

	assert.Error(t, c.Set(ctx, 0))
}

func TestMalformedSettingUsesDefault(t *testing.T) {
	ctx := context.Background()
	src := memstore.New()
	require.NoError(t, src.PutSetting(ctx, SettingName, "ten"))
	c := New(src, nil, clock.NewFake(time.Unix(0, 0)), time.Minute, 500)
	v, err := c.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), v)
}
