package rundocs_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microprobe/internal/hardware"
	"microprobe/internal/rundocs"
)

func TestMemoryBackend_Contract(t *testing.T) {
	rundocs.RunBackendContract(t, rundocs.NewMemoryBackend())
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *rundocs.RedisBackend) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err, "start miniredis")
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	b := rundocs.NewRedisBackendFromClient(client, rundocs.WithPrefix("maia:"))
	t.Cleanup(func() { _ = b.Close() })
	return mr, b
}

func TestRedisBackend_Contract(t *testing.T) {
	_, b := newRedis(t)
	rundocs.RunBackendContract(t, b)
}

func TestRedisBackendKeyLayout(t *testing.T) {
	mr, b := newRedis(t)
	ctx := context.Background()
	require.NoError(t, b.Ping(ctx))

	require.NoError(t, b.PutStart(ctx, rundocs.StartDoc{UID: "u1", ScanID: 1, PlanName: "fly_raster"}))
	require.NoError(t, b.AppendRecords(ctx, "u1", []hardware.Record{{Seq: 1}}))
	require.NoError(t, b.SetMetadata(ctx, "beamline_id", "XFM"))
	_, err := b.NextScanID(ctx)
	require.NoError(t, err)

	raw, err := mr.Get("maia:run:u1")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Contains(t, doc, "start")

	index, err := mr.List("maia:runs")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, index)

	records, err := mr.List("maia:run:u1:records")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	assert.Equal(t, "XFM", mr.HGet("maia:md", "beamline_id"))
	scanID, err := mr.Get("maia:scan_id")
	require.NoError(t, err)
	assert.Equal(t, "1", scanID)
}

func TestRedisBackendSurfacesConnectionErrors(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	b := rundocs.NewRedisBackend(mr.Addr(), "", 0)
	defer b.Close()
	mr.Close()

	_, err = b.NextScanID(context.Background())
	assert.Error(t, err)
}
