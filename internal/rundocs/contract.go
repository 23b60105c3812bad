package rundocs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microprobe/internal/hardware"
)

// RunBackendContract verifies that a Backend implementation adheres to the
// interface contract. b must be empty.
func RunBackendContract(t *testing.T, b Backend) {
	ctx := context.Background()
	started := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("Scan ids increase", func(t *testing.T) {
		first, err := b.NextScanID(ctx)
		require.NoError(t, err)
		second, err := b.NextScanID(ctx)
		require.NoError(t, err)
		assert.Equal(t, first+1, second)
	})

	t.Run("Start records and stop", func(t *testing.T) {
		doc := StartDoc{
			UID:      "run-a",
			ScanID:   7,
			Time:     started,
			PlanName: "fly_raster",
			Label:    "grid-a",
			Metadata: map[string]any{"beamline_id": "XFM"},
		}
		require.NoError(t, b.PutStart(ctx, doc))
		assert.Error(t, b.PutStart(ctx, doc), "duplicate start must be rejected")

		records := []hardware.Record{
			{Time: started, Seq: 1, Data: map[string]any{"x": 0.1}},
			{Time: started, Seq: 2, Data: map[string]any{"x": 0.3}},
		}
		require.NoError(t, b.AppendRecords(ctx, "run-a", records))

		run, err := b.Run(ctx, "run-a")
		require.NoError(t, err)
		assert.True(t, run.Open())
		assert.Equal(t, 2, run.Records)
		assert.Equal(t, "grid-a", run.Start.Label)
		assert.Equal(t, "XFM", run.Start.Metadata["beamline_id"])
		assert.True(t, run.Start.Time.Equal(started))

		require.NoError(t, b.PutStop(ctx, StopDoc{UID: "run-a", Time: started.Add(time.Minute), ExitStatus: hardware.ExitSuccess, NumEvents: 2}))
		run, err = b.Run(ctx, "run-a")
		require.NoError(t, err)
		require.NotNil(t, run.Stop)
		assert.Equal(t, hardware.ExitSuccess, run.Stop.ExitStatus)

		stored, err := b.Records(ctx, "run-a")
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, 2, stored[1].Seq)
		assert.InDelta(t, 0.3, stored[1].Data["x"], 1e-12)
	})

	t.Run("Unknown run", func(t *testing.T) {
		_, err := b.Run(ctx, "missing")
		assert.ErrorIs(t, err, ErrRunNotFound)
		assert.ErrorIs(t, b.AppendRecords(ctx, "missing", []hardware.Record{{Seq: 1}}), ErrRunNotFound)
		assert.ErrorIs(t, b.PutStop(ctx, StopDoc{UID: "missing"}), ErrRunNotFound)
	})

	t.Run("Runs newest first", func(t *testing.T) {
		require.NoError(t, b.PutStart(ctx, StartDoc{UID: "run-b", Time: started, PlanName: "fly_raster"}))
		runs, err := b.Runs(ctx, 0)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-b", runs[0].Start.UID)
		assert.Equal(t, "run-a", runs[1].Start.UID)

		limited, err := b.Runs(ctx, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "run-b", limited[0].Start.UID)
	})

	t.Run("Metadata", func(t *testing.T) {
		require.NoError(t, b.SetMetadata(ctx, "beamline_id", "XFM"))
		require.NoError(t, b.SetMetadata(ctx, "proposal", "P-1"))
		require.NoError(t, b.DeleteMetadata(ctx, "proposal"))
		md, err := b.Metadata(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"beamline_id": "XFM"}, md)
	})
}
