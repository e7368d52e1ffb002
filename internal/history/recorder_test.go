package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/betbot/diparb/internal/events"
)

func openTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRecordAndListRounds(t *testing.T) {
	r := openTestRecorder(t)
	base := time.Now()

	require.NoError(t, r.RecordRound(&events.RoundCompletePayload{
		RoundID: "r1", MarketSlug: "btc-updown-5m-100", Status: events.StatusCompleted,
		TotalCost: 0.937, Profit: 1.26, Merged: true, MergeTxHash: "0xmerge",
	}, base))
	require.NoError(t, r.RecordRound(&events.RoundCompletePayload{
		RoundID: "r2", MarketSlug: "btc-updown-5m-400", Status: events.StatusExpired,
	}, base.Add(time.Second)))

	rounds, err := r.RecentRounds(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	// 新的在前
	require.Equal(t, "r2", rounds[0].RoundID)
	require.Equal(t, events.StatusExpired, rounds[0].Status)
	require.Equal(t, "r1", rounds[1].RoundID)
	require.True(t, rounds[1].Merged)
	require.InDelta(t, 1.26, rounds[1].Profit, 1e-9)
}

func TestRecordRoundUpsert(t *testing.T) {
	r := openTestRecorder(t)
	base := time.Now()

	require.NoError(t, r.RecordRound(&events.RoundCompletePayload{
		RoundID: "r1", MarketSlug: "btc-updown-5m-100", Status: events.StatusCompleted,
		TotalCost: 0.937, Profit: 1.26,
	}, base))
	require.NoError(t, r.RecordRound(&events.RoundCompletePayload{
		RoundID: "r1", MarketSlug: "btc-updown-5m-100", Status: events.StatusCompleted,
		TotalCost: 0.937, Profit: 1.26, Merged: true, MergeTxHash: "0xmerge",
	}, base.Add(time.Second)))

	rounds, err := r.RecentRounds(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	require.True(t, rounds[0].Merged)
	require.Equal(t, "0xmerge", rounds[0].MergeTxHash)
}

func TestAttachRecordsFromEvents(t *testing.T) {
	r := openTestRecorder(t)
	em := events.NewEmitter()
	detach := r.Attach(em)
	defer detach()

	em.Emit(events.KindRoundComplete, &events.RoundCompletePayload{
		RoundID: "r1", MarketSlug: "btc-updown-5m-100", Status: events.StatusPartial,
	})
	em.Emit(events.KindSettled, &events.SettledPayload{
		Success: true, Strategy: "redeem", MarketSlug: "btc-updown-5m-100", AmountReceived: 20, TxHash: "0xredeem",
	})

	rounds, err := r.RecentRounds(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	require.Equal(t, events.StatusPartial, rounds[0].Status)

	settles, err := r.RecentSettlements(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, settles, 1)
	require.True(t, settles[0].Success)
	require.InDelta(t, 20.0, settles[0].AmountReceived, 1e-9)
}
