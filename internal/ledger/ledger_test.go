package ledger

import (
	"sync"
	"testing"
	"time"

	"mt5_copier/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(master string, ticket int64) domain.PositionKey {
	return domain.PositionKey{AccountID: master, Ticket: ticket}
}

func levels(sl, tp string) domain.StopLevels {
	return domain.StopLevels{StopLoss: decimal.RequireFromString(sl), TakeProfit: decimal.RequireFromString(tp)}
}

func TestWatermark_Monotonic(t *testing.T) {
	l := New()

	assert.Equal(t, int64(0), l.Watermark("m1"))
	assert.True(t, l.AdvanceWatermark("m1", 1001))
	assert.False(t, l.AdvanceWatermark("m1", 1000))
	assert.False(t, l.AdvanceWatermark("m1", 1001))
	assert.Equal(t, int64(1001), l.Watermark("m1"))
	assert.Equal(t, int64(0), l.Watermark("m2"), "watermarks are per master")
}

func TestWatermark_Concurrent(t *testing.T) {
	l := New()

	var wg sync.WaitGroup
	for i := int64(1); i <= 200; i++ {
		wg.Add(1)
		go func(ticket int64) {
			defer wg.Done()
			l.AdvanceWatermark("m1", ticket)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(200), l.Watermark("m1"))
}

func TestRecordMapping_Lifecycle(t *testing.T) {
	l := New()
	k := key("m1", 1001)
	lv := levels("1.0900", "1.1100")

	l.RecordMapping(k, "f1", FollowerLeg{Ticket: 5001, Levels: lv, OpenedAt: time.Now()}, lv)
	l.RecordMapping(k, "f2", FollowerLeg{Ticket: 7001}, domain.StopLevels{})

	assert.Equal(t, map[string]int64{"f1": 5001, "f2": 7001}, l.Mapping(k))
	assert.True(t, l.HasMapping(k, "f1"))
	assert.False(t, l.HasMapping(k, "f3"))

	rec, ok := l.Record(k)
	require.True(t, ok)
	assert.True(t, rec.Levels.Equal(lv), "first mapping sets master levels")

	assert.False(t, l.RemoveRecordIfEmpty(k))
	l.RemoveFollowerMapping(k, "f1")
	l.RemoveFollowerMapping(k, "f2")
	assert.True(t, l.RemoveRecordIfEmpty(k))

	_, ok = l.Record(k)
	assert.False(t, ok)
	assert.Empty(t, l.Mapping(k))
}

func TestRecord_ReturnsCopy(t *testing.T) {
	l := New()
	k := key("m1", 1)
	l.RecordMapping(k, "f1", FollowerLeg{Ticket: 10}, domain.StopLevels{})

	rec, _ := l.Record(k)
	delete(rec.Followers, "f1")

	assert.True(t, l.HasMapping(k, "f1"))
}

func TestTrackedTickets_SortedPerMaster(t *testing.T) {
	l := New()
	l.RecordMapping(key("m1", 30), "f1", FollowerLeg{Ticket: 1}, domain.StopLevels{})
	l.RecordMapping(key("m1", 10), "f1", FollowerLeg{Ticket: 2}, domain.StopLevels{})
	l.RecordMapping(key("m2", 20), "f1", FollowerLeg{Ticket: 3}, domain.StopLevels{})

	assert.Equal(t, []domain.PositionKey{key("m1", 10), key("m1", 30)}, l.TrackedTickets("m1"))
	assert.Equal(t, []domain.PositionKey{key("m2", 20)}, l.TrackedTickets("m2"))
	assert.Empty(t, l.TrackedTickets("m3"))
	assert.Equal(t, []string{"m1", "m2"}, l.TrackedMasters())
}

func TestLevels_VersionOnlyOnChange(t *testing.T) {
	l := New()
	k := key("m1", 1)
	lv := levels("1", "2")
	l.RecordMapping(k, "f1", FollowerLeg{Ticket: 10}, lv)

	v := l.Version()
	l.SetMasterLevels(k, lv)
	assert.Equal(t, v, l.Version(), "same levels are a no-op")

	l.SetMasterLevels(k, levels("1.5", "2"))
	l.SetFollowerLevels(k, "f1", levels("1.5", "2"))
	assert.Equal(t, v+2, l.Version())

	rec, _ := l.Record(k)
	assert.True(t, rec.Followers["f1"].Levels.Equal(levels("1.5", "2")))

	l.SetFollowerLevels(k, "missing", lv)
	assert.Equal(t, v+2, l.Version())
}

func TestRejectFollowerLevels(t *testing.T) {
	l := New()
	k := key("m1", 1)
	l.RecordMapping(k, "f1", FollowerLeg{Ticket: 10}, domain.StopLevels{})

	bad := levels("1.5", "0")
	l.RejectFollowerLevels(k, "f1", bad)
	v := l.Version()
	l.RejectFollowerLevels(k, "f1", bad)
	assert.Equal(t, v, l.Version(), "same rejection is a no-op")

	rec, _ := l.Record(k)
	leg := rec.Followers["f1"]
	assert.True(t, leg.Settled(bad))
	assert.False(t, leg.Settled(levels("1.4", "0")))
	assert.True(t, leg.Levels.IsZero(), "rejected levels are not applied levels")

	l.SetFollowerLevels(k, "f1", levels("1.4", "0"))
	rec, _ = l.Record(k)
	assert.Nil(t, rec.Followers["f1"].Rejected, "a successful modify clears the rejection")
}

func TestSnapshotRestore(t *testing.T) {
	l := New()
	l.AdvanceWatermark("m1", 1002)
	l.RecordMapping(key("m1", 1002), "f1", FollowerLeg{Ticket: 9}, levels("1", "0"))
	l.RecordMapping(key("m1", 1001), "f2", FollowerLeg{Ticket: 8}, domain.StopLevels{})

	st := l.Snapshot()
	require.Len(t, st.Records, 2)
	assert.Equal(t, int64(1001), st.Records[0].Key.Ticket, "records are ordered")

	restored := New()
	restored.Restore(st)

	assert.Equal(t, int64(1002), restored.Watermark("m1"))
	assert.Equal(t, map[string]int64{"f1": 9}, restored.Mapping(key("m1", 1002)))
	assert.Equal(t, 2, restored.Len())

	st.Watermarks["m1"] = 1
	assert.Equal(t, int64(1002), restored.Watermark("m1"), "restore copies the state")
}
