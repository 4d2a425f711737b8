package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"storesync/internal/models"
	"storesync/internal/queue"
	"storesync/internal/remote"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upsertCall struct {
	collection string
	records    []models.Record
	conflict   []string
}

// fakeRemote records upserts and mirrors the remote store's last-write-wins
// semantics keyed by the conflict columns.
type fakeRemote struct {
	mu      sync.Mutex
	calls   []upsertCall
	errs    map[string]error // error per collection
	panicOn string
	state   map[string]map[string]models.Record // collection -> conflict key -> record
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		errs:  make(map[string]error),
		state: make(map[string]map[string]models.Record),
	}
}

func (f *fakeRemote) Upsert(_ context.Context, collection string, records []models.Record, conflict []string) error {
	if f.panicOn == collection {
		panic("connection reset mid-flight")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, upsertCall{collection: collection, records: records, conflict: conflict})
	if err := f.errs[collection]; err != nil {
		return err
	}

	if f.state[collection] == nil {
		f.state[collection] = make(map[string]models.Record)
	}
	for _, rec := range records {
		parts := make([]string, 0, len(conflict))
		for _, col := range conflict {
			parts = append(parts, fmt.Sprint(rec[col]))
		}
		f.state[collection][strings.Join(parts, "|")] = rec
	}
	return nil
}

func (f *fakeRemote) Health(context.Context) error { return nil }

func (f *fakeRemote) collections() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.collection)
	}
	return out
}

type fakeReach struct{ online bool }

func (f *fakeReach) Online() bool { return f.online }

func newTestCoordinator(t *testing.T, remoteStore *fakeRemote, reach *fakeReach) (*Coordinator, *queue.Store) {
	t.Helper()
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	store, err := queue.NewStore(filepath.Join(t.TempDir(), "queue.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if remoteStore == nil {
		return New(store, nil, reach, nil, &logger), store
	}
	return New(store, remoteStore, reach, nil, &logger), store
}

func inventoryRequest(sessionID string) SubmitRequest {
	return SubmitRequest{
		Type:      models.TypeInventory,
		StoreID:   "s1",
		SessionID: sessionID,
		Session:   models.Record{"id": sessionID, "store_id": "s1", "date": "2024-01-01"},
		Items: []models.Record{
			{"session_id": sessionID, "product_id": "p1", "quantity": 5},
		},
	}
}

func submit(t *testing.T, c *Coordinator, req SubmitRequest) (successMsg, errorMsg string, successCalls, errorCalls int) {
	t.Helper()
	c.Submit(context.Background(), req,
		func(msg string) { successMsg = msg; successCalls++ },
		func(msg string) { errorMsg = msg; errorCalls++ },
	)
	return
}

func TestSubmitOfflineQueuesWithoutLoss(t *testing.T) {
	rem := newFakeRemote()
	coord, store := newTestCoordinator(t, rem, &fakeReach{online: false})

	req := inventoryRequest("sess_off")
	successMsg, _, successCalls, errorCalls := submit(t, coord, req)

	assert.Equal(t, 1, successCalls)
	assert.Equal(t, 0, errorCalls)
	assert.Equal(t, MsgQueuedOffline, successMsg)
	assert.Empty(t, rem.collections(), "no remote call while offline")

	subs, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, req.Session, subs[0].Payload.Session)
	require.Len(t, subs[0].Payload.Items, 1)
	// quantity survives the JSON round trip as float64
	assert.EqualValues(t, 5, subs[0].Payload.Items[0]["quantity"])
}

func TestSubmitWithoutRemoteQueues(t *testing.T) {
	coord, store := newTestCoordinator(t, nil, &fakeReach{online: true})

	_, _, successCalls, errorCalls := submit(t, coord, inventoryRequest("sess_norc"))

	assert.Equal(t, 1, successCalls)
	assert.Equal(t, 0, errorCalls)
	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSubmitOnlineSessionBeforeItems(t *testing.T) {
	rem := newFakeRemote()
	coord, store := newTestCoordinator(t, rem, &fakeReach{online: true})

	successMsg, _, successCalls, _ := submit(t, coord, inventoryRequest("sess_on"))

	assert.Equal(t, 1, successCalls)
	assert.Equal(t, MsgSynced, successMsg)

	require.Len(t, rem.calls, 2)
	assert.Equal(t, "inventory_sessions", rem.calls[0].collection)
	assert.Equal(t, []string{"id"}, rem.calls[0].conflict)
	assert.Equal(t, "inventory_items", rem.calls[1].collection)
	assert.Equal(t, []string{"session_id", "product_id"}, rem.calls[1].conflict)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSubmitSettlementCollections(t *testing.T) {
	rem := newFakeRemote()
	coord, _ := newTestCoordinator(t, rem, &fakeReach{online: true})

	req := SubmitRequest{
		Type:      models.TypeSettlement,
		StoreID:   "s1",
		SessionID: "sess_settle",
		Session:   models.Record{"id": "sess_settle", "store_id": "s1"},
		Items: []models.Record{
			{"session_id": "sess_settle", "field_id": "cash_total", "value": 1200},
		},
	}
	_, _, successCalls, _ := submit(t, coord, req)

	assert.Equal(t, 1, successCalls)
	require.Len(t, rem.calls, 2)
	assert.Equal(t, "settlement_sessions", rem.calls[0].collection)
	assert.Equal(t, "settlement_values", rem.calls[1].collection)
	assert.Equal(t, []string{"session_id", "field_id"}, rem.calls[1].conflict)
}

func TestSubmitTransientErrorClassification(t *testing.T) {
	t.Run("NetworkPatternQueues", func(t *testing.T) {
		rem := newFakeRemote()
		rem.errs["inventory_sessions"] = errors.New("TypeError: Failed to fetch")
		coord, store := newTestCoordinator(t, rem, &fakeReach{online: true})

		successMsg, _, successCalls, errorCalls := submit(t, coord, inventoryRequest("sess_net"))

		assert.Equal(t, 1, successCalls)
		assert.Equal(t, 0, errorCalls)
		assert.Equal(t, MsgQueuedNetwork, successMsg)

		count, err := store.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("FatalErrorNotQueued", func(t *testing.T) {
		rem := newFakeRemote()
		rem.errs["inventory_sessions"] = errors.New("duplicate key value violates unique constraint")
		coord, store := newTestCoordinator(t, rem, &fakeReach{online: true})

		_, errorMsg, successCalls, errorCalls := submit(t, coord, inventoryRequest("sess_dup"))

		assert.Equal(t, 0, successCalls)
		assert.Equal(t, 1, errorCalls)
		assert.Contains(t, errorMsg, MsgRemoteRejected)

		count, err := store.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("RemoteStatusTransient", func(t *testing.T) {
		rem := newFakeRemote()
		rem.errs["inventory_sessions"] = &remote.Error{Status: 503, Collection: "inventory_sessions", Message: "service unavailable"}
		coord, store := newTestCoordinator(t, rem, &fakeReach{online: true})

		_, _, successCalls, _ := submit(t, coord, inventoryRequest("sess_503"))

		assert.Equal(t, 1, successCalls)
		count, _ := store.Count(context.Background())
		assert.Equal(t, 1, count)
	})

	t.Run("RemoteStatusFatal", func(t *testing.T) {
		rem := newFakeRemote()
		rem.errs["inventory_sessions"] = &remote.Error{Status: 422, Collection: "inventory_sessions", Message: "invalid column"}
		coord, store := newTestCoordinator(t, rem, &fakeReach{online: true})

		_, _, _, errorCalls := submit(t, coord, inventoryRequest("sess_422"))

		assert.Equal(t, 1, errorCalls)
		count, _ := store.Count(context.Background())
		assert.Equal(t, 0, count)
	})
}

func TestSubmitItemsFailureSurfacesWithoutQueueing(t *testing.T) {
	rem := newFakeRemote()
	rem.errs["inventory_items"] = errors.New("timeout while writing items")
	coord, store := newTestCoordinator(t, rem, &fakeReach{online: true})

	_, errorMsg, successCalls, errorCalls := submit(t, coord, inventoryRequest("sess_items"))

	// Session is live remotely; re-queuing would double item semantics.
	assert.Equal(t, 0, successCalls)
	assert.Equal(t, 1, errorCalls)
	assert.Contains(t, errorMsg, MsgItemsFailed)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSubmitPanicFallsBackToQueue(t *testing.T) {
	rem := newFakeRemote()
	rem.panicOn = "inventory_sessions"
	coord, store := newTestCoordinator(t, rem, &fakeReach{online: true})

	successMsg, _, successCalls, errorCalls := submit(t, coord, inventoryRequest("sess_panic"))

	assert.Equal(t, 1, successCalls)
	assert.Equal(t, 0, errorCalls)
	assert.Equal(t, MsgQueuedInterrupt, successMsg)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSubmitRejectsUnknownType(t *testing.T) {
	coord, store := newTestCoordinator(t, newFakeRemote(), &fakeReach{online: true})

	req := inventoryRequest("sess_bad")
	req.Type = "payroll"
	_, errorMsg, _, errorCalls := submit(t, coord, req)

	assert.Equal(t, 1, errorCalls)
	assert.Contains(t, errorMsg, MsgUnknownType)
	count, _ := store.Count(context.Background())
	assert.Equal(t, 0, count)
}

func TestDrainSyncsEverything(t *testing.T) {
	rem := newFakeRemote()
	reach := &fakeReach{online: false}
	coord, store := newTestCoordinator(t, rem, reach)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		submit(t, coord, inventoryRequest(fmt.Sprintf("sess_%d", i)))
	}
	count, _ := store.Count(ctx)
	require.Equal(t, 3, count)

	reach.online = true
	result, err := coord.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DrainResult{Synced: 3, Failed: 0}, result)

	count, _ = store.Count(ctx)
	assert.Equal(t, 0, count)
}

func TestDrainPartialFailureIsolation(t *testing.T) {
	rem := newFakeRemote()
	rem.errs["order_sessions"] = errors.New("connection refused")
	reach := &fakeReach{online: false}
	coord, store := newTestCoordinator(t, rem, reach)
	ctx := context.Background()

	good := inventoryRequest("sess_good")
	bad := SubmitRequest{
		Type:      models.TypeOrder,
		StoreID:   "s1",
		SessionID: "sess_bad",
		Session:   models.Record{"id": "sess_bad", "store_id": "s1"},
	}
	submit(t, coord, good)
	submit(t, coord, bad)

	reach.online = true
	result, err := coord.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DrainResult{Synced: 1, Failed: 1}, result)

	subs, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "sess_bad", subs[0].SessionID)
}

func TestReplayIsIdempotent(t *testing.T) {
	rem := newFakeRemote()
	coord, _ := newTestCoordinator(t, rem, &fakeReach{online: false})
	ctx := context.Background()

	req := inventoryRequest("sess_idem")
	sub := models.NewPendingSubmission(req.Type, req.StoreID, req.SessionID, models.Payload{
		Session: req.Session,
		Items:   req.Items,
	})

	require.NoError(t, coord.Replay(ctx, sub))
	firstSessions := len(rem.state["inventory_sessions"])
	firstItems := len(rem.state["inventory_items"])

	require.NoError(t, coord.Replay(ctx, sub))
	assert.Equal(t, firstSessions, len(rem.state["inventory_sessions"]))
	assert.Equal(t, firstItems, len(rem.state["inventory_items"]))
	assert.Equal(t, req.Session, rem.state["inventory_sessions"]["sess_idem"])
}

func TestOfflineSubmitThenDrainEndToEnd(t *testing.T) {
	rem := newFakeRemote()
	reach := &fakeReach{online: false}
	coord, store := newTestCoordinator(t, rem, reach)
	ctx := context.Background()

	submit(t, coord, inventoryRequest("sess_20240101"))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	reach.online = true
	result, err := coord.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DrainResult{Synced: 1, Failed: 0}, result)

	session := rem.state["inventory_sessions"]["sess_20240101"]
	require.NotNil(t, session)
	assert.Equal(t, "s1", session["store_id"])

	item := rem.state["inventory_items"]["sess_20240101|p1"]
	require.NotNil(t, item)
	assert.EqualValues(t, 5, item["quantity"])

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDrainWithoutRemoteLeavesQueueIntact(t *testing.T) {
	coord, store := newTestCoordinator(t, nil, &fakeReach{online: false})
	ctx := context.Background()

	submit(t, coord, inventoryRequest("sess_keep"))

	result, err := coord.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DrainResult{Synced: 0, Failed: 1}, result)

	count, _ := store.Count(ctx)
	assert.Equal(t, 1, count)
}
