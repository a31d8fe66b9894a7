package scheduler

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/TrackHub/internal/apperrors"
	"github.com/BearBump/TrackHub/internal/broker/messages"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/operator"
	"github.com/BearBump/TrackHub/internal/services/ingest"
	"github.com/BearBump/TrackHub/internal/services/reconcile"
)

type fakeOperator struct {
	code      string
	batchSize int
}

func (f *fakeOperator) Code() string                     { return f.code }
func (f *fakeOperator) Mode() models.IngestionMode       { return models.IngestionPull }
func (f *fakeOperator) BatchSize() int                   { return f.batchSize }
func (f *fakeOperator) ValidateTrackingNum(string) error { return nil }
func (f *fakeOperator) ExtraParams(url.Values) (map[string]string, error) {
	return nil, nil
}
func (f *fakeOperator) ValidateParams(models.TrackingID, map[string]string) error { return nil }
func (f *fakeOperator) ValidateStoredEntity(*models.Entity, map[string]string) error {
	return nil
}
func (f *fakeOperator) PullFromSource(context.Context, []models.TrackingID, map[string]string, string) ([]*models.Entity, error) {
	return nil, nil
}
func (f *fakeOperator) ProcessPushData(context.Context, []byte) ([]*models.Entity, int, error) {
	return nil, 0, apperrors.ErrPushNotSupported
}

type fakePuller struct {
	mu      sync.Mutex
	calls   [][]models.TrackingID
	params  []map[string]string
	results []ingest.PullResult
	err     error
}

func (f *fakePuller) ParseID(raw string) (models.TrackingID, error) {
	return models.ParseTrackingID(raw, map[string]models.NumValidator{
		"fdx": func(string) error { return nil },
		"sfx": func(string) error { return nil },
	})
}

func (f *fakePuller) PullBatch(_ context.Context, _ operator.Operator, ids []models.TrackingID, params map[string]string) ([]ingest.PullResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ids)
	f.params = append(f.params, params)
	return f.results, f.err
}

type fakeStorage struct {
	working map[string]map[string]string
	calls   int
}

func (s *fakeStorage) GetInProcessingTrackingNums(context.Context) (map[string]map[string]string, error) {
	s.calls++
	return s.working, nil
}

func workingSet(ids ...string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(ids))
	for _, id := range ids {
		out[id] = nil
	}
	return out
}

type fakeProducer struct {
	mu     sync.Mutex
	topic  string
	keys   []string
	values [][]byte
	err    error
}

func (p *fakeProducer) Publish(_ context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.keys = append(p.keys, string(key))
	p.values = append(p.values, value)
	return p.err
}

type fakeRL struct {
	allowed bool
	keys    []string
}

func (r *fakeRL) Allow(_ context.Context, key string, _ int64, _ time.Duration) (bool, int64, error) {
	r.keys = append(r.keys, key)
	return r.allowed, 1, nil
}

func changedEntity(id models.TrackingID, statuses ...int) ingest.PullResult {
	e := models.NewEntity(id, models.IngestionPull)
	when := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	var added []string
	for i, st := range statuses {
		w := when.Add(time.Duration(i) * time.Hour)
		ev := &models.Event{EventID: models.NewEventID(id, w, st), Status: st, When: w}
		e.AddEvent(ev)
		added = append(added, ev.EventID)
	}
	e.RefreshCompleted()
	return ingest.PullResult{Entity: e, Delta: reconcile.Delta{Added: added}}
}

func TestChunkIDs(t *testing.T) {
	ids := make([]models.TrackingID, 7)
	chunks := chunkIDs(ids, 3)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0], 3)
	require.Len(t, chunks[2], 1)

	require.Len(t, chunkIDs(ids, 0), 7) // защита от нулевого батча
	require.Empty(t, chunkIDs(nil, 3))
}

func TestGroupByOperator_SkipsGarbage(t *testing.T) {
	s := New(operator.NewRegistry(&fakeOperator{code: "fdx", batchSize: 5}),
		&fakePuller{}, &fakeStorage{}, nil, nil, "t")

	got := s.groupByOperator(workingSet("fdx-111", "garbage", "fdx-222", "sfx-SF1"))
	require.Len(t, got["fdx"], 2)
	require.Len(t, got["sfx"], 1)
	// Порядок внутри оператора стабилен независимо от обхода map.
	require.Equal(t, "111", got["fdx"][0].TrackingNum)
	require.Equal(t, "222", got["fdx"][1].TrackingNum)
}

func TestRunOnce_ChunksAndPublishesChanges(t *testing.T) {
	op := &fakeOperator{code: "fdx", batchSize: 2}
	id1 := models.TrackingID{Operator: "fdx", TrackingNum: "111"}
	id2 := models.TrackingID{Operator: "fdx", TrackingNum: "222"}
	id3 := models.TrackingID{Operator: "fdx", TrackingNum: "333"}

	changed := changedEntity(id1, models.StatusInTransit, models.StatusDelivered)
	unchanged := changedEntity(id2)
	unchanged.Delta = reconcile.Delta{}

	puller := &fakePuller{results: []ingest.PullResult{changed, unchanged}}
	st := &fakeStorage{working: workingSet(id1.String(), id2.String(), id3.String())}
	fp := &fakeProducer{}

	s := New(operator.NewRegistry(op), puller, st, fp, nil, "entity.updated").
		WithSettings(time.Hour, 1, 0)
	s.runOnce(context.Background())

	// 3 трека при батче 2 — два вызова к перевозчику.
	require.Len(t, puller.calls, 2)

	// Публикуется только изменившаяся сущность; ключ — tracking id.
	require.Len(t, fp.keys, 2) // два чанка вернули одинаковый results
	require.Equal(t, "entity.updated", fp.topic)
	require.Equal(t, id1.String(), fp.keys[0])

	var msg messages.EntityUpdated
	require.NoError(t, json.Unmarshal(fp.values[0], &msg))
	require.Equal(t, id1.String(), msg.TrackingID)
	require.Equal(t, "fdx", msg.Operator)
	require.True(t, msg.Completed)
	require.Equal(t, models.StatusDelivered, msg.LastStatus)
	require.Len(t, msg.AddedEventIDs, 2)
}

func TestProcessChunk_ClientErrorIsNotCycleError(t *testing.T) {
	op := &fakeOperator{code: "fdx", batchSize: 5}
	puller := &fakePuller{err: apperrors.ErrRouteNotFound}
	s := New(operator.NewRegistry(op), puller, &fakeStorage{}, nil, nil, "t")

	s.processChunk(context.Background(), op, []models.TrackingID{{Operator: "fdx", TrackingNum: "1"}}, nil)
	require.Zero(t, s.Stats().TotalErrors)
}

func TestProcessChunk_ServerErrorCounts(t *testing.T) {
	op := &fakeOperator{code: "fdx", batchSize: 5}
	puller := &fakePuller{err: apperrors.ErrCarrierUnavailable}
	s := New(operator.NewRegistry(op), puller, &fakeStorage{}, nil, nil, "t")

	s.processChunk(context.Background(), op, []models.TrackingID{{Operator: "fdx", TrackingNum: "1"}}, nil)
	st := s.Stats()
	require.Equal(t, int64(1), st.TotalErrors)
	require.Contains(t, st.LastError, "fdx")
}

func TestProcessChunk_RateLimiterKey(t *testing.T) {
	op := &fakeOperator{code: "fdx", batchSize: 5}
	rl := &fakeRL{allowed: true}
	s := New(operator.NewRegistry(op), &fakePuller{}, &fakeStorage{}, nil, rl, "t")

	s.processChunk(context.Background(), op, []models.TrackingID{{Operator: "fdx", TrackingNum: "1"}}, nil)
	require.Len(t, rl.keys, 1)
	require.Contains(t, rl.keys[0], "rl:carrier:fdx:")
}

func TestChunkParams_SingleBatchOperatorGetsStoredParams(t *testing.T) {
	op := &fakeOperator{code: "sfx", batchSize: 1}
	id := models.TrackingID{Operator: "sfx", TrackingNum: "SF1"}

	puller := &fakePuller{}
	st := &fakeStorage{working: map[string]map[string]string{
		id.String(): {"phone": "6789"},
	}}
	s := New(operator.NewRegistry(op), puller, st, nil, nil, "t")
	s.runOnce(context.Background())

	require.Len(t, puller.params, 1)
	require.Equal(t, "6789", puller.params[0]["phone"])

	// У батчевого оператора сохранённых параметров нет.
	batched := &fakeOperator{code: "fdx", batchSize: 30}
	require.Nil(t, chunkParams(batched, []models.TrackingID{id, id}, st.working))
}

func TestScheduler_Run_StopsOnContextCancel(t *testing.T) {
	st := &fakeStorage{}
	s := New(operator.NewRegistry(&fakeOperator{code: "fdx", batchSize: 5}),
		&fakePuller{}, st, nil, nil, "t").
		WithSettings(5*time.Millisecond, 1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	err := s.Run(ctx)
	require.Error(t, err)
	require.GreaterOrEqual(t, st.calls, 1)
}

func TestScheduler_TriggerWakesRun(t *testing.T) {
	st := &fakeStorage{}
	s := New(operator.NewRegistry(&fakeOperator{code: "fdx", batchSize: 5}),
		&fakePuller{}, st, nil, nil, "t").
		WithSettings(time.Hour, 1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Trigger()
	require.Eventually(t, func() bool { return st.calls >= 1 }, time.Second, 5*time.Millisecond)
	require.NotNil(t, s.Stats().LastTriggerAt)
}

func TestScheduler_WithSettings(t *testing.T) {
	s := New(nil, &fakePuller{}, &fakeStorage{}, nil, nil, "t").
		WithSettings(7*time.Minute, 3, 42).
		WithOperatorRateLimit("fdx", 11)
	require.Equal(t, 7*time.Minute, s.pollInterval)
	require.Equal(t, 3, s.concurrency)
	require.Equal(t, int64(42), s.rateLimitPerMinute)
	require.Equal(t, int64(11), s.rateLimits["fdx"])
}
