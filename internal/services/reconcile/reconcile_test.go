package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/TrackHub/internal/models"
	"github.com/stretchr/testify/require"
)

func TestDiff_Minimality(t *testing.T) {
	d := Diff([]string{"b", "c", "d"}, []string{"a", "b", "c"})
	require.Equal(t, []string{"d"}, d.Added)
	require.Equal(t, []string{"a"}, d.Removed)
	require.True(t, d.Changed())
}

func TestDiff_IdenticalSetsNoChange(t *testing.T) {
	d := Diff([]string{"a", "b"}, []string{"b", "a"})
	require.Empty(t, d.Added)
	require.Empty(t, d.Removed)
	require.False(t, d.Changed())
}

func TestDiff_Empty(t *testing.T) {
	d := Diff([]string{"a"}, nil)
	require.Equal(t, []string{"a"}, d.Added)
	d = Diff(nil, []string{"a"})
	require.Equal(t, []string{"a"}, d.Removed)
}

type fakeStorage struct {
	entity   *models.Entity
	eventIDs []string

	inserted  *models.Entity
	updated   *models.Entity
	updMethod string
	updAdded  []string
	updRemoved []string
	refreshed *models.Entity
}

func (f *fakeStorage) QueryEntity(_ context.Context, trackingID string) (*models.Entity, error) {
	return f.entity, nil
}
func (f *fakeStorage) QueryEventIDs(_ context.Context, trackingID string) ([]string, error) {
	return f.eventIDs, nil
}
func (f *fakeStorage) InsertEntity(_ context.Context, e *models.Entity) (int64, error) {
	f.inserted = e
	return 1, nil
}
func (f *fakeStorage) UpdateEntity(_ context.Context, e *models.Entity, method string, added, removed []string) (int64, error) {
	f.updated, f.updMethod, f.updAdded, f.updRemoved = e, method, added, removed
	return 1, nil
}
func (f *fakeStorage) RefreshEntity(_ context.Context, trackingID string, e *models.Entity) (int64, error) {
	f.refreshed = e
	return 1, nil
}

func freshEntity(ids ...string) *models.Entity {
	e := models.NewEntity(models.TrackingID{Operator: "fdx", TrackingNum: "123456789012"}, models.IngestionPull)
	when := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range ids {
		e.AddEvent(&models.Event{EventID: id, Status: models.StatusInTransit, When: when.Add(time.Duration(i) * time.Hour)})
	}
	return e
}

func TestApply_FirstSeenInserts(t *testing.T) {
	st := &fakeStorage{}
	r := New(st)

	d, err := r.Apply(context.Background(), freshEntity("e1", "e2"), models.UpdateMethodScheduledPull)
	require.NoError(t, err)
	require.NotNil(t, st.inserted)
	require.Nil(t, st.updated)
	require.Equal(t, []string{"e1", "e2"}, d.Added)
}

func TestApply_UnchangedIsNoop(t *testing.T) {
	stored := freshEntity("e1", "e2")
	st := &fakeStorage{entity: stored, eventIDs: []string{"e1", "e2"}}
	r := New(st)

	d, err := r.Apply(context.Background(), freshEntity("e1", "e2"), models.UpdateMethodScheduledPull)
	require.NoError(t, err)
	require.False(t, d.Changed())
	require.Nil(t, st.inserted)
	require.Nil(t, st.updated) // запись не выдаётся вовсе
}

func TestApply_WritesMinimalDelta(t *testing.T) {
	stored := freshEntity("a", "b", "c")
	st := &fakeStorage{entity: stored, eventIDs: []string{"a", "b", "c"}}
	r := New(st)

	fresh := freshEntity("b", "c", "d")
	d, err := r.Apply(context.Background(), fresh, models.UpdateMethodScheduledPull)
	require.NoError(t, err)
	require.Equal(t, []string{"d"}, d.Added)
	require.Equal(t, []string{"a"}, d.Removed)
	require.Equal(t, []string{"d"}, st.updAdded)
	require.Equal(t, []string{"a"}, st.updRemoved)
	require.Equal(t, models.UpdateMethodScheduledPull, st.updMethod)

	// UUID хранимой сущности неизменен.
	require.Equal(t, stored.UUID, st.updated.UUID)
}

func TestApply_Idempotent(t *testing.T) {
	// Два прогона одного и того же payload: после первого insert второй —
	// no-op, ни одного дубликата event id.
	st := &fakeStorage{}
	r := New(st)

	first := freshEntity("e1", "e2")
	_, err := r.Apply(context.Background(), first, models.UpdateMethodScheduledPull)
	require.NoError(t, err)

	st.entity = st.inserted
	st.eventIDs = st.inserted.EventIDs()
	st.inserted = nil

	d, err := r.Apply(context.Background(), freshEntity("e1", "e2"), models.UpdateMethodScheduledPull)
	require.NoError(t, err)
	require.False(t, d.Changed())
	require.Nil(t, st.inserted)
	require.Nil(t, st.updated)
}

func TestRefresh_ReplacesWholesale(t *testing.T) {
	stored := freshEntity("old")
	st := &fakeStorage{entity: stored}
	r := New(st)

	fresh := freshEntity("new1", "new2")
	require.NoError(t, r.Refresh(context.Background(), fresh))
	require.NotNil(t, st.refreshed)
	require.Equal(t, stored.UUID, st.refreshed.UUID)
}

func TestRefresh_InsertsWhenAbsent(t *testing.T) {
	st := &fakeStorage{}
	r := New(st)
	require.NoError(t, r.Refresh(context.Background(), freshEntity("e1")))
	require.NotNil(t, st.inserted)
	require.Nil(t, st.refreshed)
}
