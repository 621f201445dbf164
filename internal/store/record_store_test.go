package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vistoria/fieldsync/internal/models"
)

func newTestStore(t *testing.T) (*RecordStore, *sql.DB) {
	t.Helper()

	dir, err := os.MkdirTemp("", "fieldsync-store-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := NewSQLiteDB(filepath.Join(dir, "fieldsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewRecordStore(db), db
}

func testRecord(imovelID string) *models.InspectionRecord {
	rec := models.NewInspectionRecord("emp-1", imovelID, "vist-1", models.KindMoveIn)
	rec.Photos = []models.PhotoReference{{LocalURI: "/photos/" + imovelID + ".jpg"}}
	rec.Checklist = map[string]models.Condition{"paredes": models.ConditionGood}
	return rec
}

func TestRecordStore_AppendAndList(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	t.Run("empty store lists nothing", func(t *testing.T) {
		records, err := s.ListPending(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("preserves insertion order", func(t *testing.T) {
		var ids []string
		for i := 0; i < 5; i++ {
			rec := testRecord(fmt.Sprintf("imovel-%d", i))
			require.NoError(t, s.Append(ctx, rec))
			ids = append(ids, rec.ID)
		}

		records, err := s.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, records, 5)
		for i, rec := range records {
			assert.Equal(t, ids[i], rec.ID)
		}
	})

	t.Run("round-trips the full record", func(t *testing.T) {
		records, err := s.ListPending(ctx)
		require.NoError(t, err)

		first := records[0]
		assert.Equal(t, "emp-1", first.EmpresaID)
		assert.Equal(t, models.KindMoveIn, first.Kind)
		assert.Equal(t, models.ConditionGood, first.Checklist["paredes"])
		assert.Len(t, first.Photos, 1)
	})
}

func TestRecordStore_Get(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("imovel-1")
	require.NoError(t, s.Append(ctx, rec))

	t.Run("returns the stored record", func(t *testing.T) {
		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, models.StatusPending, got.Status)
	})

	t.Run("absent id is not found", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrRecordNotFound)
	})
}

func TestRecordStore_UpdateStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("imovel-1")
	require.NoError(t, s.Append(ctx, rec))

	t.Run("moves record to error with message", func(t *testing.T) {
		require.NoError(t, s.UpdateStatus(ctx, rec.ID, models.StatusError, "upload timed out"))

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusError, got.Status)
		assert.Equal(t, "upload timed out", got.ErrorMessage)
	})

	t.Run("reset to pending clears the message", func(t *testing.T) {
		require.NoError(t, s.UpdateStatus(ctx, rec.ID, models.StatusPending, ""))

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Empty(t, got.ErrorMessage)
	})

	t.Run("filters by status", func(t *testing.T) {
		other := testRecord("imovel-2")
		require.NoError(t, s.Append(ctx, other))
		require.NoError(t, s.UpdateStatus(ctx, other.ID, models.StatusError, "boom"))

		pending, err := s.ListByStatus(ctx, models.StatusPending)
		require.NoError(t, err)
		errored, err := s.ListByStatus(ctx, models.StatusError)
		require.NoError(t, err)

		assert.Len(t, pending, 1)
		require.Len(t, errored, 1)
		assert.Equal(t, other.ID, errored[0].ID)
	})

	t.Run("absent record is a no-op", func(t *testing.T) {
		assert.NoError(t, s.UpdateStatus(ctx, "missing", models.StatusError, "x"))
	})

	t.Run("rejects a disallowed transition", func(t *testing.T) {
		rec := testRecord("imovel-transition")
		require.NoError(t, s.Append(ctx, rec))
		require.NoError(t, s.UpdateStatus(ctx, rec.ID, models.StatusError, "boom"))

		err := s.UpdateStatus(ctx, rec.ID, models.StatusSynced, "")
		assert.ErrorIs(t, err, models.ErrBadTransition)

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusError, got.Status, "rejected update leaves the record untouched")
	})

	t.Run("allows refreshing the message on the same status", func(t *testing.T) {
		rec := testRecord("imovel-refresh")
		require.NoError(t, s.Append(ctx, rec))
		require.NoError(t, s.UpdateStatus(ctx, rec.ID, models.StatusError, "first failure"))
		require.NoError(t, s.UpdateStatus(ctx, rec.ID, models.StatusError, "second failure"))

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "second failure", got.ErrorMessage)
	})
}

func TestRecordStore_ReplacePhotos(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("imovel-1")
	rec.Photos = []models.PhotoReference{
		{LocalURI: "/a.jpg", Comment: "sala"},
		{LocalURI: "/b.jpg"},
	}
	require.NoError(t, s.Append(ctx, rec))

	remote := []models.PhotoReference{
		{LocalURI: "https://cdn.example.com/a.jpg", Comment: "sala"},
		{LocalURI: "https://cdn.example.com/b.jpg"},
	}
	require.NoError(t, s.ReplacePhotos(ctx, rec.ID, remote))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, remote, got.Photos)
	assert.Equal(t, models.StatusPending, got.Status, "photo replacement must not touch status")
}

func TestRecordStore_Finalize(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	t.Run("removes the record in one step", func(t *testing.T) {
		rec := testRecord("imovel-1")
		require.NoError(t, s.Append(ctx, rec))

		require.NoError(t, s.Finalize(ctx, rec.ID))

		_, err := s.Get(ctx, rec.ID)
		assert.ErrorIs(t, err, models.ErrRecordNotFound)

		counts, err := s.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Zero(t, counts[models.StatusSynced], "no synced residue may remain")
	})

	t.Run("leaves other records untouched", func(t *testing.T) {
		keep := testRecord("imovel-2")
		gone := testRecord("imovel-3")
		require.NoError(t, s.Append(ctx, keep))
		require.NoError(t, s.Append(ctx, gone))

		require.NoError(t, s.Finalize(ctx, gone.ID))

		records, err := s.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, keep.ID, records[0].ID)
	})

	t.Run("absent record is a no-op", func(t *testing.T) {
		assert.NoError(t, s.Finalize(ctx, "missing"))
	})
}

func TestRecordStore_Remove(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("imovel-1")
	require.NoError(t, s.Append(ctx, rec))

	require.NoError(t, s.Remove(ctx, rec.ID))
	require.NoError(t, s.Remove(ctx, rec.ID), "second removal is a no-op")

	records, err := s.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecordStore_Clear(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(ctx, testRecord(fmt.Sprintf("imovel-%d", i))))
	}
	require.NoError(t, s.SaveBlob(ctx, "lastSyncAt", "2026-08-30T10:00:00Z"))

	require.NoError(t, s.Clear(ctx))

	records, err := s.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	value, err := s.GetBlob(ctx, "lastSyncAt")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-30T10:00:00Z", value, "clear must not touch blobs")
}

func TestRecordStore_Blobs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	t.Run("absent key reads empty", func(t *testing.T) {
		value, err := s.GetBlob(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, value)
	})

	t.Run("save and overwrite", func(t *testing.T) {
		require.NoError(t, s.SaveBlob(ctx, "lastSyncAt", "2026-08-30T10:00:00Z"))
		require.NoError(t, s.SaveBlob(ctx, "lastSyncAt", "2026-08-31T08:30:00Z"))

		value, err := s.GetBlob(ctx, "lastSyncAt")
		require.NoError(t, err)
		assert.Equal(t, "2026-08-31T08:30:00Z", value)
	})
}

func TestRecordStore_CountByStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a := testRecord("imovel-1")
	b := testRecord("imovel-2")
	c := testRecord("imovel-3")
	require.NoError(t, s.Append(ctx, a))
	require.NoError(t, s.Append(ctx, b))
	require.NoError(t, s.Append(ctx, c))
	require.NoError(t, s.UpdateStatus(ctx, c.ID, models.StatusError, "boom"))

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.StatusPending])
	assert.Equal(t, 1, counts[models.StatusError])
}
