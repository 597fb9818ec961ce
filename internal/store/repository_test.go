package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docrec/internal/align"
	"github.com/MeKo-Tech/docrec/internal/extract"
	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
	"github.com/MeKo-Tech/docrec/internal/template"
	"github.com/MeKo-Tech/docrec/internal/utils"
)

var entryCols = []string{
	"id", "created_at", "job_id", "image_hash", "template", "source", "status",
	"fields", "error", "inliers", "duration_ms",
}

func newMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewRepository(db), mock
}

func TestSaveAssignsIDAndCreatedAt(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	id := uuid.New()

	mock.ExpectQuery("insert into recognitions").
		WithArgs(sqlmock.AnyArg(), "job-1", "abc", "driver_license", "a.jpg", StatusDone,
			[]byte(`{"code":1}`), nil, 42, int64(350)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(id.String(), now))

	e := &Entry{
		JobID:      "job-1",
		ImageHash:  "abc",
		Template:   "driver_license",
		Source:     "a.jpg",
		Status:     StatusDone,
		Fields:     []byte(`{"code":1}`),
		Inliers:    42,
		DurationMs: 350,
	}
	require.NoError(t, repo.Save(context.Background(), e))
	assert.Equal(t, id, e.ID)
	assert.Equal(t, now, e.CreatedAt)
}

func TestSaveRequiresKey(t *testing.T) {
	repo, _ := newMock(t)
	assert.Error(t, repo.Save(context.Background(), &Entry{Template: "x"}))
	assert.Error(t, repo.Save(context.Background(), &Entry{ImageHash: "x"}))
}

func TestSaveDatabaseError(t *testing.T) {
	repo, mock := newMock(t)
	dbErr := errors.New("connection reset")
	mock.ExpectQuery("insert into recognitions").WillReturnError(dbErr)

	err := repo.Save(context.Background(), &Entry{ImageHash: "h", Template: "t", Status: StatusFailed, Error: "boom"})
	assert.ErrorIs(t, err, dbErr)
}

func TestGet(t *testing.T) {
	repo, mock := newMock(t)
	id := uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery("from recognitions where id = \\$1").
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow(id.String(), now, "j", "h", "passport", "p.png", StatusDone, []byte(`{"number":"084752"}`), "", 0, int64(10)))

	e, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, e.ID)
	assert.Equal(t, "passport", e.Template)
	assert.JSONEq(t, `{"number":"084752"}`, string(e.Fields))
}

func TestGetNotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery("from recognitions").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByHashHonorsMaxAge(t *testing.T) {
	repo, mock := newMock(t)
	id := uuid.New()
	old := time.Now().Add(-2 * time.Hour)
	rows := func() *sqlmock.Rows {
		return sqlmock.NewRows(entryCols).
			AddRow(id.String(), old, "", "h", "doc", "", StatusDone, []byte(`{}`), "", 9, int64(1))
	}
	mock.ExpectQuery("where image_hash = \\$1 and template = \\$2").WithArgs("h", "doc").WillReturnRows(rows())
	mock.ExpectQuery("where image_hash = \\$1 and template = \\$2").WithArgs("h", "doc").WillReturnRows(rows())

	e, err := repo.FindByHash(context.Background(), "h", "doc", 0)
	require.NoError(t, err)
	assert.Equal(t, 9, e.Inliers)

	_, err = repo.FindByHash(context.Background(), "h", "doc", time.Hour)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery("order by created_at desc").
		WithArgs("", 50).
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow(uuid.NewString(), now, "", "h1", "doc", "", StatusDone, []byte(`{}`), "", 5, int64(1)).
			AddRow(uuid.NewString(), now, "", "h2", "doc", "", StatusFailed, nil, "alignment failed", 0, int64(2)))

	entries, err := repo.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Nil(t, entries[1].Fields)
	assert.Equal(t, "alignment failed", entries[1].Error)
}

func TestPurgeOlderThan(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec("delete from recognitions").WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.PurgeOlderThan(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = repo.PurgeOlderThan(context.Background(), 0)
	assert.Error(t, err)
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	mock.ExpectExec("create table if not exists recognitions").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryFromOutcome(t *testing.T) {
	tpl, err := template.New("doc", "unused.png", template.Size{Width: 50, Height: 50},
		[]template.Region{{Name: "code", Type: template.FieldInteger, Box: utils.NewBox(0, 0, 50, 50)}})
	require.NoError(t, err)
	rec := extract.New().Extract([]ocr.TextAnnotation{{
		Text:     "123",
		Vertices: []utils.Point{{X: 1, Y: 1}, {X: 9, Y: 1}, {X: 9, Y: 9}, {X: 1, Y: 9}},
	}}, tpl)

	e, err := EntryFromOutcome(pipeline.Outcome{
		JobID:    "j",
		Template: "doc",
		Record:   rec,
		Align:    &pipeline.AlignStats{Inliers: 17},
		Duration: 1500 * time.Millisecond,
	}, HashImage([]byte("photo")))
	require.NoError(t, err)
	assert.Equal(t, StatusDone, e.Status)
	assert.JSONEq(t, `{"code":123}`, string(e.Fields))
	assert.Equal(t, 17, e.Inliers)
	assert.Equal(t, int64(1500), e.DurationMs)
	assert.Len(t, e.ImageHash, 64)

	failed, err := EntryFromOutcome(pipeline.Outcome{Template: "doc", Err: &align.AlignmentError{Template: "doc", Reason: "too few matches"}}, "h")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "too few matches")
	assert.Nil(t, failed.Fields)
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled())
	assert.NoError(t, cfg.Validate())
	cfg.CacheTTL = -time.Second
	assert.Error(t, cfg.Validate())

	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}
