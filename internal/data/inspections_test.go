package data_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/data"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestInspectionInsert(t *testing.T) {
	db, mock := newMock(t)
	m := data.InspectionModel{DB: db}

	mock.ExpectExec("INSERT INTO t_inspection ").
		WillReturnResult(sqlmock.NewResult(42, 1))

	ins := &data.Inspection{ProductNo: "WD-0001", Serial: 3}
	require.NoError(t, m.Insert(context.Background(), ins))

	assert.Equal(t, int64(42), ins.InspectionID)
	assert.Equal(t, "captured", ins.Status, "status defaults when unset")
	assert.False(t, ins.InspectionDT.IsZero(), "inspection_dt defaults to now")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInspectionInsert_DBError(t *testing.T) {
	db, mock := newMock(t)
	m := data.InspectionModel{DB: db}

	mock.ExpectExec("INSERT INTO t_inspection ").
		WillReturnError(sql.ErrConnDone)

	err := m.Insert(context.Background(), &data.Inspection{ProductNo: "WD-0001"})
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestInspectionAddImage(t *testing.T) {
	db, mock := newMock(t)
	m := data.InspectionModel{DB: db}

	mock.ExpectExec("INSERT INTO t_inspection_images").
		WithArgs(int64(42), 1, "data/images/inspection/20260824/frame001_1.bmp", "bmp", sqlmock.AnyArg(), `{"width":640}`).
		WillReturnResult(sqlmock.NewResult(7, 1))

	img := &data.InspectionImage{
		InspectionID:     42,
		ImageNo:          1,
		ImagePath:        "data/images/inspection/20260824/frame001_1.bmp",
		ImageType:        "bmp",
		CaptureTimestamp: time.Now(),
		ImageMetadata:    []byte(`{"width":640}`),
	}
	require.NoError(t, m.AddImage(context.Background(), img))
	assert.Equal(t, int64(7), img.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestPerProduct(t *testing.T) {
	db, mock := newMock(t)
	m := data.InspectionModel{DB: db}

	now := time.Now()
	rows := sqlmock.NewRows([]string{"inspection_id", "product_no", "serial", "inspection_dt", "status", "image_path", "created_at"}).
		AddRow(int64(10), "WD-0001", 1, now, "captured", "a.bmp", now).
		AddRow(int64(12), "WD-0002", 1, now, "captured", nil, now)

	mock.ExpectQuery("ROW_NUMBER\\(\\) OVER \\(PARTITION BY product_no").
		WithArgs("WD-0001", "WD-0002").
		WillReturnRows(rows)

	out, err := m.LatestPerProduct(context.Background(), []string{"WD-0001", "WD-0002"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(10), out[0].InspectionID)
	require.NotNil(t, out[0].ImagePath)
	assert.Equal(t, "a.bmp", *out[0].ImagePath)
	assert.Nil(t, out[1].ImagePath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestPerProduct_EmptyInput(t *testing.T) {
	db, _ := newMock(t)
	m := data.InspectionModel{DB: db}

	out, err := m.LatestPerProduct(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out, "no subscribers means no query at all")
}

func TestHistory_Filters(t *testing.T) {
	db, mock := newMock(t)
	m := data.InspectionModel{DB: db}

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"inspection_id", "product_no", "serial", "inspection_dt", "status", "image_path", "created_at"}).
		AddRow(int64(30), "WD-0001", 2, now, "captured", nil, now)

	mock.ExpectQuery("FROM t_inspection").
		WithArgs("WD-0001", from, to, 25).
		WillReturnRows(rows)

	out, err := m.History(context.Background(), data.HistoryFilter{
		ProductNo: "WD-0001",
		DateFrom:  from,
		DateTo:    to,
		Limit:     25,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(30), out[0].InspectionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistory_DefaultLimit(t *testing.T) {
	db, mock := newMock(t)
	m := data.InspectionModel{DB: db}

	mock.ExpectQuery("FROM t_inspection").
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"inspection_id", "product_no", "serial", "inspection_dt", "status", "image_path", "created_at"}))

	_, err := m.History(context.Background(), data.HistoryFilter{})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_WithAttachments(t *testing.T) {
	db, mock := newMock(t)
	m := data.InspectionModel{DB: db}
	now := time.Now()

	mock.ExpectQuery("FROM t_inspection\\s+WHERE inspection_id").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"inspection_id", "product_no", "serial", "inspection_dt", "status", "image_path", "created_at"}).
			AddRow(int64(42), "WD-0001", 1, now, "captured", "a.bmp", now))

	mock.ExpectQuery("FROM t_inspection_images").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inspection_id", "image_no", "image_path", "image_type", "capture_timestamp", "image_metadata"}).
			AddRow(int64(1), int64(42), 0, "a.bmp", "bmp", now, `{"w":640}`))

	mock.ExpectQuery("FROM t_inspection_presentation").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inspection_id", "group_name", "image_path"}).
			AddRow(int64(1), int64(42), "A", "a.jpg"))

	d, err := m.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "WD-0001", d.ProductNo)
	require.Len(t, d.Images, 1)
	assert.JSONEq(t, `{"w":640}`, string(d.Images[0].ImageMetadata))
	require.Len(t, d.Presentation, 1)
	assert.Equal(t, "A", d.Presentation[0].GroupName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	db, mock := newMock(t)
	m := data.InspectionModel{DB: db}

	mock.ExpectQuery("FROM t_inspection\\s+WHERE inspection_id").
		WithArgs(int64(999)).
		WillReturnRows(sqlmock.NewRows([]string{"inspection_id"}))

	_, err := m.Get(context.Background(), 999)
	assert.ErrorIs(t, err, data.ErrRecordNotFound)
}
