package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "postgres"), 5*time.Second), mock
}

func TestUpsertBatchNoOpOnEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	require.NoError(t, s.UpsertBatch(context.Background(), FamilyPrice, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchInsertsEachRow(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO price")
	mock.ExpectExec("INSERT INTO price").WithArgs(sqlmock.AnyArg(), "BTCUSDT", 100.0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rows := []Sample{{TS: time.Now(), Symbol: "BTCUSDT", Value: 100.0}}
	require.NoError(t, s.UpsertBatch(context.Background(), FamilyPrice, rows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchUnknownFamily(t *testing.T) {
	s, _ := newMockStore(t)
	err := s.UpsertBatch(context.Background(), Family("bogus"), []Sample{{Symbol: "X"}})
	require.Error(t, err)
}

func TestQueryLatestPerSymbol(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"symbol", "ts", "value"}).
		AddRow("BTCUSDT", time.Now(), 106.0).
		AddRow("ETHUSDT", time.Now(), 3000.0)
	mock.ExpectQuery("SELECT DISTINCT ON").WillReturnRows(rows)

	out, err := s.QueryLatestPerSymbol(context.Background(), FamilyPrice)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, 106.0, out["BTCUSDT"].Value)
}

func TestQueryDensityMatches(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"symbol", "price", "ts", "order_type", "current_size_usd",
		"max_size_usd", "touched", "reduction_usd", "percent_from_market", "first_seen", "last_updated"}).
		AddRow("BTCUSDT", 100000.0, now, "LONG", 200000.0, 200000.0, false, 0.0, 1.5, now.Add(-time.Hour), now)
	mock.ExpectQuery("SELECT symbol, price, ts, order_type").WillReturnRows(rows)

	out, err := s.QueryDensityMatches(context.Background(), 100000, 10, 300)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "BTCUSDT", out[0].Symbol)
	require.False(t, out[0].Touched)
}

func TestInsertUpdateDeleteDensityBatchNoOpOnEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	require.NoError(t, s.InsertDensityBatch(context.Background(), nil))
	require.NoError(t, s.UpdateDensityBatch(context.Background(), nil))
	require.NoError(t, s.DeleteDensityBatch(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
