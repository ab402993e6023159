package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/alertrun/internal/exchange"
	"github.com/sawpanic/alertrun/internal/store"
)

func newMockIngestStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewWithDB(sqlx.NewDb(db, "postgres"), 5*time.Second), mock
}

// fakeKlineServer serves BackfillMinutes candles per symbol with a
// strictly increasing closeTime, the last one representing the
// still-forming current candle.
func fakeKlineServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := r.URL.Query().Get("limit")
		n := BackfillMinutes
		if limit == "" {
			n = 1
		}
		klines := make([]klineWire, 0, n)
		base := time.Now().Add(-time.Duration(n) * time.Minute).UnixMilli()
		for i := 0; i < n; i++ {
			klines = append(klines, klineWire{
				CloseTime:  base + int64(i)*60_000,
				TradeCount: int64(100 + i),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(klines)
	}))
}

func newTestExchangeClient(baseURL string) *exchange.Client {
	return exchange.New(exchange.Config{
		BaseURL:     baseURL,
		HTTPTimeout: 5 * time.Second,
		RPS:         1000,
		Burst:       1000,
		BreakerName: "test",
	}, nil)
}

func TestTradeCountBackfillDropsFormingCandle(t *testing.T) {
	server := fakeKlineServer(t)
	defer server.Close()

	client := newTestExchangeClient(server.URL)
	st, mock := newMockIngestStore(t)

	universe := func(ctx context.Context) ([]string, error) {
		return []string{"BTCUSDT"}, nil
	}

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO trade_count")
	// BackfillMinutes candles fetched, the last (still-forming) one
	// dropped, leaving BackfillMinutes-1 upserted rows.
	for i := 0; i < BackfillMinutes-1; i++ {
		mock.ExpectExec("INSERT INTO trade_count").WithArgs(sqlmock.AnyArg(), "BTCUSDT", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	p := NewTradeCountPipeline(client, st, universe, 4, time.Second)
	require.NoError(t, p.Backfill(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeCountBackfillSkipsSymbolWithTooFewCandles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]klineWire{{CloseTime: time.Now().UnixMilli(), TradeCount: 1}})
	}))
	defer server.Close()

	client := newTestExchangeClient(server.URL)
	st, mock := newMockIngestStore(t)

	universe := func(ctx context.Context) ([]string, error) {
		return []string{"BTCUSDT"}, nil
	}

	// A single returned candle (the still-forming one) leaves nothing
	// to upsert, so UpsertBatch's empty-batch no-op path is taken and
	// no SQL is issued.
	p := NewTradeCountPipeline(client, st, universe, 4, time.Second)
	require.NoError(t, p.Backfill(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
