package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whizbang-lib/whizbang/pkg/coordinator"
)

type fakeReady struct{ ready bool }

func (f fakeReady) IsReady(context.Context) bool { return f.ready }

func TestHandleHealthReturnsOKWhenDBAndTransportReady(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	srv := NewServer(db, coordinator.New(db), fakeReady{ready: true})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleHealthReturnsUnavailableWhenTransportNotReady(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	srv := NewServer(db, coordinator.New(db), fakeReady{ready: false})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleHealthReturnsUnavailableWhenDBPingFails(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(assert.AnError)

	srv := NewServer(db, coordinator.New(db), fakeReady{ready: true})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDebugPoolReturnsFailedWork(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	outboxCols := []string{"message_id", "destination", "stream_id", "attempts", "failure_reason"}
	inboxCols := []string{"message_id", "handler_name", "stream_id", "attempts", "failure_reason"}
	mock.ExpectQuery("SELECT message_id, destination").WillReturnRows(sqlmock.NewRows(outboxCols))
	mock.ExpectQuery("SELECT message_id, handler_name").WillReturnRows(sqlmock.NewRows(inboxCols))

	srv := NewServer(db, coordinator.New(db), fakeReady{ready: true})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/pool", nil)
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
