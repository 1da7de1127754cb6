package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"minhafloresta/internal/types"
)

func TestEventRepo_RecordIfNew_Created(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	created, err := repo.RecordIfNew(context.Background(), "evt_123", "payment_intent.succeeded", []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, created)
	db.AssertExpectations(t)
}

func TestEventRepo_RecordIfNew_Duplicate(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepo(db, nil)

	// ON CONFLICT DO NOTHING reports zero rows for a redelivery.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	created, err := repo.RecordIfNew(context.Background(), "evt_123", "payment_intent.succeeded", []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEventRepo_RecordIfNew_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	created, err := repo.RecordIfNew(context.Background(), "evt_123", "payment_intent.succeeded", []byte(`{}`))
	require.Error(t, err)
	assert.False(t, created)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestEventRepo_MarkProcessed_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.MarkProcessed(context.Background(), "evt_123")
	require.NoError(t, err)
}

func TestEventRepo_MarkProcessed_MissingEvent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.MarkProcessed(context.Background(), "evt_gone")
	require.Error(t, err)
}

func TestEventRepo_MarkFailed_RecordsMessage(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepo(db, nil)

	var gotArgs []any
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			gotArgs = args.Get(2).([]any)
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.MarkFailed(context.Background(), "evt_123", errors.New("metadata undecodable"))
	require.NoError(t, err)

	require.Len(t, gotArgs, 2)
	assert.Equal(t, "metadata undecodable", gotArgs[0])
	assert.Equal(t, "evt_123", gotArgs[1])
}

func TestEventRepo_MarkFailed_NilError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepo(db, nil)

	var gotArgs []any
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			gotArgs = args.Get(2).([]any)
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.MarkFailed(context.Background(), "evt_123", nil)
	require.NoError(t, err)
	assert.Equal(t, "unknown error", gotArgs[0])
}

func TestEventRepo_ListUnprocessed(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepo(db, nil)

	received := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rows := newMockRows([][]any{
		{int64(1), "evt_a", "payment_intent.succeeded", []byte(`{"id":"evt_a"}`), received, false, nil, "boom", 2},
	})

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	events, err := repo.ListUnprocessed(context.Background(), received.AddDate(0, 0, -7), 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt_a", events[0].ProviderEventID)
	assert.False(t, events[0].Processed)
	require.NotNil(t, events[0].Error)
	assert.Equal(t, "boom", *events[0].Error)
	assert.Equal(t, 2, events[0].RetryCount)
}

func TestEventRepo_ListUnprocessed_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepo(db, nil)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("timeout"))

	_, err := repo.ListUnprocessed(context.Background(), time.Now(), 10)
	require.Error(t, err)
}
