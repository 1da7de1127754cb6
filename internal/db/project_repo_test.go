package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"minhafloresta/internal/types"
)

func TestProjectRepo_AddFunds_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProjectRepo(db, nil)

	var gotArgs []any
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			gotArgs = args.Get(2).([]any)
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.AddFunds(context.Background(), "criancas-do-cerrado", 2500)
	require.NoError(t, err)

	require.Len(t, gotArgs, 2)
	assert.EqualValues(t, 2500, gotArgs[0])
	assert.Equal(t, "criancas-do-cerrado", gotArgs[1])
}

func TestProjectRepo_AddFunds_ProjectMissing(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProjectRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.AddFunds(context.Background(), "nope", 100)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundProject, appErr.Code)
}

func TestProjectRepo_GetName_FallsBackToSlug(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProjectRepo(db, nil)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	name := repo.GetName(context.Background(), "projeto-removido")
	assert.Equal(t, "projeto-removido", name)
}

func TestProjectRepo_GetName_UsesDisplayName(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProjectRepo(db, nil)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "mata-atlantica"
			*dest[1].(*string) = "Mata Atlântica"
			*dest[2].(*int64) = 0
			return nil
		},
	}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	name := repo.GetName(context.Background(), "mata-atlantica")
	assert.Equal(t, "Mata Atlântica", name)
}
