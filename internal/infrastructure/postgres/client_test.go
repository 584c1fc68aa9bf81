package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingExtensions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT extname FROM pg_extension`).
		WithArgs(GeoExtensions).
		WillReturnRows(pgxmock.NewRows([]string{"extname"}).AddRow("cube").AddRow("postgis"))

	missing, err := MissingExtensions(context.Background(), mock)
	require.NoError(t, err)
	assert.Equal(t, []string{"earthdistance"}, missing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMissingExtensionsQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT extname`).WithArgs(GeoExtensions).WillReturnError(errors.New("permission denied"))
	_, err = MissingExtensions(context.Background(), mock)
	assert.EqualError(t, err, "permission denied")
}
