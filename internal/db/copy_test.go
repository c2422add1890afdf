package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "contracts", []string{"id", "vendor_id"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"contracts"}, []string{"id", "vendor_id"}).WillReturnResult(3)

	rows := [][]any{{int64(1), int64(10)}, {int64(2), int64(10)}, {int64(3), int64(11)}}
	n, err := CopyFrom(context.Background(), mock, "contracts", []string{"id", "vendor_id"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"contracts"}, []string{"id", "vendor_id"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{int64(1), int64(10)}}
	_, err = CopyFrom(context.Background(), mock, "contracts", []string{"id", "vendor_id"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO contracts")
	assert.NoError(t, mock.ExpectationsWereMet())
}
