package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func TestClassifySerializationFailures(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		err := classify(fmt.Errorf("exec: %w", &pgconn.PgError{Code: code}))
		require.ErrorIs(t, err, shared.ErrConcurrencyConflict, code)
	}
}

func TestClassifyLeavesOtherErrors(t *testing.T) {
	plain := errors.New("boom")
	require.Same(t, plain, classify(plain))

	unique := &pgconn.PgError{Code: "23505", ConstraintName: "products_sku_key"}
	name, ok := UniqueConstraint(fmt.Errorf("insert: %w", unique))
	require.True(t, ok)
	require.Equal(t, "products_sku_key", name)
	_, ok = UniqueConstraint(plain)
	require.False(t, ok)
	require.False(t, IsSerializationFailure(unique))
	require.NotErrorIs(t, classify(unique), shared.ErrConcurrencyConflict)
}
