package db

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestApplyPoolOptions(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/app?application_name=psql")
	require.NoError(t, err)
	applyPoolOptions(cfg, PoolOptions{MaxConns: 7, MaxConnLifetime: time.Hour, AppName: "groupspend"})
	require.EqualValues(t, 7, cfg.MaxConns)
	require.Equal(t, time.Hour, cfg.MaxConnLifetime)
	require.Equal(t, "psql", cfg.ConnConfig.RuntimeParams["application_name"])

	cfg, err = pgxpool.ParseConfig("postgres://u:p@localhost:5432/app")
	require.NoError(t, err)
	applyPoolOptions(cfg, PoolOptions{AppName: "groupspend"})
	require.Equal(t, "groupspend", cfg.ConnConfig.RuntimeParams["application_name"])
}

func TestSQLStateHelpers(t *testing.T) {
	unique := fmt.Errorf("insert member: %w", &pgconn.PgError{Code: "23505"})
	serial := &pgconn.PgError{Code: "40001"}

	require.True(t, IsUniqueViolation(unique))
	require.False(t, IsSerializationFailure(unique))
	require.True(t, IsSerializationFailure(serial))
	require.False(t, IsUniqueViolation(errors.New("plain")))
	require.False(t, IsSerializationFailure(nil))
}

func TestPgxURL(t *testing.T) {
	require.Equal(t, "pgx5://u@h/db", pgxURL("postgres://u@h/db"))
	require.Equal(t, "pgx5://u@h/db", pgxURL("postgresql://u@h/db"))
	require.Equal(t, "pgx5://u@h/db", pgxURL("pgx5://u@h/db"))
}
