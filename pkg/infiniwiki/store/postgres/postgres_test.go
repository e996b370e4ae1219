package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cognicore/infiniwiki/pkg/infiniwiki/internalerr"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store/storetest"
)

func TestConformance(t *testing.T) {
	dsn := os.Getenv("INFINIWIKI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INFINIWIKI_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		st, err := Open(ctx, dsn)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		pg := st.(*pgStore)
		if _, err := pg.pool.Exec(ctx, `TRUNCATE entries, visits`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return st
	})
}

func TestOpenRejectsBadDSN(t *testing.T) {
	_, err := Open(context.Background(), "postgres://%zz")
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"transport", errors.New("dial tcp: connection refused"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify("op", tc.err)
			if got := errors.Is(err, internalerr.ErrStoreUnavailable); got != tc.unavailable {
				t.Fatalf("unavailable = %v, want %v (%v)", got, tc.unavailable, err)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("cause lost: %v", err)
			}
		})
	}

	if classify("op", nil) != nil {
		t.Fatal("nil error must stay nil")
	}
	if err := classify("op", context.Canceled); errors.Is(err, internalerr.ErrStoreUnavailable) {
		t.Fatalf("cancellation must not be tagged unavailable: %v", err)
	}
}
