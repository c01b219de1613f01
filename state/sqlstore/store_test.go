package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"whistlechain/native/bounty"
	"whistlechain/native/bounty/bountytest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := Open(DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreContractSQLite(t *testing.T) {
	bountytest.RunStoreSuite(t, func(t *testing.T) bounty.Store {
		return openTestStore(t)
	})
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "whatever"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestRowConversionKeepsEmptyVerifiedClaim(t *testing.T) {
	b := bountytest.NewBounty("alice", 3, bounty.BountyOpen)
	row := newBountyRow(b)
	if row.VerifiedClaim != "" {
		t.Fatalf("expected empty verified claim column, got %q", row.VerifiedClaim)
	}
	back, err := row.toBounty()
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if *back != *b {
		t.Fatalf("round trip mismatch: %+v vs %+v", back, b)
	}
}

func TestSerializationFailuresBecomeStatusConflicts(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		conflict bool
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001", Message: "could not serialize access"}, conflict: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}, conflict: true},
		{name: "wrapped", err: fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), conflict: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}},
		{name: "plain", err: errors.New("connection reset")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := serializationConflict(tc.err)
			if errors.Is(got, bounty.ErrStatusConflict) != tc.conflict {
				t.Fatalf("conflict=%v for %v", errors.Is(got, bounty.ErrStatusConflict), got)
			}
			if !tc.conflict && got != tc.err {
				t.Fatalf("expected error passed through, got %v", got)
			}
		})
	}
	if serializationConflict(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestUpdateReportsAbortedTransactionAsConflict(t *testing.T) {
	store := openTestStore(t)
	err := store.Update(context.Background(), func(tx bounty.Tx) error {
		if err := tx.BountyInsert(bountytest.NewBounty("alice", 1, bounty.BountyOpen)); err != nil {
			return err
		}
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	})
	if !errors.Is(err, bounty.ErrStatusConflict) {
		t.Fatalf("expected status conflict, got %v", err)
	}
	var count int64
	if err := store.DB().Model(&bountyRow{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("aborted transaction left %d bounties", count)
	}
}
