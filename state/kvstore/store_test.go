package kvstore

import (
	"path/filepath"
	"testing"

	"whistlechain/native/bounty"
	"whistlechain/native/bounty/bountytest"
	"whistlechain/storage"
)

func TestStoreContractMemDB(t *testing.T) {
	bountytest.RunStoreSuite(t, func(t *testing.T) bounty.Store {
		store := New(storage.NewMemDB())
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestStoreContractLevelDB(t *testing.T) {
	bountytest.RunStoreSuite(t, func(t *testing.T) bounty.Store {
		db, err := storage.NewLevelDB(t.TempDir())
		if err != nil {
			t.Fatalf("open leveldb: %v", err)
		}
		store := New(db)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestStoreContractBolt(t *testing.T) {
	bountytest.RunStoreSuite(t, func(t *testing.T) bounty.Store {
		db, err := storage.NewBoltDB(filepath.Join(t.TempDir(), "bounties.bolt"))
		if err != nil {
			t.Fatalf("open bolt: %v", err)
		}
		store := New(db)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestViewRejectsWrites(t *testing.T) {
	view := &tx{r: storage.NewMemDB()}
	if err := view.BalancePut("alice", bounty.TokenNative, nil); err != errReadOnly {
		t.Fatalf("expected read-only error, got %v", err)
	}
}
