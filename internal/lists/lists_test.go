package lists

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestMemoryStoreBlocks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(100)
	defer store.Close()

	key := domain.EntityKey{Kind: domain.EntityCustomer, ID: "cust-1"}

	t.Run("MissingBlock", func(t *testing.T) {
		rec, err := store.GetBlock(ctx, key)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec != nil {
			t.Errorf("expected nil for unblocked entity, got %+v", rec)
		}
	})

	t.Run("BlockAndLookup", func(t *testing.T) {
		expires := time.Now().Add(time.Hour)
		err := store.Block(ctx, domain.BlockRecord{
			Entity:    key,
			Reason:    "velocity limit exceeded",
			CreatedAt: time.Now(),
			ExpiresAt: &expires,
		})
		if err != nil {
			t.Fatalf("block failed: %v", err)
		}

		rec, err := store.GetBlock(ctx, key)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec == nil {
			t.Fatal("expected active block")
		}
		if rec.Reason != "velocity limit exceeded" {
			t.Errorf("unexpected reason: %q", rec.Reason)
		}
	})

	t.Run("Unblock", func(t *testing.T) {
		if err := store.Unblock(ctx, key); err != nil {
			t.Fatalf("unblock failed: %v", err)
		}
		rec, _ := store.GetBlock(ctx, key)
		if rec != nil {
			t.Error("expected block removed")
		}
		// Unblocking again is a no-op, not an error.
		if err := store.Unblock(ctx, key); err != nil {
			t.Errorf("repeated unblock should not error: %v", err)
		}
	})

	t.Run("InvalidEntity", func(t *testing.T) {
		err := store.Block(ctx, domain.BlockRecord{
			Entity: domain.EntityKey{Kind: "bogus", ID: "x"},
			Reason: "test",
		})
		if err == nil {
			t.Error("expected error for invalid entity kind")
		}
	})
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(100)
	defer store.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	key := domain.EntityKey{Kind: domain.EntityDevice, ID: "dev-1"}
	expires := now.Add(30 * time.Minute)
	store.Block(ctx, domain.BlockRecord{
		Entity:    key,
		Reason:    "card testing pattern",
		CreatedAt: now,
		ExpiresAt: &expires,
	})

	rec, _ := store.GetBlock(ctx, key)
	if rec == nil {
		t.Fatal("expected block active before expiry")
	}

	// Advance past expiry; the block must be treated as absent.
	now = now.Add(31 * time.Minute)
	rec, _ = store.GetBlock(ctx, key)
	if rec != nil {
		t.Error("expected block expired")
	}

	blocks, _ := store.ListBlocks(ctx)
	if len(blocks) != 0 {
		t.Errorf("expected no active blocks, got %d", len(blocks))
	}
}

func TestMemoryStorePermanentBlock(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(100)
	defer store.Close()

	key := domain.EntityKey{Kind: domain.EntityInstrument, ID: "tok-1"}
	store.Block(ctx, domain.BlockRecord{
		Entity:    key,
		Reason:    "curated blacklist",
		CreatedAt: time.Now(),
	})

	rec, _ := store.GetBlock(ctx, key)
	if rec == nil {
		t.Fatal("expected permanent block active")
	}
	if rec.ExpiresAt != nil {
		t.Error("expected nil expiry on permanent block")
	}
}

func TestMemoryStoreEviction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(5)
	defer store.Close()

	// A permanent entry plus more expiring entries than capacity.
	store.Block(ctx, domain.BlockRecord{
		Entity: domain.EntityKey{Kind: domain.EntityCustomer, ID: "permanent"},
		Reason: "curated",
	})
	expires := time.Now().Add(time.Hour)
	for i := 0; i < 10; i++ {
		store.Block(ctx, domain.BlockRecord{
			Entity:    domain.EntityKey{Kind: domain.EntityCustomer, ID: fmt.Sprintf("cust-%d", i)},
			Reason:    "velocity",
			ExpiresAt: &expires,
		})
	}

	size, capacity := store.Stats()
	if size > capacity {
		t.Errorf("store exceeded capacity: %d > %d", size, capacity)
	}

	// The permanent entry survives eviction of expiring ones.
	rec, _ := store.GetBlock(ctx, domain.EntityKey{Kind: domain.EntityCustomer, ID: "permanent"})
	if rec == nil {
		t.Error("expected permanent block to survive eviction")
	}
}

func TestMemoryStoreWhitelist(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(100)
	defer store.Close()

	key := domain.EntityKey{Kind: domain.EntityBusiness, ID: "biz-1"}

	ok, err := store.IsWhitelisted(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected entity not whitelisted")
	}

	if err := store.Whitelist(ctx, domain.WhitelistEntry{Entity: key, Note: "trusted partner", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("whitelist failed: %v", err)
	}

	ok, _ = store.IsWhitelisted(ctx, key)
	if !ok {
		t.Error("expected entity whitelisted")
	}

	store.Unwhitelist(ctx, key)
	ok, _ = store.IsWhitelisted(ctx, key)
	if ok {
		t.Error("expected entity removed from whitelist")
	}
}

func TestNewFactory(t *testing.T) {
	store, err := New(domain.ListStoreConfig{Type: "memory", MaxEntries: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	if _, err := New(domain.ListStoreConfig{Type: "bogus"}); err == nil {
		t.Error("expected error for unsupported store type")
	}
}
