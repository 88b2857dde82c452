package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"keyset-lifecycle-service/internal/keystore"
)

func TestKeysetMaterialRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewKeysetMaterialRepository(setupTestDB(t), nil)

	if _, err := repo.Get(ctx, "ns-1-billing"); !errors.Is(err, keystore.ErrKeysetNotFound) {
		t.Fatalf("expected ErrKeysetNotFound before insert, got %v", err)
	}

	if err := repo.Insert(ctx, "ns-1-billing", []byte("v1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := repo.Insert(ctx, "ns-1-billing", []byte("again")); !errors.Is(err, keystore.ErrKeysetExists) {
		t.Fatalf("expected ErrKeysetExists, got %v", err)
	}

	rec, err := repo.Get(ctx, "ns-1-billing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(rec.Payload) != "v1" || rec.Version != "1" {
		t.Errorf("unexpected record: payload=%q version=%q", rec.Payload, rec.Version)
	}

	version, err := repo.Update(ctx, "ns-1-billing", []byte("v2"), rec.Version)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if version != "2" {
		t.Errorf("expected version 2, got %q", version)
	}

	// 古いバージョンでの更新は競合になる
	if _, err := repo.Update(ctx, "ns-1-billing", []byte("stale"), rec.Version); !errors.Is(err, keystore.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	rec, _ = repo.Get(ctx, "ns-1-billing")
	if string(rec.Payload) != "v2" {
		t.Errorf("stale update must not overwrite payload, got %q", rec.Payload)
	}

	if err := repo.Delete(ctx, "ns-1-billing"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := repo.Delete(ctx, "ns-1-billing"); !errors.Is(err, keystore.ErrKeysetNotFound) {
		t.Fatalf("expected ErrKeysetNotFound on second delete, got %v", err)
	}
	if _, err := repo.Update(ctx, "ns-1-billing", []byte("v3"), "2"); !errors.Is(err, keystore.ErrKeysetNotFound) {
		t.Fatalf("expected ErrKeysetNotFound on update after delete, got %v", err)
	}
}

func TestKeysetMaterialRepository_InvalidVersion(t *testing.T) {
	repo := NewKeysetMaterialRepository(setupTestDB(t), nil)
	if _, err := repo.Update(context.Background(), "x", []byte("p"), "etag"); err == nil {
		t.Fatal("expected error for non-numeric version")
	}
}

func TestKeysetMaterialRepository_JoinsTransaction(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeysetMaterialRepository(db, nil)
	txm := NewTxManager(db)

	errAbort := errors.New("abort")
	err := txm.WithTx(ctx, func(ctx context.Context) error {
		if err := repo.Insert(ctx, "ns-1-billing", []byte("v1")); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	if _, err := repo.Get(ctx, "ns-1-billing"); !errors.Is(err, keystore.ErrKeysetNotFound) {
		t.Fatalf("insert must be rolled back with the transaction, got %v", err)
	}

	// 別のデータベースのトランザクションには参加しない
	other := NewTxManager(setupTestDB(t))
	err = other.WithTx(ctx, func(ctx context.Context) error {
		if err := repo.Insert(ctx, "ns-1-billing", []byte("v1")); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	if _, err := repo.Get(ctx, "ns-1-billing"); err != nil {
		t.Fatalf("insert on an unrelated database must persist, got %v", err)
	}
}

func TestKeysetMaterialRepository_Timestamps(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewMock()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk.Set(created)
	repo := NewKeysetMaterialRepository(db, clk)

	if err := repo.Insert(ctx, "ns-1-billing", []byte("v1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	clk.Add(time.Hour)
	if _, err := repo.Update(ctx, "ns-1-billing", []byte("v2"), "1"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	var model KeysetMaterialModel
	if err := db.Where("name = ?", "ns-1-billing").First(&model).Error; err != nil {
		t.Fatalf("failed to load row: %v", err)
	}
	if !model.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want %v", model.CreatedAt, created)
	}
	if !model.UpdatedAt.Equal(created.Add(time.Hour)) {
		t.Errorf("updated_at = %v, want %v", model.UpdatedAt, created.Add(time.Hour))
	}
}
