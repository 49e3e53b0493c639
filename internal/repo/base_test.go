package repo

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type row struct {
	ID   int
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&row{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func TestBaseDB_BindsContext(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	ctx := context.WithValue(context.Background(), struct{}{}, "value")
	withCtx := base.DB(ctx)
	if withCtx.Statement == nil || withCtx.Statement.Context != ctx {
		t.Fatalf("expected context to flow through")
	}

	if base.DB(nil) != db {
		t.Fatalf("expected nil context to return raw connection")
	}
}

func TestBaseBindKeepsCallsInTransaction(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)
	ctx := context.Background()

	if base.Bind(nil) != base {
		t.Fatalf("expected nil tx to keep the base")
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		bound := base.Bind(tx)
		if err := bound.DB(ctx).Create(&row{ID: 1, Name: "inside"}).Error; err != nil {
			return err
		}
		var got row
		if err := bound.First(ctx, &got, "id = ?", 1); err != nil {
			return err
		}
		if got.Name != "inside" {
			t.Fatalf("unexpected row %+v", got)
		}
		return errors.New("rollback")
	})
	if err == nil {
		t.Fatalf("expected rollback error")
	}

	var got row
	if err := base.First(ctx, &got, "id = ?", 1); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected row rolled back, got %v", err)
	}
}
