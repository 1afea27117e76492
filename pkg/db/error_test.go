package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{"pg", &pgconn.PgError{Code: "23505"}, true},
		{"pg_other", &pgconn.PgError{Code: "23503"}, false},
		{"sqlite", errors.New("UNIQUE constraint failed: token_ledger_entries.user_id"), true},
		{"other", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDuplicateKeyErr(tc.err); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestNewTestIsolatesByName(t *testing.T) {
	type row struct {
		ID int64 `gorm:"primaryKey"`
	}
	a, err := NewTest(t.Name() + "/a")
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	b, err := NewTest(t.Name() + "/b")
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	if err := a.AutoMigrate(&row{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := a.Create(&row{ID: 1}).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	if b.Migrator().HasTable(&row{}) {
		t.Fatalf("expected databases to be isolated")
	}
}
