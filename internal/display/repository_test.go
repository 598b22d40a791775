package display

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/database"
	_ "github.com/nerrad567/idotmatrix-bridge/migrations"
)

// openTestRepo returns a repository over a migrated in-memory database.
func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx, nil); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func testDisplay(mac string) *Display {
	return &Display{
		ID:         GenerateID(),
		Name:       DefaultName(mac),
		MACAddress: mac,
		Options:    DefaultOptions(),
	}
}

func TestSQLiteRepository_CRUD(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	d := testDisplay("AA:BB:CC:DD:EE:FF")
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if d.Source != SourceAPI {
		t.Errorf("Source = %q, want %q", d.Source, SourceAPI)
	}

	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.MACAddress != d.MACAddress || got.Options != d.Options {
		t.Errorf("GetByID() = %+v, want %+v", got, d)
	}

	byMAC, err := repo.GetByMAC(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("GetByMAC() error = %v", err)
	}
	if byMAC.ID != d.ID {
		t.Errorf("GetByMAC().ID = %q, want %q", byMAC.ID, d.ID)
	}

	d.Name = "Kitchen"
	d.ScanInterval = 60
	if err := repo.Update(ctx, d); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ = repo.GetByID(ctx, d.ID)
	if got.Name != "Kitchen" || got.ScanInterval != 60 {
		t.Errorf("after Update() = %+v", got)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List() len = %d, want 1", len(list))
	}

	if err := repo.Delete(ctx, d.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after Delete error = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_DuplicateMAC(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, testDisplay("AA:BB:CC:DD:EE:FF")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := repo.Create(ctx, testDisplay("AA:BB:CC:DD:EE:FF"))
	if !errors.Is(err, ErrDuplicateMAC) {
		t.Errorf("Create() duplicate error = %v, want ErrDuplicateMAC", err)
	}
}

func TestSQLiteRepository_State(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	d := testDisplay("AA:BB:CC:DD:EE:01")
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := repo.LoadState(ctx, d.ID); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("LoadState() before save error = %v, want ErrStateNotFound", err)
	}

	saved := StoredState{
		IsOn:          true,
		Brightness:    128,
		ScreenFlipped: true,
		CurrentMode:   "text",
		ClockStyle:    "digital",
		EffectMode:    "fire",
		LastMessage:   "hello",
		UpdatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := repo.SaveState(ctx, d.ID, saved); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	saved.LastMessage = "world"
	if err := repo.SaveState(ctx, d.ID, saved); err != nil {
		t.Fatalf("SaveState() upsert error = %v", err)
	}

	got, err := repo.LoadState(ctx, d.ID)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if !got.UpdatedAt.Equal(saved.UpdatedAt) {
		t.Errorf("LoadState().UpdatedAt = %v, want %v", got.UpdatedAt, saved.UpdatedAt)
	}
	got.UpdatedAt, saved.UpdatedAt = time.Time{}, time.Time{}
	if *got != saved {
		t.Errorf("LoadState() = %+v, want %+v", *got, saved)
	}

	if err := repo.Delete(ctx, d.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.LoadState(ctx, d.ID); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("LoadState() after Delete error = %v, want ErrStateNotFound", err)
	}
}

func TestSQLiteRepository_SaveStateUnknownDisplay(t *testing.T) {
	repo := openTestRepo(t)

	err := repo.SaveState(context.Background(), "missing", StoredState{CurrentMode: "clock"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveState() error = %v, want ErrNotFound", err)
	}
}
