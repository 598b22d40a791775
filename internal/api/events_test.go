package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/idotmatrix-bridge/internal/audit"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/database"
	"github.com/nerrad567/idotmatrix-bridge/internal/session"
)

func openAuditRepo(t *testing.T) *audit.SQLiteRepository {
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
	return audit.NewSQLiteRepository(db.DB)
}

func TestListEvents(t *testing.T) {
	repo := openAuditRepo(t)
	env := newTestEnv(t, func(d *Deps) { d.Audit = repo })

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, e := range []audit.Entry{
		{EventType: session.EventDisplayOn, DisplayID: "d1"},
		{EventType: session.EventBrightnessChanged, DisplayID: "d1", Details: map[string]any{"brightness": 10}},
		{EventType: session.EventDisplayOn, DisplayID: "d2"},
	} {
		e.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := repo.Create(context.Background(), &e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name  string
		query string
		total int
		count int
	}{
		{"all", "", 3, 3},
		{"by display", "?device_id=d1", 2, 2},
		{"by type", "?event_type=display_on", 2, 2},
		{"paged", "?limit=1&offset=1", 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/events"+tt.query, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
			var res audit.ListResult
			decode(t, w, &res)
			if res.Total != tt.total || len(res.Entries) != tt.count {
				t.Errorf("total = %d, entries = %d, want %d and %d", res.Total, len(res.Entries), tt.total, tt.count)
			}
		})
	}
}

func TestListEvents_Errors(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/events", nil)
	if w.Code != http.StatusServiceUnavailable || errorCode(t, w) != ErrCodeUnavailable {
		t.Errorf("without audit: status = %d, body = %s", w.Code, w.Body.String())
	}

	env = newTestEnv(t, func(d *Deps) { d.Audit = openAuditRepo(t) })
	for _, q := range []string{"?limit=abc", "?offset=-1"} {
		w := env.do(t, http.MethodGet, "/api/v1/events"+q, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestListEvents_RecordsSessionEvents(t *testing.T) {
	repo := openAuditRepo(t)
	env := newTestEnv(t, func(d *Deps) { d.Audit = repo })

	rec := audit.NewRecorder(audit.RecorderConfig{Repository: repo})
	rec.Start(context.Background())
	t.Cleanup(rec.Stop)
	env.sessions.AddSink(rec)

	id := env.create(t, "AA:BB:CC:DD:EE:01")

	deadline := time.Now().Add(5 * time.Second)
	for rec.Written() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("display_added never recorded")
		}
		time.Sleep(time.Millisecond)
	}

	w := env.do(t, http.MethodGet, "/api/v1/events?device_id="+id, nil)
	var res audit.ListResult
	decode(t, w, &res)
	if len(res.Entries) == 0 || res.Entries[len(res.Entries)-1].EventType != session.EventDisplayAdded {
		t.Errorf("entries = %+v, want display_added first", res.Entries)
	}
}
