package display

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines display persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a display by ID.
	// Returns ErrNotFound if the display does not exist.
	GetByID(ctx context.Context, id string) (*Display, error)

	// GetByMAC retrieves a display by canonical MAC address.
	// Returns ErrNotFound if no display has that MAC.
	GetByMAC(ctx context.Context, mac string) (*Display, error)

	// List retrieves all displays ordered by name.
	List(ctx context.Context) ([]Display, error)

	// Create inserts a new display.
	// Returns ErrDuplicateMAC if the MAC address is already configured.
	Create(ctx context.Context, d *Display) error

	// Update modifies the name and options of an existing display.
	// The MAC address is immutable.
	Update(ctx context.Context, d *Display) error

	// Delete removes a display and its saved state.
	Delete(ctx context.Context, id string) error

	// SaveState stores the latest state snapshot for a display.
	SaveState(ctx context.Context, id string, s StoredState) error

	// LoadState returns the saved snapshot.
	// Returns ErrStateNotFound when nothing has been saved yet.
	LoadState(ctx context.Context, id string) (*StoredState, error)
}

const displayColumns = `id, name, mac_address, scan_interval, connection_timeout,
	retry_attempts, source, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a display by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Display, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+displayColumns+` FROM displays WHERE id = ?`, id)
	d, err := scanDisplay(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying display by id: %w", err)
	}
	return d, nil
}

// GetByMAC retrieves a display by its MAC address.
func (r *SQLiteRepository) GetByMAC(ctx context.Context, mac string) (*Display, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+displayColumns+` FROM displays WHERE mac_address = ?`, mac)
	d, err := scanDisplay(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying display by mac: %w", err)
	}
	return d, nil
}

// List retrieves all displays.
func (r *SQLiteRepository) List(ctx context.Context) ([]Display, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+displayColumns+` FROM displays ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying displays: %w", err)
	}
	defer rows.Close()

	var displays []Display
	for rows.Next() {
		d, err := scanDisplay(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning display: %w", err)
		}
		displays = append(displays, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating displays: %w", err)
	}
	return displays, nil
}

// Create inserts a new display.
func (r *SQLiteRepository) Create(ctx context.Context, d *Display) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Source == "" {
		d.Source = SourceAPI
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO displays (`+displayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.Name,
		d.MACAddress,
		d.ScanInterval,
		d.ConnectionTimeout,
		d.RetryAttempts,
		string(d.Source),
		d.CreatedAt.Format(time.RFC3339),
		d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateMAC
		}
		return fmt.Errorf("inserting display: %w", err)
	}
	return nil
}

// Update modifies an existing display.
func (r *SQLiteRepository) Update(ctx context.Context, d *Display) error {
	d.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE displays SET
			name = ?, scan_interval = ?, connection_timeout = ?,
			retry_attempts = ?, updated_at = ?
		WHERE id = ?`,
		d.Name,
		d.ScanInterval,
		d.ConnectionTimeout,
		d.RetryAttempts,
		d.UpdatedAt.Format(time.RFC3339),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating display: %w", err)
	}
	return requireAffected(result)
}

// Delete removes a display by ID. Its state row goes with it (ON DELETE CASCADE).
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM displays WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting display: %w", err)
	}
	return requireAffected(result)
}

// SaveState upserts the state snapshot for a display.
func (r *SQLiteRepository) SaveState(ctx context.Context, id string, s StoredState) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO display_state (
			display_id, is_on, brightness, screen_flipped, current_mode,
			clock_style, effect_mode, last_message, chronograph_mode, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(display_id) DO UPDATE SET
			is_on = excluded.is_on,
			brightness = excluded.brightness,
			screen_flipped = excluded.screen_flipped,
			current_mode = excluded.current_mode,
			clock_style = excluded.clock_style,
			effect_mode = excluded.effect_mode,
			last_message = excluded.last_message,
			chronograph_mode = excluded.chronograph_mode,
			updated_at = excluded.updated_at`,
		id,
		boolToInt(s.IsOn),
		s.Brightness,
		boolToInt(s.ScreenFlipped),
		s.CurrentMode,
		s.ClockStyle,
		s.EffectMode,
		s.LastMessage,
		s.ChronographMode,
		s.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("saving display state: %w", err)
	}
	return nil
}

// LoadState returns the saved state snapshot for a display.
func (r *SQLiteRepository) LoadState(ctx context.Context, id string) (*StoredState, error) {
	var s StoredState
	var isOn, flipped int
	var updatedAt string

	err := r.db.QueryRowContext(ctx, `
		SELECT is_on, brightness, screen_flipped, current_mode, clock_style,
			effect_mode, last_message, chronograph_mode, updated_at
		FROM display_state
		WHERE display_id = ?`, id).Scan(
		&isOn,
		&s.Brightness,
		&flipped,
		&s.CurrentMode,
		&s.ClockStyle,
		&s.EffectMode,
		&s.LastMessage,
		&s.ChronographMode,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("loading display state: %w", err)
	}

	s.IsOn = isOn != 0
	s.ScreenFlipped = flipped != 0
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		s.UpdatedAt = t
	}
	return &s, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDisplay(scanner rowScanner) (*Display, error) {
	var d Display
	var source, createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&d.MACAddress,
		&d.ScanInterval,
		&d.ConnectionTimeout,
		&d.RetryAttempts,
		&source,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Source = Source(source)

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}
	return &d, nil
}

func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
