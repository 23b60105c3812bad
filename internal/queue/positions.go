package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SavedPosition is a named stage position kept for later recall.
type SavedPosition struct {
	Name    string    `json:"name"`
	X       float64   `json:"x"`
	Y       float64   `json:"y"`
	SavedAt time.Time `json:"saved_at"`
}

// SavePosition stores pos under its normalized name, replacing any position
// saved under the same name. The list keeps first-save order.
func (s *Store) SavePosition(ctx context.Context, pos SavedPosition) (SavedPosition, error) {
	pos.Name = NormalizeLabel(pos.Name)
	if pos.Name == "" {
		return SavedPosition{}, ErrEmptyPositionName
	}
	if pos.SavedAt.IsZero() {
		pos.SavedAt = time.Now()
	}
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO saved_positions (name, x, y, saved_at) VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET x = excluded.x, y = excluded.y, saved_at = excluded.saved_at`,
			pos.Name, pos.X, pos.Y, formatTime(pos.SavedAt))
		return err
	})
	if err != nil {
		return SavedPosition{}, fmt.Errorf("save position %s: %w", pos.Name, err)
	}
	return pos, nil
}

// Positions lists saved positions in first-save order.
func (s *Store) Positions(ctx context.Context) ([]SavedPosition, error) {
	var out []SavedPosition
	err := retryOnBusy(ctx, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, "SELECT name, x, y, saved_at FROM saved_positions ORDER BY seq")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			pos, err := scanPosition(rows)
			if err != nil {
				return err
			}
			out = append(out, pos)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	return out, nil
}

// Position returns the saved position called name.
func (s *Store) Position(ctx context.Context, name string) (SavedPosition, error) {
	name = NormalizeLabel(name)
	var pos SavedPosition
	err := retryOnBusy(ctx, func() error {
		var scanErr error
		pos, scanErr = scanPosition(s.db.QueryRowContext(ctx,
			"SELECT name, x, y, saved_at FROM saved_positions WHERE name = ?", name))
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return SavedPosition{}, fmt.Errorf("%w: %s", ErrPositionNotFound, name)
	}
	if err != nil {
		return SavedPosition{}, fmt.Errorf("read position %s: %w", name, err)
	}
	return pos, nil
}

// DeletePosition forgets the position called name.
func (s *Store) DeletePosition(ctx context.Context, name string) error {
	name = NormalizeLabel(name)
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM saved_positions WHERE name = ?", name)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete position %s: %w", name, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, name)
	}
	return nil
}

func scanPosition(scanner interface{ Scan(dest ...any) error }) (SavedPosition, error) {
	var (
		pos      SavedPosition
		savedRaw sql.NullString
	)
	if err := scanner.Scan(&pos.Name, &pos.X, &pos.Y, &savedRaw); err != nil {
		return SavedPosition{}, err
	}
	pos.SavedAt = parseTime(savedRaw)
	return pos, nil
}
