package postgres

import (
	"context"
	"fmt"
)

// truncateForTest removes all rows so each test starts empty.
func (s *Store) truncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE articles, changelog, records RESTART IDENTITY")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate: %w", err)
	}
	return nil
}
