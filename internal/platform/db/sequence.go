package db

import (
	"context"
	"fmt"
)

// NextSequence atomically allocates the next number for a document scope
// (for example "invoice") within an owner and year.
func NextSequence(ctx context.Context, q DBTX, scope string, ownerID int64, year int) (int64, error) {
	var next int64
	err := q.QueryRow(ctx, `
		INSERT INTO document_sequences (owner_id, scope, year, last_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (owner_id, scope, year)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number`, ownerID, scope, year).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("platform/db: next %s sequence: %w", scope, err)
	}
	return next, nil
}
