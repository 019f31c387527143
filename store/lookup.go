package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mjl-/bstore"
)

// Records returns all records, ordered by UID.
func (ix *Index) Records(ctx context.Context) ([]Record, error) {
	if err := ix.begin(); err != nil {
		return nil, err
	}
	defer ix.end()
	return bstore.QueryDB[Record](ctx, ix.DB).SortAsc("UID").List()
}

// RecordByUID returns the record for uid, or ErrUnknownUID.
func (ix *Index) RecordByUID(ctx context.Context, uid UID) (Record, error) {
	if err := ix.begin(); err != nil {
		return Record{}, err
	}
	defer ix.end()

	rec, err := bstore.QueryDB[Record](ctx, ix.DB).FilterEqual("UID", uid).Get()
	if errors.Is(err, bstore.ErrAbsent) {
		return Record{}, fmt.Errorf("%w: %d", ErrUnknownUID, uid)
	}
	return rec, err
}

// RecordsByUIDRange returns the records with UIDs from first up to and
// including last, ordered by UID. A zero last means no upper bound.
func (ix *Index) RecordsByUIDRange(ctx context.Context, first, last UID) ([]Record, error) {
	if err := ix.begin(); err != nil {
		return nil, err
	}
	defer ix.end()

	q := bstore.QueryDB[Record](ctx, ix.DB)
	q.FilterGreaterEqual("UID", first)
	if last > 0 {
		q.FilterLessEqual("UID", last)
	}
	q.SortAsc("UID")
	return q.List()
}

// RecordsByOffsetRange returns the records of messages starting at offset start
// or later, and before end, ordered by offset. A zero or negative end means no
// upper bound.
func (ix *Index) RecordsByOffsetRange(ctx context.Context, start, end int64) ([]Record, error) {
	if err := ix.begin(); err != nil {
		return nil, err
	}
	defer ix.end()

	q := bstore.QueryDB[Record](ctx, ix.DB)
	q.FilterGreaterEqual("Offset", start)
	if end > 0 {
		q.FilterLess("Offset", end)
	}
	q.SortAsc("Offset")
	return q.List()
}

// Count returns the number of records.
func (ix *Index) Count(ctx context.Context) (int, error) {
	if err := ix.begin(); err != nil {
		return 0, err
	}
	defer ix.end()
	return bstore.QueryDB[Record](ctx, ix.DB).Count()
}
