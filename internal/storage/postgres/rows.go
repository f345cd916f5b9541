package postgres

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bank-statement-classifier/internal/models"
	"bank-statement-classifier/pkg/logger"
)

// RowSource pages through the raw row table ordered by its natural key
// (dockey, entriesid). Each page starts after the last key returned.
type RowSource struct {
	db     DB
	table  string
	start  *time.Time
	end    *time.Time
	logger logger.Logger

	mu      sync.Mutex
	lastDoc string
	lastEnt string
	started bool
	done    bool
}

// NewRowSource creates a row source. start and end optionally restrict rows
// by transaction date.
func NewRowSource(db DB, config *Config, start, end *time.Time) *RowSource {
	if config == nil {
		config = DefaultConfig()
	}
	return &RowSource{
		db:     db,
		table:  config.Tables.Rows,
		start:  start,
		end:    end,
		logger: logger.GetGlobalLogger().WithComponent("postgres"),
	}
}

// pageQuery builds the keyset page query and its arguments. Locked rows are
// never selected.
func (s *RowSource) pageQuery(size int) (string, []any) {
	where := []string{fmt.Sprintf("NOT COALESCE(%s, false)", models.ColumnParsingLock)}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if s.started {
		where = append(where, fmt.Sprintf("(%s, %s) > (%s, %s)",
			models.ColumnDocKey, models.ColumnEntriesID, arg(s.lastDoc), arg(s.lastEnt)))
	}
	if s.start != nil {
		where = append(where, fmt.Sprintf("%s >= %s", models.ColumnTransactionDate, arg(*s.start)))
	}
	if s.end != nil {
		where = append(where, fmt.Sprintf("%s <= %s", models.ColumnTransactionDate, arg(*s.end)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s WHERE %s", quoteTable(s.table), strings.Join(where, " AND "))
	fmt.Fprintf(&b, " ORDER BY %s, %s LIMIT %s", models.ColumnDocKey, models.ColumnEntriesID, arg(size))
	return b.String(), args
}

// NextBatch implements reconciler.RowSource.
func (s *RowSource) NextBatch(ctx context.Context, size int) ([]*models.RawRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, io.EOF
	}

	query, args := s.pageQuery(size)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, queryError(s.table, err)
	}
	defer rows.Close()

	out := make([]*models.RawRow, 0, size)
	fields := rows.FieldDescriptions()
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, queryError(s.table, err)
		}
		rec := make(map[string]interface{}, len(fields))
		for i, f := range fields {
			rec[f.Name] = scalar(vals[i])
		}
		out = append(out, models.NewRawRow(rec))
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(s.table, err)
	}

	if len(out) > 0 {
		last := out[len(out)-1]
		s.lastDoc, s.lastEnt = last.DocKey(), last.EntriesID()
		s.started = true
	}

	s.logger.WithFields(logger.Fields{
		"rows":     len(out),
		"after":    s.lastDoc + "/" + s.lastEnt,
		"page_max": size,
	}).Debug("Fetched row page")

	if len(out) < size {
		s.done = true
		return out, io.EOF
	}
	return out, nil
}

// scalar turns pgx driver values into the scalar kinds FieldMap understands.
func scalar(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case [16]byte:
		return uuid.UUID(x).String()
	case time.Time, string, bool, int16, int32, int64, float32, float64:
		return x
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return nil
		}
		return dv
	default:
		return v
	}
}
