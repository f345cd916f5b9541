package parsers

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/spf13/afero"

	"bank-statement-classifier/internal/models"
	"bank-statement-classifier/pkg/logger"
)

// CSVRowSource streams raw bank-statement rows from a CSV file in batches.
// The file is opened on the first call to NextBatch.
type CSVRowSource struct {
	fs     afero.Fs
	path   string
	config *ParseConfig
	logger logger.Logger

	mu   sync.Mutex
	file *csvFile
	read int64
	done bool
}

// NewCSVRowSource creates a row source for path on fsys.
func NewCSVRowSource(fsys afero.Fs, path string, config *ParseConfig) *CSVRowSource {
	if config == nil {
		config = DefaultParseConfig()
	}
	cfg := *config
	return &CSVRowSource{
		fs:     fsys,
		path:   path,
		config: &cfg,
		logger: logger.GetGlobalLogger().WithComponent("parsers").WithField("file_path", path),
	}
}

// NextBatch implements reconciler.RowSource. It returns io.EOF with the last
// (possibly empty) batch.
func (s *CSVRowSource) NextBatch(ctx context.Context, size int) ([]*models.RawRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, io.EOF
	}

	if s.file == nil {
		cf, err := openCSV(s.fs, s.path, s.config, s.logger)
		if err != nil {
			return nil, err
		}
		if err := cf.require(models.ColumnDocKey, models.ColumnEntriesID); err != nil {
			cf.Close()
			return nil, err
		}
		s.file = cf
	}

	rows := make([]*models.RawRow, 0, size)
	for len(rows) < size {
		if err := ctx.Err(); err != nil {
			return rows, err
		}

		record, err := s.file.next()
		if errors.Is(err, io.EOF) {
			s.finish()
			return rows, io.EOF
		}
		if err != nil {
			return rows, err
		}

		rows = append(rows, models.NewRawRow(s.file.fields(record)))
		s.read++
	}
	return rows, nil
}

func (s *CSVRowSource) finish() {
	s.done = true
	s.logger.WithField("rows", s.read).Debug("Row file exhausted")
	s.file.Close()
	s.file = nil
}

// RowsRead returns the number of rows returned so far.
func (s *CSVRowSource) RowsRead() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read
}

// Close releases the underlying file.
func (s *CSVRowSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
