// Package parsers reads bank-statement rows and reference tables from CSV
// and YAML files and writes update records back to CSV. All file access
// goes through an afero.Fs so the same code runs against the OS filesystem
// and in-memory filesystems in tests.
package parsers

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"unicode/utf8"

	"github.com/spf13/afero"

	"bank-statement-classifier/internal/models"
	apperrors "bank-statement-classifier/pkg/errors"
	"bank-statement-classifier/pkg/logger"
)

// ParseConfig holds configuration options for CSV parsing
type ParseConfig struct {
	// HasHeader indicates if the first row contains column headers
	HasHeader bool `json:"has_header" mapstructure:"has_header"`

	// Delimiter is the field delimiter (default: comma)
	Delimiter rune `json:"delimiter" mapstructure:"-"`

	// Comment character for lines to ignore (0 disables)
	Comment rune `json:"comment" mapstructure:"-"`

	// TrimLeadingSpace removes leading whitespace from fields
	TrimLeadingSpace bool `json:"trim_leading_space" mapstructure:"trim_leading_space"`

	// SkipEmptyRows ignores rows with all empty fields
	SkipEmptyRows bool `json:"skip_empty_rows" mapstructure:"skip_empty_rows"`

	// MaxFieldSize limits the size of individual fields in bytes (0 = no limit)
	MaxFieldSize int `json:"max_field_size" mapstructure:"max_field_size"`

	// ValidateEncoding checks that the first lines are valid UTF-8
	ValidateEncoding bool `json:"validate_encoding" mapstructure:"validate_encoding"`
}

// DefaultParseConfig returns a ParseConfig with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     1 << 20,
		ValidateEncoding: true,
	}
}

// Validate checks the parse configuration
func (c *ParseConfig) Validate() error {
	if !c.HasHeader {
		return fmt.Errorf("header row is required: columns are matched by name")
	}
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '\r' || c.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if c.Comment == c.Delimiter {
		return fmt.Errorf("comment character cannot equal the delimiter")
	}
	if c.MaxFieldSize < 0 {
		return fmt.Errorf("max field size cannot be negative, got %d", c.MaxFieldSize)
	}
	return nil
}

// encodingCheckLines is how many lines are checked for valid UTF-8.
const encodingCheckLines = 100

// csvFile is an open CSV file positioned after its header row.
type csvFile struct {
	path    string
	file    afero.File
	reader  *csv.Reader
	config  *ParseConfig
	headers []string
	index   map[string]int
	line    int
	empty   bool
}

// openCSV opens path on fsys and reads the header row. Header names are
// normalized with models.NormalizeKey. A file with no rows at all is
// reported as empty rather than as an error.
func openCSV(fsys afero.Fs, path string, config *ParseConfig, log logger.Logger) (*csvFile, error) {
	log.WithField("file_path", path).Debug("Opening CSV file")

	file, err := fsys.Open(path)
	if err != nil {
		return nil, openError(path, err)
	}

	if config.ValidateEncoding {
		if err := validateEncoding(file, path); err != nil {
			file.Close()
			return nil, err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, apperrors.FileError(apperrors.CodeFilePermission, path, err)
		}
	}

	reader := csv.NewReader(file)
	reader.Comma = config.Delimiter
	reader.Comment = config.Comment
	reader.TrimLeadingSpace = config.TrimLeadingSpace
	reader.FieldsPerRecord = -1

	cf := &csvFile{
		path:   path,
		file:   file,
		reader: reader,
		config: config,
	}

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		cf.empty = true
		return cf, nil
	}
	if err != nil {
		file.Close()
		return nil, apperrors.ParseError(apperrors.CodeInvalidFormat, path, 1, "headers", "", err)
	}
	cf.line = 1
	cf.setHeaders(headers)

	log.WithFields(logger.Fields{
		"file_path": path,
		"headers":   cf.headers,
	}).Debug("Read CSV headers")

	return cf, nil
}

func openError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return apperrors.FileError(apperrors.CodeFileNotFound, path, err)
	case errors.Is(err, fs.ErrPermission):
		return apperrors.FileError(apperrors.CodeFilePermission, path, err)
	default:
		return apperrors.FileError("", path, err)
	}
}

// validateEncoding checks if the file starts with valid UTF-8 text
func validateEncoding(file afero.File, path string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNum := 0

	for scanner.Scan() && lineNum < encodingCheckLines {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return apperrors.ParseError(apperrors.CodeInvalidFormat, path, lineNum, "encoding", "",
				fmt.Errorf("invalid UTF-8 encoding detected")).
				WithSuggestion("save the file in UTF-8 encoding and try again")
		}
	}

	if err := scanner.Err(); err != nil {
		return apperrors.ParseError(apperrors.CodeInvalidFormat, path, lineNum, "encoding", "", err)
	}
	return nil
}

func (c *csvFile) setHeaders(headers []string) {
	c.headers = make([]string, len(headers))
	c.index = make(map[string]int, len(headers))
	for i, h := range headers {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		name := models.NormalizeKey(h)
		c.headers[i] = name
		if _, dup := c.index[name]; !dup {
			c.index[name] = i
		}
	}
}

// require fails when any of columns is missing from the header row.
func (c *csvFile) require(columns ...string) error {
	if c.empty {
		return nil
	}
	var missing []string
	for _, col := range columns {
		if _, ok := c.index[models.NormalizeKey(col)]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return apperrors.ParseError(apperrors.CodeMissingColumn, c.path, 1, strings.Join(missing, ", "), "", nil).
		WithSuggestion(fmt.Sprintf("ensure the CSV file contains these headers: %s", strings.Join(missing, ", ")))
}

// next returns the next non-empty record, or io.EOF.
func (c *csvFile) next() ([]string, error) {
	if c.empty {
		return nil, io.EOF
	}
	for {
		record, err := c.reader.Read()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			line := c.line + 1
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			return nil, apperrors.ParseError(apperrors.CodeInvalidFormat, c.path, line, "", "", err)
		}
		c.line, _ = c.reader.FieldPos(0)

		if c.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if c.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > c.config.MaxFieldSize {
					return nil, apperrors.ParseError(apperrors.CodeInvalidData, c.path, c.line, c.column(i), truncate(field, 32),
						fmt.Errorf("field exceeds maximum size of %d bytes", c.config.MaxFieldSize))
				}
			}
		}
		return record, nil
	}
}

// column returns the header name of column i.
func (c *csvFile) column(i int) string {
	if i < len(c.headers) {
		return c.headers[i]
	}
	return fmt.Sprintf("field_%d", i)
}

// value returns the trimmed value of a named column, or "" when the column
// is absent from the header or the record is short.
func (c *csvFile) value(record []string, name string) string {
	i, ok := c.index[models.NormalizeKey(name)]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// fields turns a record into a key/value map keyed by header. Empty cells
// become nil, the way NULL columns read from a database.
func (c *csvFile) fields(record []string) map[string]interface{} {
	out := make(map[string]interface{}, len(c.headers))
	for i, name := range c.headers {
		if name == "" {
			continue
		}
		if i >= len(record) || strings.TrimSpace(record[i]) == "" {
			out[name] = nil
			continue
		}
		out[name] = record[i]
	}
	return out
}

// invalid reports a bad value in a named column on the current line.
func (c *csvFile) invalid(column, value string, err error) error {
	return apperrors.ParseError(apperrors.CodeInvalidData, c.path, c.line, column, value, err)
}

func (c *csvFile) Close() error {
	return c.file.Close()
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
