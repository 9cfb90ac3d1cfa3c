package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/aluiziolira/go-books-pipeline/models"
	"github.com/aluiziolira/go-books-pipeline/parser"
)

// csvHeader is the column layout shared by exports and ReadCSV.
var csvHeader = []string{"titulo", "preco", "avaliacao", "disponibilidade", "url_imagem"}

// OutputWriter writes a tabular copy of the normalized catalog. Output is
// staged next to its destination; Commit installs it and Discard drops it,
// leaving any previous export in place either way until then.
type OutputWriter interface {
	Write(books []models.Book) error
	Close() error
	Validate() error
	Commit() error
	Discard() error
}

// stagedFile is an output file written under a temp name and renamed into
// place on commit.
type stagedFile struct {
	file   *os.File
	path   string
	closed bool
}

func createStaged(path string) (*stagedFile, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &stagedFile{file: f, path: path}, nil
}

func (sf *stagedFile) close() error {
	if sf.closed {
		return nil
	}
	sf.closed = true
	return sf.file.Close()
}

func (sf *stagedFile) stat() (fs.FileInfo, error) {
	if sf.closed {
		return os.Stat(sf.file.Name())
	}
	return sf.file.Stat()
}

func (sf *stagedFile) commit() error {
	if err := sf.close(); err != nil {
		return err
	}
	if err := os.Chmod(sf.file.Name(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(sf.file.Name(), sf.path); err != nil {
		return fmt.Errorf("install %s: %w", sf.path, err)
	}
	return nil
}

func (sf *stagedFile) discard() error {
	closeErr := sf.close()
	if err := os.Remove(sf.file.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return closeErr
}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	out    *stagedFile
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter stages filename and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	out, err := createStaged(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(out.file)
	if err := writer.Write(csvHeader); err != nil {
		out.discard()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		out.discard()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{out: out, writer: writer}, nil
}

// Write appends books to the CSV output.
func (cw *CSVWriter) Write(books []models.Book) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, book := range books {
		record := []string{
			book.Title,
			book.Price.StringFixed(2),
			book.Rating.String(),
			book.Availability,
			book.ImageURL,
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the staged file.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.out.closed {
		return nil
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.out.close()
}

// Validate ensures the staged file holds at least the header row.
func (cw *CSVWriter) Validate() error {
	info, err := cw.out.stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// Commit installs the CSV at its destination.
func (cw *CSVWriter) Commit() error {
	if err := cw.Close(); err != nil {
		return err
	}
	return cw.out.commit()
}

// Discard removes the staged CSV.
func (cw *CSVWriter) Discard() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.out.discard()
}

// JSONWriter writes newline-delimited JSON records using the CSV column names
// as keys.
type JSONWriter struct {
	out     *stagedFile
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter stages filename.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	out, err := createStaged(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(out.file)
	return &JSONWriter{
		out:     out,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends books in JSONL format.
func (jw *JSONWriter) Write(books []models.Book) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, book := range books {
		if err := jw.encoder.Encode(book); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the staged file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.out.closed {
		return nil
	}
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.out.close()
}

// Validate ensures the staged file exists. An empty catalog is a valid export
// and yields an empty JSONL file.
func (jw *JSONWriter) Validate() error {
	if _, err := jw.out.stat(); err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	return nil
}

// Commit installs the JSONL file at its destination.
func (jw *JSONWriter) Commit() error {
	if err := jw.Close(); err != nil {
		return err
	}
	return jw.out.commit()
}

// Discard removes the staged JSONL file.
func (jw *JSONWriter) Discard() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.out.discard()
}

// NewWriter returns the writer for format, or nil for "none".
func NewWriter(format, filename string) (OutputWriter, error) {
	switch format {
	case "none":
		return nil, nil
	case "json":
		return NewJSONWriter(filename)
	case "csv":
		return NewCSVWriter(filename)
	case "dual":
		return NewDualWriter(filename, jsonSibling(filename))
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func jsonSibling(filename string) string {
	ext := filepath.Ext(filename)
	return filename[:len(filename)-len(ext)] + ".json"
}

// ReadCSV reads an export back into normalized books. Rows go through the
// same strict normalization as crawled records, so one bad row rejects the
// file.
func ReadCSV(path string, base *url.URL) ([]models.Book, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(csvHeader)

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("csv %s has no header", path)
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if !slices.Equal(header, csvHeader) {
		return nil, fmt.Errorf("unexpected csv header %v", header)
	}

	var raws []models.RawRecord
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		raws = append(raws, models.RawRecord{
			Title:            row[0],
			PriceText:        row[1],
			RatingToken:      row[2],
			AvailabilityText: row[3],
			ImagePath:        row[4],
			PageURL:          path,
		})
	}

	return parser.NormalizeAll(raws, base)
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
