package pipeline

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-books-pipeline/models"
)

// DualWriter exports the catalog as CSV and JSONL side by side.
type DualWriter struct {
	csv  *CSVWriter
	json *JSONWriter
}

// NewDualWriter creates both output files.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	cw, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}
	jw, err := NewJSONWriter(jsonFilename)
	if err != nil {
		cw.Discard()
		return nil, fmt.Errorf("create json writer: %w", err)
	}
	return &DualWriter{csv: cw, json: jw}, nil
}

// Write writes books to both outputs.
func (dw *DualWriter) Write(books []models.Book) error {
	if err := dw.csv.Write(books); err != nil {
		return fmt.Errorf("csv: %w", err)
	}
	if err := dw.json.Write(books); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	return nil
}

// Close closes both writers and reports every failure.
func (dw *DualWriter) Close() error {
	var errs []error
	if err := dw.csv.Close(); err != nil {
		errs = append(errs, fmt.Errorf("csv: %w", err))
	}
	if err := dw.json.Close(); err != nil {
		errs = append(errs, fmt.Errorf("json: %w", err))
	}
	return errors.Join(errs...)
}

// Validate validates both output files.
func (dw *DualWriter) Validate() error {
	var errs []error
	if err := dw.csv.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("csv: %w", err))
	}
	if err := dw.json.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("json: %w", err))
	}
	return errors.Join(errs...)
}

// Commit installs both files.
func (dw *DualWriter) Commit() error {
	if err := dw.csv.Commit(); err != nil {
		dw.json.Discard()
		return fmt.Errorf("csv: %w", err)
	}
	if err := dw.json.Commit(); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	return nil
}

// Discard removes both staged files.
func (dw *DualWriter) Discard() error {
	return errors.Join(dw.csv.Discard(), dw.json.Discard())
}
