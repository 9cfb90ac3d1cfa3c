// Package features derives cluster model inputs from stored catalog records.
package features

import (
	"context"
	"errors"
	"iter"

	"github.com/aluiziolira/go-books-pipeline/models"
	"github.com/aluiziolira/go-books-pipeline/parser"
)

// Source streams stored records. store.Catalog satisfies it.
type Source interface {
	Each(ctx context.Context, fn func(models.StoredBook) error) error
}

var errStopped = errors.New("features: iteration stopped")

// FromStored maps a stored record to its feature vector. Rating tokens
// outside the ordinal table become 0.
func FromStored(b models.StoredBook) models.FeatureVector {
	return models.FeatureVector{
		RecordID:      b.ID,
		Price:         b.Price,
		RatingOrdinal: parser.RatingToNumeric(b.Rating),
	}
}

// FromBook maps a normalized record that has not been stored yet.
func FromBook(id int64, b models.Book) models.FeatureVector {
	ordinal := 0
	if b.Rating.Valid() {
		ordinal = int(b.Rating)
	}
	return models.FeatureVector{
		RecordID:      id,
		Price:         b.Price.InexactFloat64(),
		RatingOrdinal: ordinal,
	}
}

// All yields one vector per stored record in id order. Each range over the
// returned sequence reads the store again. A read error is yielded once as
// the final element.
func All(ctx context.Context, src Source) iter.Seq2[models.FeatureVector, error] {
	return func(yield func(models.FeatureVector, error) bool) {
		err := src.Each(ctx, func(b models.StoredBook) error {
			if !yield(FromStored(b), nil) {
				return errStopped
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopped) {
			yield(models.FeatureVector{}, err)
		}
	}
}

// Collect materializes seq, stopping at the first error.
func Collect(seq iter.Seq2[models.FeatureVector, error]) ([]models.FeatureVector, error) {
	var out []models.FeatureVector
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// FromBooks maps an in-memory catalog, numbering records from 1 the way the
// store does.
func FromBooks(books []models.Book) []models.FeatureVector {
	out := make([]models.FeatureVector, len(books))
	for i, b := range books {
		out[i] = FromBook(int64(i+1), b)
	}
	return out
}
