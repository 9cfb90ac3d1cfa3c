package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aluiziolira/go-books-pipeline/models"
	"github.com/shopspring/decimal"
)

// CurrencySymbol prefixes every catalog price.
const CurrencySymbol = "£"

var errNegativePrice = errors.New("price cannot be negative")

// Normalize converts one raw record into a Book. base is the catalog base URL
// image paths are resolved against.
func Normalize(raw models.RawRecord, base *url.URL) (models.Book, error) {
	price, err := NormalizePrice(raw.PriceText)
	if err != nil {
		return models.Book{}, &NormalizationError{Title: raw.Title, Field: "price", Value: raw.PriceText, Err: err}
	}

	rating, err := ParseRating(raw.RatingToken)
	if err != nil {
		return models.Book{}, &NormalizationError{Title: raw.Title, Field: "rating", Value: raw.RatingToken, Err: err}
	}

	imageURL, err := ResolveImageURL(base, raw.ImagePath)
	if err != nil {
		return models.Book{}, &NormalizationError{Title: raw.Title, Field: "image", Value: raw.ImagePath, Err: err}
	}

	return models.Book{
		Title:        raw.Title,
		Price:        price,
		Rating:       rating,
		Availability: NormalizeAvailability(raw.AvailabilityText),
		ImageURL:     imageURL,
	}, nil
}

// NormalizeAll normalizes every record or none: the first failure rejects the
// whole set.
func NormalizeAll(raws []models.RawRecord, base *url.URL) ([]models.Book, error) {
	books := make([]models.Book, 0, len(raws))
	for i, raw := range raws {
		book, err := Normalize(raw, base)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		books = append(books, book)
	}
	return books, nil
}

// NormalizePrice removes the currency symbol and parses the remaining decimal.
func NormalizePrice(price string) (decimal.Decimal, error) {
	price = strings.TrimSpace(price)
	price = strings.TrimPrefix(price, "Â")
	price = strings.TrimPrefix(price, CurrencySymbol)
	price = strings.TrimSpace(price)

	value, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if value.IsNegative() {
		return decimal.Decimal{}, errNegativePrice
	}
	return value, nil
}

// ParseRating maps a rating class token to its ordinal. Unknown tokens are an
// error at ingestion time.
func ParseRating(token string) (models.Rating, error) {
	rating, ok := models.RatingFromToken(strings.TrimSpace(token))
	if !ok {
		return 0, fmt.Errorf("unknown rating token %q", token)
	}
	return rating, nil
}

// RatingToNumeric converts the textual rating to a numeric scale, with 0 for
// anything outside the table.
func RatingToNumeric(rating string) int {
	r, ok := models.RatingFromToken(strings.TrimSpace(rating))
	if !ok {
		return 0
	}
	return int(r)
}

// NormalizeAvailability trims spacing from the availability text.
func NormalizeAvailability(text string) string {
	return strings.TrimSpace(text)
}

// ResolveImageURL resolves an image path against the catalog base URL.
func ResolveImageURL(base *url.URL, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("empty image path")
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	if base == nil {
		if !ref.IsAbs() {
			return "", errors.New("relative image path without base URL")
		}
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}
