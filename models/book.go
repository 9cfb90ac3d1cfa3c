// Package models defines data structures shared by the crawler, the store and
// the cluster model.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawRecord is one catalog entry as it appears in the page markup.
type RawRecord struct {
	Title            string
	PriceText        string
	RatingToken      string
	AvailabilityText string
	ImagePath        string
	PageURL          string
}

// Book is a normalized catalog record.
type Book struct {
	Title        string          `csv:"titulo" json:"titulo"`
	Price        decimal.Decimal `csv:"preco" json:"preco"`
	Rating       Rating          `csv:"avaliacao" json:"avaliacao"`
	Availability string          `csv:"disponibilidade" json:"disponibilidade"`
	ImageURL     string          `csv:"url_imagem" json:"url_imagem"`
}

// StoredBook is a row read back from the catalog store. The rating is kept as
// the stored token so readers decide how to treat tokens they do not know.
type StoredBook struct {
	ID           int64   `json:"id"`
	Title        string  `json:"titulo"`
	Price        float64 `json:"preco"`
	Rating       string  `json:"avaliacao"`
	Availability string  `json:"disponibilidade"`
	ImageURL     string  `json:"url_imagem"`
}

// FeatureVector is the numeric view of a record used by the cluster model.
type FeatureVector struct {
	RecordID      int64   `json:"id"`
	Price         float64 `json:"price"`
	RatingOrdinal int     `json:"rating_ordinal"`
}

// Values returns the vector in model feature order.
func (v FeatureVector) Values() []float64 {
	return []float64{v.Price, float64(v.RatingOrdinal)}
}

// CrawlResult summarizes one completed crawl.
type CrawlResult struct {
	Records   []RawRecord
	Pages     int
	Requests  int
	StartTime time.Time
	EndTime   time.Time
}
