// Package parser turns catalog markup into raw records and raw records into
// normalized books.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-books-pipeline/models"
)

const (
	entrySelector = "article.product_pod"
	nextSelector  = "li.next a"
)

// Page is the parse result of one catalog page.
type Page struct {
	Records []models.RawRecord
	// Next is the absolute URL of the following page, empty on the last one.
	Next string
}

// ParsePage extracts every catalog entry of body in document order. pageURL is
// used to resolve the next-page reference.
func ParsePage(body []byte, pageURL *url.URL) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	source := ""
	if pageURL != nil {
		source = pageURL.String()
	}

	page := &Page{}
	var parseErr error
	doc.Find(entrySelector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		record, err := extractRecord(s, source, i)
		if err != nil {
			parseErr = err
			return false
		}
		page.Records = append(page.Records, record)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	if href, ok := doc.Find(nextSelector).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		next, err := resolve(pageURL, strings.TrimSpace(href))
		if err != nil {
			return nil, fmt.Errorf("resolve next page %q: %w", href, err)
		}
		page.Next = next
	}

	return page, nil
}

func extractRecord(s *goquery.Selection, source string, index int) (models.RawRecord, error) {
	missing := func(field string) error {
		return &ParseError{PageURL: source, Index: index, Field: field}
	}

	title, ok := s.Find("h3 a").First().Attr("title")
	if !ok {
		return models.RawRecord{}, missing("title")
	}

	price := s.Find("p.price_color").First()
	if price.Length() == 0 {
		return models.RawRecord{}, missing("price")
	}

	ratingClass, ok := s.Find("p.star-rating").First().Attr("class")
	if !ok {
		return models.RawRecord{}, missing("rating")
	}
	ratingToken := ""
	for _, class := range strings.Fields(ratingClass) {
		if class != "star-rating" {
			ratingToken = class
			break
		}
	}
	if ratingToken == "" {
		return models.RawRecord{}, missing("rating")
	}

	availability := s.Find("p.instock.availability").First()
	if availability.Length() == 0 {
		availability = s.Find("p.availability").First()
	}
	if availability.Length() == 0 {
		return models.RawRecord{}, missing("availability")
	}

	image, ok := s.Find("img").First().Attr("src")
	if !ok {
		return models.RawRecord{}, missing("image")
	}

	return models.RawRecord{
		Title:            title,
		PriceText:        price.Text(),
		RatingToken:      ratingToken,
		AvailabilityText: availability.Text(),
		ImagePath:        image,
		PageURL:          source,
	}, nil
}

func resolve(base *url.URL, ref string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if base == nil {
		return parsed.String(), nil
	}
	return base.ResolveReference(parsed).String(), nil
}
