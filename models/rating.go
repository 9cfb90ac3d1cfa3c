package models

import (
	"encoding/json"
	"fmt"
)

// Rating is the five-level star rating of a book.
type Rating int

const (
	RatingOne Rating = iota + 1
	RatingTwo
	RatingThree
	RatingFour
	RatingFive
)

var ratingTokens = map[string]Rating{
	"One":   RatingOne,
	"Two":   RatingTwo,
	"Three": RatingThree,
	"Four":  RatingFour,
	"Five":  RatingFive,
}

// RatingFromToken looks a rating class token up in the ordinal table.
func RatingFromToken(token string) (Rating, bool) {
	r, ok := ratingTokens[token]
	return r, ok
}

// Valid reports whether r is one of the five known ratings.
func (r Rating) Valid() bool {
	return r >= RatingOne && r <= RatingFive
}

func (r Rating) String() string {
	switch r {
	case RatingOne:
		return "One"
	case RatingTwo:
		return "Two"
	case RatingThree:
		return "Three"
	case RatingFour:
		return "Four"
	case RatingFive:
		return "Five"
	default:
		return fmt.Sprintf("Rating(%d)", int(r))
	}
}

// MarshalJSON encodes the rating as its token.
func (r Rating) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid rating %d", int(r))
	}
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a rating token.
func (r *Rating) UnmarshalJSON(data []byte) error {
	var token string
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}
	parsed, ok := RatingFromToken(token)
	if !ok {
		return fmt.Errorf("unknown rating token %q", token)
	}
	*r = parsed
	return nil
}
