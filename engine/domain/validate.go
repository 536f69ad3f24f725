package domain

import (
	"math"
	"net/url"
	"strings"
)

// NormTolerance is the accepted deviation from unit norm for stored vectors.
const NormTolerance = 1e-3

// ValidateItem checks an Item at the ingestion boundary. Malformed items are
// rejected here rather than propagated downstream.
func ValidateItem(it Item) error {
	if it.ImageURL == "" {
		return NewValidationError("url", it.ImageURL, ErrMissingURL)
	}
	u, err := url.Parse(it.ImageURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return NewValidationError("url", it.ImageURL, ErrInvalidURL)
	}
	switch {
	case it.ContentHash == "":
		return NewValidationError("content_hash", it.ContentHash, ErrMissingHash)
	case !ValidHash(it.ContentHash):
		return NewValidationError("content_hash", it.ContentHash, ErrInvalidHash)
	}
	if strings.TrimSpace(it.Category) == "" {
		return NewValidationError("category", it.Category, ErrMissingCategory)
	}
	return nil
}

// ValidateEmbedding checks that v has the expected dimension and unit norm.
func ValidateEmbedding(v []float32, dims int) error {
	if len(v) != dims {
		return ErrDimensionMismatch
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(sum)-1) > NormTolerance {
		return ErrNotUnitNorm
	}
	return nil
}
