package domain

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Page sizes for list operations.
const (
	DefaultMaxResults = 100
	MaxMaxResults     = 1000
)

// pageTokenPrefix marks tokens minted by EncodePageToken, so a token from
// another list or a hand-edited value is rejected instead of misread.
const pageTokenPrefix = "o:"

// PageRequest holds pagination parameters for list operations.
type PageRequest struct {
	MaxResults int
	PageToken  string // opaque, URL-safe
}

// Validate reports a malformed page token.
func (p PageRequest) Validate() error {
	if _, ok := decodePageToken(p.PageToken); !ok {
		return ErrValidation("invalid page_token %q", p.PageToken)
	}
	return nil
}

// Offset is the row offset the page starts at. Malformed tokens give 0;
// callers reading user input check Validate first.
func (p PageRequest) Offset() int {
	offset, _ := decodePageToken(p.PageToken)
	return offset
}

// Limit returns the effective page size, clamped to [1, MaxMaxResults].
func (p PageRequest) Limit() int {
	switch {
	case p.MaxResults <= 0:
		return DefaultMaxResults
	case p.MaxResults > MaxMaxResults:
		return MaxMaxResults
	}
	return p.MaxResults
}

// EncodePageToken returns the token of the page starting at offset, or ""
// for the first page.
func EncodePageToken(offset int) string {
	if offset <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(pageTokenPrefix + strconv.Itoa(offset)))
}

// NextPageToken returns the token of the page after [offset, offset+limit),
// or "" when total rows are exhausted.
func NextPageToken(offset, limit int, total int64) string {
	next := offset + limit
	if int64(next) >= total {
		return ""
	}
	return EncodePageToken(next)
}

func decodePageToken(token string) (int, bool) {
	if token == "" {
		return 0, true
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, false
	}
	digits, ok := strings.CutPrefix(string(raw), pageTokenPrefix)
	if !ok {
		return 0, false
	}
	offset, err := strconv.Atoi(digits)
	if err != nil || offset <= 0 {
		return 0, false
	}
	return offset, true
}
