package mutation

import (
	"encoding/json"
	"strings"
)

// ProductRef names a catalog item as read from a control's data-product-id attribute.
type ProductRef string

// Valid reports whether the reference is non-blank.
func (r ProductRef) Valid() bool { return strings.TrimSpace(string(r)) != "" }

// Outcome classifies a response that is not an error.
type Outcome int

const (
	// OutcomeCompleted means the server answered and the body was decoded.
	OutcomeCompleted Outcome = iota
	// OutcomeUnauthenticated means the server answered 401; the body is ignored.
	OutcomeUnauthenticated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Result is the decoded server response. Nil pointer fields were absent (or null) in
// the payload and must leave the matching slice of displayed state untouched.
type Result struct {
	Outcome        Outcome
	Status         int
	Success        bool
	CartCount      *json.Number
	FavoritesCount *json.Number
	IsFavorite     *bool
	Message        string
}

// Unauthenticated reports whether the caller should silently drop this response.
func (r Result) Unauthenticated() bool { return r.Outcome == OutcomeUnauthenticated }

type payload struct {
	Success        *bool        `json:"success"`
	CartCount      *json.Number `json:"cart_count"`
	FavoritesCount *json.Number `json:"favorites_count"`
	IsFavorite     *bool        `json:"is_favorite"`
	Message        *string      `json:"message"`
	Error          *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p payload) toResult(status int) Result {
	res := Result{
		Outcome:        OutcomeCompleted,
		Status:         status,
		CartCount:      p.CartCount,
		FavoritesCount: p.FavoritesCount,
		IsFavorite:     p.IsFavorite,
	}
	if p.Success != nil {
		res.Success = *p.Success
	}
	if p.Message != nil {
		res.Message = strings.TrimSpace(*p.Message)
	}
	if res.Message == "" && p.Error != nil {
		res.Message = strings.TrimSpace(p.Error.Message)
	}
	return res
}
