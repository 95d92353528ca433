// Package crm holds the customer, opportunity and contact directory that
// coaching sessions are attached to. It is seeded in memory.
package crm

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrContactNotFound     = errors.New("contact not found")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrOpportunityNotFound = errors.New("opportunity not found")
	ErrInvalidContact      = errors.New("invalid contact")
	ErrInvalidQuery        = errors.New("invalid query")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Contact struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Role  string `json:"role"`
}

// ContactPatch carries a partial update; nil fields are left alone.
type ContactPatch struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Role  *string `json:"role,omitempty"`
}

type CustomerContact struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Title     string `json:"title"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Role      string `json:"role"`
}

type Customer struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	Address        string            `json:"address"`
	BillingAddress string            `json:"billingAddress"`
	PhoneNumber    string            `json:"phoneNumber"`
	Email          string            `json:"email"`
	Owner          string            `json:"owner"`
	Team           []string          `json:"team"`
	CreatedAt      time.Time         `json:"createdAt"`
	Contacts       []CustomerContact `json:"contacts"`
}

type Opportunity struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Amount       float64 `json:"amount"`
	Stage        string  `json:"stage"`
	CustomerName string  `json:"customerName"`
	CustomerID   int64   `json:"customerId"`
}

type Query struct {
	Search   string
	Sort     string
	Desc     bool
	Page     int
	PageSize int
}

type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

func paginate[T any](items []T, q Query) Page[T] {
	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	total := len(items)
	start := total
	if page-1 < (total+size-1)/size {
		start = (page - 1) * size
	}
	end := start + size
	if end > total {
		end = total
	}
	out := make([]T, end-start)
	copy(out, items[start:end])
	return Page[T]{
		Items:      out,
		Total:      total,
		Page:       page,
		PageSize:   size,
		TotalPages: (total + size - 1) / size,
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), needle)
}
