// Package http exposes the ledger over a JSON API.
//
// This file implements helpers for reading request bodies and query
// parameters. Bodies may be JSON or form encoded.

package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/services"
)

// maxBodyBytes caps request bodies; ledger payloads are tiny.
const maxBodyBytes = 64 << 10

// maxListLimit caps ?limit= on listings.
const maxListLimit = 1000

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON objects and form-encoded data.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]interface{}
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body != nil {
		p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	trimmed := strings.TrimSpace(string(p.body))
	if trimmed == "" {
		p.formData = url.Values{}
		return nil
	}

	if trimmed[0] == '{' || strings.HasPrefix(p.contentType, "application/json") {
		p.jsonData = make(map[string]interface{})
		if err := json.Unmarshal([]byte(trimmed), &p.jsonData); err != nil {
			p.jsonData = nil
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(trimmed)
	return p.err
}

// Get returns a sanitized string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// Has reports whether key was sent at all, even with an empty value.
func (p *RequestBodyParser) Has(key string) bool {
	if p.jsonData != nil {
		v, ok := p.jsonData[key]
		return ok && v != nil
	}
	if p.formData != nil {
		return p.formData.Has(key)
	}
	return false
}

// Optional returns a pointer to the value of key, or nil when absent.
func (p *RequestBodyParser) Optional(key string) *string {
	if !p.Has(key) {
		return nil
	}
	v := p.Get(key)
	return &v
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// TransactionInput reads the fields of a new transaction.
func (p *RequestBodyParser) TransactionInput() services.TransactionInput {
	return services.TransactionInput{
		Date:        p.Get("date"),
		Type:        p.Get("type"),
		PaymentMode: p.Get("payment_mode"),
		Category:    p.Get("category"),
		Description: p.Get("description"),
		Amount:      p.Get("amount"),
	}
}

// TransactionPatch reads only the fields present in the body.
func (p *RequestBodyParser) TransactionPatch() services.TransactionPatch {
	return services.TransactionPatch{
		Date:        p.Optional("date"),
		Type:        p.Optional("type"),
		PaymentMode: p.Optional("payment_mode"),
		Category:    p.Optional("category"),
		Description: p.Optional("description"),
		Amount:      p.Optional("amount"),
	}
}

// ParseLimit reads ?limit=. Missing means no limit; anything that is not a
// positive integer is a validation error.
func ParseLimit(query url.Values) (int, error) {
	v := strings.TrimSpace(query.Get("limit"))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, core.Invalid("limit", "must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

// ParseID reads the {id} path segment.
func ParseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, core.Invalid("id", "must be a positive integer")
	}
	return id, nil
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
