// Package http serves the vaccination dashboard and its JSON API.
//
// This file parses query filters and request bodies shared by the API and
// the htmx partials.

package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"vaxdash/internal/amqp"
	"vaxdash/internal/services"
)

const maxBodyBytes = 4 << 10

// ParseLocationFilter reads location, from and to.
func ParseLocationFilter(query url.Values) (services.LocationFilter, error) {
	months, err := services.ParseMonthRange(query.Get("from"), query.Get("to"))
	if err != nil {
		return services.LocationFilter{}, err
	}
	return services.LocationFilter{
		Location: sanitizeInput(query.Get("location")),
		Months:   months,
	}, nil
}

// ParseContinentFilter reads continent, from and to.
func ParseContinentFilter(query url.Values) (services.ContinentFilter, error) {
	months, err := services.ParseMonthRange(query.Get("from"), query.Get("to"))
	if err != nil {
		return services.ContinentFilter{}, err
	}
	f := services.ContinentFilter{
		Continent: sanitizeInput(query.Get("continent")),
		Months:    months,
	}
	return f, f.Validate()
}

// ParseLimit returns the limit query parameter clamped to [1, max]. Missing
// or malformed values yield def.
func ParseLimit(query url.Values, def, max int) int {
	v := strings.TrimSpace(query.Get("limit"))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// sanitizeInput drops control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}

// RequestBodyParser reads a small JSON or form-encoded body once.
type RequestBodyParser struct {
	body     []byte
	jsonData map[string]any
	formData url.Values
	parsed   bool
	err      error
}

func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{}
	if r.Body != nil {
		p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	}
	return p
}

// Parse decodes the body as JSON when it looks like an object, otherwise as
// form values.
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
	if trimmed[0] == '{' {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal([]byte(trimmed), &p.jsonData); err != nil {
			p.err = fmt.Errorf("decode json body: %w", err)
		}
		return p.err
	}
	p.formData, p.err = url.ParseQuery(trimmed)
	return p.err
}

// Get returns a string value from the parsed data.
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if s, ok := p.jsonData[key].(string); ok {
			return sanitizeInput(s)
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// ParseRefreshReason reads the optional reason of a refresh request.
func ParseRefreshReason(r *http.Request) (string, error) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		return "", err
	}
	switch reason := strings.ToLower(p.Get("reason")); reason {
	case "":
		return amqp.ReasonManual, nil
	case amqp.ReasonManual, amqp.ReasonImport:
		return reason, nil
	default:
		return "", fmt.Errorf("unsupported refresh reason %q", reason)
	}
}

// RequireMethod returns a 405 response when r uses none of methods.
func RequireMethod(r *http.Request, methods ...string) *HTMXResponseBuilder {
	for _, m := range methods {
		if r.Method == m {
			return nil
		}
	}
	return MethodNotAllowedError(strings.Join(methods, ", "))
}

func RequireGET(r *http.Request) *HTMXResponseBuilder {
	return RequireMethod(r, http.MethodGet, http.MethodHead)
}

func RequirePOST(r *http.Request) *HTMXResponseBuilder {
	return RequireMethod(r, http.MethodPost)
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
