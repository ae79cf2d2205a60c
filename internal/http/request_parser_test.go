package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"vaxdash/internal/core"
	"vaxdash/internal/services"
)

func TestParseLocationFilter(t *testing.T) {
	tests := []struct {
		name     string
		query    url.Values
		wantLoc  string
		wantFrom core.MonthKey
		wantErr  bool
	}{
		{
			name:    "empty query",
			query:   url.Values{},
			wantLoc: "",
		},
		{
			name:     "location and range",
			query:    url.Values{"location": {"  Italy\x00 "}, "from": {"2021-01"}, "to": {"2021-06"}},
			wantLoc:  "Italy",
			wantFrom: core.MonthKey{Year: 2021, Month: 1},
		},
		{
			name:    "bad from",
			query:   url.Values{"from": {"2021-13"}},
			wantErr: true,
		},
		{
			name:    "inverted range",
			query:   url.Values{"from": {"2021-06"}, "to": {"2021-01"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseLocationFilter(tt.query)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !services.IsInputError(err) {
					t.Fatalf("expected an input error, got %v", err)
				}
				return
			}
			if f.Location != tt.wantLoc {
				t.Errorf("Location = %q, want %q", f.Location, tt.wantLoc)
			}
			if f.Months.From != tt.wantFrom {
				t.Errorf("From = %v, want %v", f.Months.From, tt.wantFrom)
			}
		})
	}
}

func TestParseContinentFilter(t *testing.T) {
	if _, err := ParseContinentFilter(url.Values{"continent": {"europe"}}); err != nil {
		t.Fatalf("known continent rejected: %v", err)
	}
	_, err := ParseContinentFilter(url.Values{"continent": {"Atlantis"}})
	if !errors.Is(err, services.ErrUnknownContinent) {
		t.Fatalf("expected ErrUnknownContinent, got %v", err)
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 20},
		{"5", 5},
		{"0", 20},
		{"abc", 20},
		{"500", 100},
	}
	for _, tt := range tests {
		if got := ParseLimit(url.Values{"limit": {tt.in}}, 20, 100); got != tt.want {
			t.Errorf("ParseLimit(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseRefreshReason(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		want        string
		wantErr     bool
	}{
		{"empty body", "", "", "manual", false},
		{"json", `{"reason":"import"}`, "application/json", "import", false},
		{"form", "reason=MANUAL", "application/x-www-form-urlencoded", "manual", false},
		{"unknown reason", `{"reason":"scheduled"}`, "application/json", "", true},
		{"bad json", `{"reason":`, "application/json", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/refresh", strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			got, err := ParseRefreshReason(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("reason = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequireMethod(t *testing.T) {
	if RequireGET(httptest.NewRequest(http.MethodHead, "/", nil)) != nil {
		t.Error("HEAD should pass RequireGET")
	}
	resp := RequirePOST(httptest.NewRequest(http.MethodGet, "/", nil))
	if resp == nil {
		t.Fatal("GET should fail RequirePOST")
	}
	w := httptest.NewRecorder()
	resp.Write(w)
	if w.Code != http.StatusMethodNotAllowed || w.Header().Get("Allow") != "POST" {
		t.Fatalf("got %d allow=%q", w.Code, w.Header().Get("Allow"))
	}
}
