package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/louissader/homelab-infrastructure-monitor/internal/config"
)

func pageContext(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestParsePage(t *testing.T) {
	srv := &Server{config: &config.Config{
		Query: config.QueryConfig{DefaultPageSize: 50, MaxPageSize: 500},
	}}

	tests := []struct {
		name     string
		query    string
		wantPage int
		wantSize int
	}{
		{"defaults", "", 1, 50},
		{"explicit", "page=3&size=10", 3, 10},
		{"zero page", "page=0", 1, 50},
		{"negative page", "page=-2", 1, 50},
		{"zero size", "size=0", 1, 50},
		{"size above cap", "size=9999", 1, 500},
		{"garbage page", "page=abc", 1, 50},
		{"garbage size", "size=abc", 1, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, size := srv.parsePage(pageContext(tt.query))
			if page != tt.wantPage || size != tt.wantSize {
				t.Errorf("parsePage(%q) = (%d, %d), want (%d, %d)",
					tt.query, page, size, tt.wantPage, tt.wantSize)
			}
		})
	}
}

func TestParsePageUnconfigured(t *testing.T) {
	srv := &Server{config: &config.Config{}}

	page, size := srv.parsePage(pageContext(""))
	if page != 1 || size != 50 {
		t.Errorf("parsePage with zero config = (%d, %d), want (1, 50)", page, size)
	}

	// Without a configured cap the requested size passes through.
	_, size = srv.parsePage(pageContext("size=9999"))
	if size != 9999 {
		t.Errorf("size = %d, want 9999", size)
	}
}

func TestNewPaged(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		size      int
		wantPages int64
	}{
		{"empty result still one page", 0, 50, 1},
		{"exact fit", 100, 50, 2},
		{"remainder rounds up", 101, 50, 3},
		{"less than one page", 7, 50, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newPaged([]int{}, tt.total, 1, tt.size)
			if got.Pages != tt.wantPages {
				t.Errorf("pages = %d, want %d", got.Pages, tt.wantPages)
			}
			if got.Total != tt.total || got.Page != 1 || got.Size != tt.size {
				t.Errorf("envelope = %+v", got)
			}
		})
	}
}
