package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=20&offset=10", 20, 10},
		{"?limit=500", MaxLimit, 0},
		{"?limit=-1&offset=-5", DefaultLimit, 0},
		{"?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := paramsFor(tt.query)
			if p.Limit != tt.limit || p.Offset != tt.offset {
				t.Errorf("expected limit=%d offset=%d, got limit=%d offset=%d", tt.limit, tt.offset, p.Limit, p.Offset)
			}
		})
	}
}

func TestParams_Navigation(t *testing.T) {
	p := Params{Limit: 10, Offset: 5}
	if !p.HasNext(20) || p.HasNext(15) {
		t.Error("HasNext mismatch")
	}
	if !p.HasPrevious() || (Params{Limit: 10}).HasPrevious() {
		t.Error("HasPrevious mismatch")
	}
	if p.NextOffset() != 15 || p.PreviousOffset() != 0 {
		t.Errorf("unexpected offsets %d %d", p.NextOffset(), p.PreviousOffset())
	}
}

func TestNewPage(t *testing.T) {
	if pg := NewPage(Params{Limit: 2, Offset: 0}, 3); !pg.HasMore || pg.Limit != 2 {
		t.Errorf("unexpected page %+v", pg)
	}
	if pg := NewPage(Params{Limit: 2, Offset: 2}, 3); pg.HasMore {
		t.Errorf("expected last page, got %+v", pg)
	}
}
