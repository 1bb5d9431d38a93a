package surf

import "testing"

func TestPaginator(t *testing.T) {
	cases := map[string]struct {
		p         *Paginator
		offset    int64
		pageCount int
		hasNext   bool
		hasPrev   bool
		prev      int
	}{
		"empty": {
			p:         NewPaginator(1, 10, 0),
			offset:    0,
			pageCount: 1,
			prev:      1,
		},
		"first of many": {
			p:         NewPaginator(1, 10, 25),
			offset:    0,
			pageCount: 3,
			hasNext:   true,
			prev:      1,
		},
		"last full page": {
			p:         NewPaginator(2, 10, 20),
			offset:    10,
			pageCount: 2,
			hasPrev:   true,
			prev:      1,
		},
		"past the end": {
			p:         NewPaginator(7, 10, 25),
			offset:    60,
			pageCount: 3,
			hasPrev:   true,
			prev:      3,
		},
		"clamped": {
			p:         NewPaginator(-3, 0, 5),
			offset:    0,
			pageCount: 5,
			hasNext:   true,
			prev:      1,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := tc.p.Offset(); got != tc.offset {
				t.Errorf("want offset %d, got %d", tc.offset, got)
			}
			if got := tc.p.PageCount(); got != tc.pageCount {
				t.Errorf("want %d pages, got %d", tc.pageCount, got)
			}
			if got := tc.p.HasNextPage(); got != tc.hasNext {
				t.Errorf("want next page %v, got %v", tc.hasNext, got)
			}
			if got := tc.p.HasPrevPage(); got != tc.hasPrev {
				t.Errorf("want prev page %v, got %v", tc.hasPrev, got)
			}
			if got := tc.p.PrevPage(); got != tc.prev {
				t.Errorf("want prev %d, got %d", tc.prev, got)
			}
		})
	}
}
