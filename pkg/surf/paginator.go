package surf

// Paginator describes a single page of a listing of Total elements.
// Pages are numbered from 1.
type Paginator struct {
	Total    int64
	PageSize int
	Page     int
}

// NewPaginator returns a paginator with page and size clamped to sane
// values.
func NewPaginator(page, pageSize int, total int64) *Paginator {
	if pageSize < 1 {
		pageSize = 1
	}
	if page < 1 {
		page = 1
	}
	return &Paginator{Total: total, PageSize: pageSize, Page: page}
}

// Offset returns the number of elements preceding the current page.
func (p *Paginator) Offset() int64 {
	return int64(p.Page-1) * int64(p.PageSize)
}

func (p *Paginator) PageCount() int {
	if p.Total <= 0 {
		return 1
	}
	return int((p.Total + int64(p.PageSize) - 1) / int64(p.PageSize))
}

func (p *Paginator) HasNextPage() bool {
	return int64(p.Page)*int64(p.PageSize) < p.Total
}

func (p *Paginator) NextPage() int {
	return p.Page + 1
}

func (p *Paginator) HasPrevPage() bool {
	return p.Page > 1
}

func (p *Paginator) PrevPage() int {
	if p.Page <= 1 {
		return 1
	}
	if last := p.PageCount(); p.Page-1 > last {
		return last
	}
	return p.Page - 1
}
