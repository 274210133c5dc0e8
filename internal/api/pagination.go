package api

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Paged is the envelope returned by every list endpoint.
type Paged struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
	Pages int64       `json:"pages"`
}

// parsePage parses page and size from query parameters. Page defaults to 1,
// size to the configured default, and size is capped at the configured
// maximum so a single request cannot drag the whole history over the wire.
func (s *Server) parsePage(c echo.Context) (page, size int) {
	page = 1
	if p := c.QueryParam("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}

	size = s.config.Query.DefaultPageSize
	if sz := c.QueryParam("size"); sz != "" {
		if parsed, err := strconv.Atoi(sz); err == nil && parsed > 0 {
			size = parsed
		}
	}
	if size <= 0 {
		size = 50
	}
	if max := s.config.Query.MaxPageSize; max > 0 && size > max {
		size = max
	}

	return page, size
}

// newPaged assembles the list envelope. Pages is the ceiling of total/size;
// an empty result still reports one page so clients can render page 1 of 1.
func newPaged(items interface{}, total int64, page, size int) Paged {
	pages := int64(1)
	if size > 0 && total > 0 {
		pages = (total + int64(size) - 1) / int64(size)
	}
	return Paged{
		Items: items,
		Total: total,
		Page:  page,
		Size:  size,
		Pages: pages,
	}
}
