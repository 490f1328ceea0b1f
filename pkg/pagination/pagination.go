package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
	MinLimit     = 1
)

// Params holds validated pagination parameters
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// Parse extracts and validates page/limit from query parameters. An explicit
// offset query parameter takes precedence over page.
func Parse(c *gin.Context) Params {
	page, _ := strconv.Atoi(c.DefaultQuery("page", strconv.Itoa(DefaultPage)))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultLimit)))

	if page < 1 {
		page = DefaultPage
	}
	if limit < MinLimit {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	p := Params{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	if raw, ok := c.GetQuery("offset"); ok {
		if offset, err := strconv.Atoi(raw); err == nil && offset >= 0 {
			p.Offset = offset
			p.Page = offset/limit + 1
		}
	}
	return p
}
