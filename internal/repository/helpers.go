package repository

import (
	"errors"

	"github.com/lib/pq"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func paginate(page, size int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > maxPageSize {
		size = defaultPageSize
	}
	return page, size, (page - 1) * size
}
