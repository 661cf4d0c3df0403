package db

import (
	"fmt"
	"time"
)

// SoftDeletable is implemented by every entity that is removed logically.
// Repositories filter these rows out of default reads with NotDeleted.
type SoftDeletable interface {
	IsDeleted() bool
	MarkDeleted(at time.Time)
}

// Restorable entities may have their deletion marker cleared by an explicit
// reactivate operation.
type Restorable interface {
	SoftDeletable
	Restore()
}

// SoftDelete stamps the entity as deleted unless it already is. It reports
// whether the marker changed.
func SoftDelete(e SoftDeletable, at time.Time) bool {
	if e.IsDeleted() {
		return false
	}
	e.MarkDeleted(at)
	return true
}

// NotDeleted returns the predicate that excludes soft-deleted rows for the
// given table alias ("" for an unqualified column).
func NotDeleted(alias string) string {
	if alias == "" {
		return "deleted_at IS NULL"
	}
	return fmt.Sprintf("%s.deleted_at IS NULL", alias)
}
