package repositories

import (
	"errors"

	"gorm.io/gorm"
)

// IsNotFoundError reports whether err represents a missing record, regardless
// of which repository produced it.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
