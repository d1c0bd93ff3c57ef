package indicator

import (
	"errors"

	"github.com/medical-deserts/apl-dashboard/internal/geodata"
)

// ErrColumnNotFound matches every ColumnNotFoundError via errors.Is.
var ErrColumnNotFound = errors.New("column not found")

// ColumnNotFoundError reports a column absent from the table schema. It is
// recoverable: only the widget that asked for the column fails.
type ColumnNotFoundError struct {
	Column string
}

func (e *ColumnNotFoundError) Error() string {
	return "column not found: " + e.Column
}

// Is reports whether target is ErrColumnNotFound.
func (e *ColumnNotFoundError) Is(target error) bool {
	return target == ErrColumnNotFound
}

// RequireColumn returns a ColumnNotFoundError unless t has column.
func RequireColumn(t *geodata.Table, column string) error {
	if !t.HasColumn(column) {
		return &ColumnNotFoundError{Column: column}
	}
	return nil
}
