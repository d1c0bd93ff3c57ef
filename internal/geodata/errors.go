package geodata

import "errors"

// ErrDataUnavailable matches every DataUnavailableError via errors.Is.
var ErrDataUnavailable = errors.New("data unavailable")

// DataUnavailableError reports that a dataset could not be fetched or
// decoded. It is fatal for the load: no partial dataset is returned.
type DataUnavailableError struct {
	URL string
	Err error
}

func (e *DataUnavailableError) Error() string {
	if e.Err == nil {
		return "data unavailable: " + e.URL
	}
	return "data unavailable: " + e.URL + ": " + e.Err.Error()
}

func (e *DataUnavailableError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDataUnavailable.
func (e *DataUnavailableError) Is(target error) bool {
	return target == ErrDataUnavailable
}

// unavailable wraps err as a DataUnavailableError for url.
func unavailable(url string, err error) error {
	return &DataUnavailableError{URL: url, Err: err}
}
