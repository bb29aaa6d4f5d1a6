package directory

import "github.com/pkg/errors"

// ErrUnknownEntry is returned when selecting an id the roster does not show.
var ErrUnknownEntry = errors.New("no directory entry for id")
