package config

import (
	"errors"
	"io/fs"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation
var ErrInvalidConfig = errors.New("invalid config")

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
