package application

import (
	"errors"

	"marketdata-etl/internal/domain"
)

var ErrNotFound = domain.ErrNotFound
var ErrBadRequest = errors.New("bad request")
