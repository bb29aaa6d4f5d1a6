package api

import "github.com/pkg/errors"

var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrInvalidBody      = errors.New("response body is not valid JSON")
)
