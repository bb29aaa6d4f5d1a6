package stompws

import "github.com/pkg/errors"

var (
	ErrConnectionClosed  = errors.New("stomp connection closed")
	ErrDisconnectTimeout = errors.New("stomp disconnect receipt not received in time")
)
