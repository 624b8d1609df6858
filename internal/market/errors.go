package market

import "errors"

var (
	errNotKline  = errors.New("not a kline event")
	errBadNumber = errors.New("malformed numeric field")
)
