package ingest

import (
	"errors"
	"net/url"
	"strconv"
)

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// errNoData signals an empty-but-successful response, handled as a
// per-symbol skip rather than a batch failure.
var errNoData = errors.New("ingest: no data returned")

func klineQuery(symbol string) url.Values {
	v := url.Values{}
	v.Set("symbol", symbol)
	v.Set("interval", "1m")
	v.Set("limit", "1")
	return v
}
