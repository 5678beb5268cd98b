package proxy

import (
	"net/http"
)

func (r *Proxy) createResponse(req *http.Request) (*http.Response, error) {
	// execute request
	res, err := r.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	return res, nil
}
