package manager

import (
	"fmt"
	"net/url"
	"strings"
)

// mergeTargetURL rewrites a request URL for forwarding: the service endpoint
// prefix is stripped from the request path and the remainder is joined onto
// the destination URL, preserving the query string and trailing-slash
// semantics of the endpoint.
func mergeTargetURL(reqURL *url.URL, endpoint, to string) (*url.URL, error) {
	toURL, err := url.Parse(to)
	if err != nil {
		return nil, fmt.Errorf("invalid destination URL %q: %w", to, err)
	}

	reqStr := reqURL.RequestURI()
	if reqStr == "" {
		reqStr = "/"
	}

	fromStr := strings.TrimSpace(endpoint)
	if fromStr == "" || fromStr == "/" {
		fromStr = "/"
	} else {
		fromStr = strings.TrimSuffix(fromStr, "/")
	}

	r := stripOrStay(reqStr, fromStr)
	isRoot := r == "/"
	rem := stripOrStay(r, "/")

	toStr := toURL.RequestURI()
	if toStr == "" {
		toStr = "/"
	}

	var merged string
	switch {
	case rem == "":
		if isRoot && !strings.HasSuffix(toStr, "/") {
			merged = toStr + "/"
		} else {
			merged = toStr
		}
	case strings.HasSuffix(toStr, "/"):
		merged = toStr + rem
	case isRoot:
		merged = toStr + "/"
	default:
		merged = toStr + "/" + rem
	}

	mergedURL, err := url.ParseRequestURI(merged)
	if err != nil {
		return nil, fmt.Errorf("merged path %q: %w", merged, err)
	}

	out := *toURL
	out.Path = mergedURL.Path
	out.RawPath = mergedURL.RawPath
	out.RawQuery = mergedURL.RawQuery
	return &out, nil
}

func stripOrStay(s, prefix string) string {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):]
	}
	return s
}
