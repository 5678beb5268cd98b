package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-zoox/compress/flate"
	"github.com/go-zoox/compress/gzip"
)

// RewriteBody replaces a response body in place, transparently decoding and
// re-encoding gzip or deflate content. Useful from an OnResponse hook, like
// nginx sub_filter.
func RewriteBody(resp *http.Response, onRewrite func([]byte) ([]byte, error)) error {
	contentEncoding := resp.Header.Get("Content-Encoding")
	switch contentEncoding {
	case "", "gzip", "deflate":
	default:
		return fmt.Errorf("unsupport content encoding: %s", contentEncoding)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := resp.Body.Close(); err != nil {
		return err
	}

	switch contentEncoding {
	case "":
		b, err = onRewrite(b)
		if err != nil {
			return err
		}
	case "gzip":
		g := gzip.New()
		decodedB, err := g.Decompress(b)
		if err != nil {
			return err
		}
		b, err = onRewrite(decodedB)
		if err != nil {
			return err
		}
		b = g.Compress(b)
	case "deflate":
		d := flate.New()
		decodedB, err := d.Decompress(b)
		if err != nil {
			return err
		}
		b, err = onRewrite(decodedB)
		if err != nil {
			return err
		}
		b = d.Compress(b)
	}

	resp.Body = io.NopCloser(bytes.NewReader(b))
	resp.ContentLength = int64(len(b))
	resp.Header.Set("Content-Length", strconv.Itoa(len(b)))
	return nil
}
