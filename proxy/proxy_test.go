package proxy

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

const fakeHopHeader = "X-Fake-Hop-Header-For-Test"

func init() {
	inOurTests = true
	hopHeaders = append(hopHeaders, fakeHopHeader)
}

func TestProxy(t *testing.T) {
	const backendResponse = "I am the backend"
	const backendStatus = 404
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.TransferEncoding) > 0 {
			t.Errorf("backend got unexpected TransferEncoding: %v", r.TransferEncoding)
		}
		if r.Header.Get("X-Forwarded-For") == "" {
			t.Errorf("didn't get X-Forwarded-For header")
		}
		if c := r.Header.Get("Connection"); c != "" {
			t.Errorf("handler got Connection header value %q", c)
		}
		if c := r.Header.Get("Te"); c != "trailers" {
			t.Errorf("handler got Te header value %q; want 'trailers'", c)
		}
		if c := r.Header.Get("Upgrade"); c != "" {
			t.Errorf("handler got Upgrade header value %q", c)
		}
		if c := r.Header.Get("Proxy-Connection"); c != "" {
			t.Errorf("handler got Proxy-Connection header value %q", c)
		}
		if g, e := r.Host, "some-name"; g != e {
			t.Errorf("backend got Host header %q, want %q", g, e)
		}
		w.Header().Set("X-Foo", "bar")
		w.Header().Set("Upgrade", "foo")
		w.Header().Set(fakeHopHeader, "foo")
		w.Header().Add("X-Multi-Value", "foo")
		w.Header().Add("X-Multi-Value", "bar")
		http.SetCookie(w, &http.Cookie{Name: "flavor", Value: "chocolateChip"})
		w.WriteHeader(backendStatus)
		w.Write([]byte(backendResponse))
	}))
	defer backend.Close()

	backendURL, err := url.Parse(backend.URL)
	if err != nil {
		t.Fatal(err)
	}

	proxyHandler := New(&Config{
		OnRequest: func(outReq, inReq *http.Request) error {
			outReq.URL.Scheme = backendURL.Scheme
			outReq.URL.Host = backendURL.Host
			return nil
		},
	})
	frontend := httptest.NewServer(proxyHandler)
	defer frontend.Close()
	frontendClient := frontend.Client()

	getReq, _ := http.NewRequest("GET", frontend.URL, nil)
	getReq.Host = "some-name"
	getReq.Header.Set("Connection", "close, TE")
	getReq.Header.Add("Te", "foo")
	getReq.Header.Add("Te", "bar, trailers")
	getReq.Header.Set("Proxy-Connection", "should be deleted")
	getReq.Header.Set("Upgrade", "foo")
	getReq.Close = true
	res, err := frontendClient.Do(getReq)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer res.Body.Close()
	if g, e := res.StatusCode, backendStatus; g != e {
		t.Errorf("got res.StatusCode %d; expected %d", g, e)
	}
	if g, e := res.Header.Get("X-Foo"), "bar"; g != e {
		t.Errorf("got X-Foo %q; expected %q", g, e)
	}
	if c := res.Header.Get(fakeHopHeader); c != "" {
		t.Errorf("got %s header value %q", fakeHopHeader, c)
	}
	if g, e := len(res.Header["X-Multi-Value"]), 2; g != e {
		t.Errorf("got %d X-Multi-Value header values; expected %d", g, e)
	}
	if g, e := len(res.Header["Set-Cookie"]), 1; g != e {
		t.Fatalf("got %d SetCookies, want %d", g, e)
	}
	body, _ := io.ReadAll(res.Body)
	if g, e := string(body), backendResponse; g != e {
		t.Errorf("got body %q; expected %q", g, e)
	}
}

func TestProxyForwardsRequestBody(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("backend read body: %v", err)
		}
		w.Write(body)
	}))
	defer backend.Close()
	backendURL, _ := url.Parse(backend.URL)

	proxyHandler := New(&Config{
		OnRequest: func(outReq, inReq *http.Request) error {
			outReq.URL.Scheme = backendURL.Scheme
			outReq.URL.Host = backendURL.Host
			return nil
		},
	})
	frontend := httptest.NewServer(proxyHandler)
	defer frontend.Close()

	res, err := http.Post(frontend.URL, "text/plain", strings.NewReader("hello-body"))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "hello-body" {
		t.Errorf("echoed body = %q, want %q", body, "hello-body")
	}
}

func TestHandleUpgradeInvalidProtocol(t *testing.T) {
	var calls int
	p := New(&Config{
		OnError: func(err error, rw http.ResponseWriter, req *http.Request) {
			calls++
			rw.WriteHeader(http.StatusBadGateway)
		},
	})

	req := httptest.NewRequest("GET", "http://example.com/", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")

	res := &http.Response{
		StatusCode: http.StatusSwitchingProtocols,
		Header: http.Header{
			"Connection": {"Upgrade"},
			"Upgrade":    {"web\x00socket"},
		},
		Body: io.NopCloser(strings.NewReader("")),
	}

	rec := httptest.NewRecorder()
	p.handleUpgrade(rec, req, res)
	if calls != 1 {
		t.Errorf("onError called %d times, want 1", calls)
	}
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestProxyOnRequestError(t *testing.T) {
	proxyHandler := New(&Config{
		OnRequest: func(outReq, inReq *http.Request) error {
			return NewHTTPError(http.StatusUnauthorized, "unauthorized")
		},
	})
	frontend := httptest.NewServer(proxyHandler)
	defer frontend.Close()

	res, err := http.Get(frontend.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), "unauthorized") {
		t.Errorf("body = %q", body)
	}
}

func TestProxyUpstreamDown(t *testing.T) {
	proxyHandler := New(&Config{
		OnRequest: func(outReq, inReq *http.Request) error {
			outReq.URL.Scheme = "http"
			// Reserved port, nothing listens there.
			outReq.URL.Host = "127.0.0.1:1"
			return nil
		},
	})
	frontend := httptest.NewServer(proxyHandler)
	defer frontend.Close()

	res, err := http.Get(frontend.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", res.StatusCode)
	}
}

func TestProxyOnResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "payload")
	}))
	defer backend.Close()
	backendURL, _ := url.Parse(backend.URL)

	proxyHandler := New(&Config{
		OnRequest: func(outReq, inReq *http.Request) error {
			outReq.URL.Scheme = backendURL.Scheme
			outReq.URL.Host = backendURL.Host
			return nil
		},
		OnResponse: func(res *http.Response, inReq *http.Request) error {
			res.Header.Set("X-Proxied", "yes")
			return nil
		},
	})
	frontend := httptest.NewServer(proxyHandler)
	defer frontend.Close()

	res, err := http.Get(frontend.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.Header.Get("X-Proxied") != "yes" {
		t.Error("OnResponse header missing")
	}
}

func TestHTTPError(t *testing.T) {
	err := NewHTTPError(http.StatusNotFound, "missing")
	httpErr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("want *HTTPError, got %T", err)
	}
	if httpErr.Status() != http.StatusNotFound || httpErr.Error() != "missing" {
		t.Errorf("err = %d %q", httpErr.Status(), httpErr.Error())
	}

	var zero HTTPError
	if zero.Status() != http.StatusInternalServerError {
		t.Errorf("zero status = %d", zero.Status())
	}
}

func TestRewriteBody(t *testing.T) {
	res := &http.Response{
		Header: http.Header{},
		Body:   io.NopCloser(strings.NewReader("hello world")),
	}
	err := RewriteBody(res, func(b []byte) ([]byte, error) {
		return bytes.ReplaceAll(b, []byte("world"), []byte("proxy")), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "hello proxy" {
		t.Errorf("body = %q", body)
	}
	if res.Header.Get("Content-Length") != "11" {
		t.Errorf("Content-Length = %q", res.Header.Get("Content-Length"))
	}
}

func TestRewriteBodyGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("compressed content"))
	zw.Close()

	res := &http.Response{
		Header: http.Header{"Content-Encoding": []string{"gzip"}},
		Body:   io.NopCloser(bytes.NewReader(buf.Bytes())),
	}
	err := RewriteBody(res, func(b []byte) ([]byte, error) {
		if string(b) != "compressed content" {
			t.Errorf("decoded body = %q", b)
		}
		return []byte("rewritten"), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	data, _ := io.ReadAll(res.Body)
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	out, _ := io.ReadAll(zr)
	if string(out) != "rewritten" {
		t.Errorf("re-encoded body = %q", out)
	}
}
