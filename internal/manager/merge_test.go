package manager

import (
	"net/url"
	"testing"
)

func TestMergeTargetURL(t *testing.T) {
	verify := func(from, to, request, expect string) {
		t.Helper()

		reqURL, err := url.Parse(request)
		if err != nil {
			t.Fatalf("parse request %q: %v", request, err)
		}
		got, err := mergeTargetURL(reqURL, from, to)
		if err != nil {
			t.Fatalf("merge(%q, %q, %q): %v", from, to, request, err)
		}
		if got.String() != expect {
			t.Errorf("merge(%q, %q, %q) = %q, want %q", from, to, request, got, expect)
		}
	}

	verify("/", "http://127.0.0.1:5050/", "http://1.0.0.1/eth/v1/node/syncing", "http://127.0.0.1:5050/eth/v1/node/syncing")
	verify("/", "http://127.0.0.1", "http://1.0.0.1", "http://127.0.0.1/")
	verify("/", "http://127.0.0.1/to", "http://1.0.0.1/", "http://127.0.0.1/to")
	verify("/", "http://127.0.0.1/to/", "http://1.0.0.1", "http://127.0.0.1/to/")
	verify("/", "http://127.0.0.1/to/", "http://1.0.0.1/", "http://127.0.0.1/to/")

	verify("/sub", "http://127.0.0.1/", "http://1.0.0.1/sub", "http://127.0.0.1/")
	verify("/sub", "http://127.0.0.1/", "http://1.0.0.1/sub/", "http://127.0.0.1/")

	verify("/sub/2", "http://127.0.0.1/to", "http://1.0.0.1/sub/2", "http://127.0.0.1/to")
	verify("/sub/2", "http://127.0.0.1/to", "http://1.0.0.1/sub/2/test", "http://127.0.0.1/to/test")
	verify("/sub/2", "http://127.0.0.1/to", "http://1.0.0.1/sub/2/", "http://127.0.0.1/to/")

	verify("/", "http://127.0.0.1/to", "http://1.0.0.1/resource", "http://127.0.0.1/to/resource")
	verify("/", "http://127.0.0.1/to", "http://1.0.0.1/resource/", "http://127.0.0.1/to/resource/")

	verify("/sub/2", "http://127.0.0.1/to", "http://1.0.0.1/sub/2/resource", "http://127.0.0.1/to/resource")
	verify("/sub/2", "http://127.0.0.1/to", "http://1.0.0.1/sub/2/resource/", "http://127.0.0.1/to/resource/")
}

func TestMergeTargetURLKeepsQuery(t *testing.T) {
	reqURL, _ := url.Parse("http://1.0.0.1/sub/list?page=2&size=10")
	got, err := mergeTargetURL(reqURL, "/sub", "http://127.0.0.1/api")
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "http://127.0.0.1/api/list?page=2&size=10" {
		t.Errorf("got %q", got)
	}
}
