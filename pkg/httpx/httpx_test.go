package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type item struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func TestFetchDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		_, _ = io.WriteString(w, `{"id":"a","count":3}`)
	}))
	defer srv.Close()

	got, err := Fetch[item](context.Background(), New(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.ID != "a" || got.Count != 3 {
		t.Fatalf("unexpected item: %+v", got)
	}
}

func TestFetchDecodeFailureIsDescriptive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}))
	defer srv.Close()

	_, err := Fetch[item](context.Background(), New(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "parse response from") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := Fetch[item](context.Background(), New(), srv.URL)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusBadGateway || se.Body != "nope" {
		t.Fatalf("unexpected status error: %+v", se)
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Fetch[item](context.Background(), New(), url)
	if err == nil || !strings.Contains(err.Error(), "send GET request") {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestPostJSONRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		b, _ := io.ReadAll(r.Body)
		if string(b) != `{"id":"x","count":1}` {
			t.Errorf("body = %s", b)
		}
		_, _ = io.WriteString(w, `{"id":"x","count":2}`)
	}))
	defer srv.Close()

	got, err := PostJSON[item](context.Background(), New(), srv.URL, item{ID: "x", Count: 1})
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if got.Count != 2 {
		t.Fatalf("count = %d, want 2", got.Count)
	}
}

func TestGetText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "probe" {
			t.Errorf("user-agent = %q", ua)
		}
		_, _ = io.WriteString(w, "plain")
	}))
	defer srv.Close()

	got, err := New(WithUserAgent("probe")).GetText(context.Background(), srv.URL)
	if err != nil || got != "plain" {
		t.Fatalf("GetText = %q, %v", got, err)
	}
}
