package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFindSimilar(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/articles/search" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "mailbox full" {
			t.Errorf("q = %q, want %q", got, "mailbox full")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"number":"KB0010042","title":"Mailbox full errors in Outlook","score":0.92},
			{"number":"KB0010117","title":"Exchange quota management","score":0.71}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.FindSimilar(context.Background(), "mailbox full")
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %v, want 2", got)
	}
	if got[0] != "KB0010042: Mailbox full errors in Outlook" {
		t.Errorf("first result = %q", got[0])
	}
}

func TestFindSimilar_NoResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL).FindSimilar(context.Background(), "anything")
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("results = %v, want none", got)
	}
}

func TestFindSimilar_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := New(srv.URL).FindSimilar(context.Background(), "anything"); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestFindSimilar_EmptyQuery(t *testing.T) {
	t.Parallel()

	if _, err := New("http://localhost:9").FindSimilar(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty query")
	}
}
