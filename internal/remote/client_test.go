package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tarpai/connect-sync/internal/record"
)

func TestSubmitSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/actions" {
			t.Errorf("path = %q, want /v1/actions", r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{BaseURL: srv.URL, Token: "tok", Timeout: time.Second})
	a := &record.Action{ID: "action_1_ab", ClientKey: "key-123", Kind: record.ActionMessageSend, Payload: []byte(`{}`)}
	if err := c.Submit(context.Background(), a); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if gotKey != "key-123" {
		t.Errorf("Idempotency-Key = %q, want key-123", gotKey)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
}

func TestSubmitServerErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{BaseURL: srv.URL, Timeout: time.Second})
	a := &record.Action{ID: "a1", ClientKey: "k", Kind: record.ActionReadReceipt, Payload: []byte(`{}`)}
	if err := c.Submit(context.Background(), a); err == nil {
		t.Error("Submit() = nil, want error on 500")
	}
}

func TestFetchGroupsMapsServerFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/groups" {
			t.Errorf("path = %q, want /v1/groups", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"id":"srv-9","name":"Hiking Club","member_count":12,"last_message_at":5000,"created_at":100}]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{BaseURL: srv.URL, Timeout: time.Second})
	groups, err := c.FetchGroups(context.Background())
	if err != nil {
		t.Fatalf("FetchGroups() error = %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	g := groups[0]
	if g.ServerID != "srv-9" || g.Name != "Hiking Club" || g.MemberCount != 12 {
		t.Errorf("mapped group = %+v", g)
	}
	if !g.IsSynced {
		t.Error("server-fetched group must be synced")
	}
}

func TestPingDownServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{BaseURL: srv.URL, Timeout: time.Second})
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping() = nil, want error on 503")
	}
}
