package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"natprobe/internal/model"
	"natprobe/internal/session"
	"natprobe/internal/statusserver"
	"natprobe/internal/store"
)

func TestClient_ErrorIncludesBody(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"session not started"}`))
	}))
	defer s.Close()

	c := NewClient(s.URL)
	_, err := c.Status(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	got := err.Error()
	if want := "503"; !strings.Contains(got, want) {
		t.Fatalf("error missing status: %q", got)
	}
	if want := `"error":"session not started"`; !strings.Contains(got, want) {
		t.Fatalf("error missing body: %q", got)
	}
}

func TestClient_ReadsStatusServer(t *testing.T) {
	t.Parallel()

	logger, _ := test.NewNullLogger()
	srv := statusserver.New("", nil, logger)
	srv.Publish(session.Status{
		State:    session.State{SessionID: "s1", AttemptsMade: 3, MaxAttempts: 10},
		Registry: store.Snapshot{Nodes: []model.BootstrapPeerRecord{{PeerID: "P1", Status: model.StatusInactive, FailureCount: 2}}},
	})
	s := httptest.NewServer(srv.Handler())
	defer s.Close()

	c := NewClient(strings.TrimPrefix(s.URL, "http://"))
	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State.SessionID != "s1" || st.State.AttemptsMade != 3 {
		t.Fatalf("unexpected status: %+v", st.State)
	}

	reg, err := c.Registry(context.Background())
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if len(reg.Nodes) != 1 || reg.Nodes[0].FailureCount != 2 {
		t.Fatalf("unexpected registry: %+v", reg.Nodes)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"127.0.0.1:9090":         "http://127.0.0.1:9090",
		"http://127.0.0.1:9090/": "http://127.0.0.1:9090",
		"https://status.local":   "https://status.local",
		"":                       "",
	}
	for in, want := range cases {
		if got := NormalizeBaseURL(in); got != want {
			t.Fatalf("NormalizeBaseURL(%q)=%q want %q", in, got, want)
		}
	}
}
