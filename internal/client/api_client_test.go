package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Mansoor88-6/activity-agent/internal/models"

	"go.uber.org/zap/zaptest"
)

func TestUploadSession(t *testing.T) {
	var got models.SessionUpload
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sessions/upload" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"sessionId":"s-42"}}`))
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL+"/api/", "key-1", 5*time.Second, zaptest.NewLogger(t))
	c.SetDeviceID("dev-1")

	payload := models.SessionUpload{
		UploadID:    "up-1",
		UserID:      "u-1",
		WorkingTime: 120,
		IdleTime:    30,
		Applications: []models.ApplicationUsage{
			{Name: "code", Duration: 100},
		},
	}
	resp, err := c.UploadSession(context.Background(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Data.SessionID != "s-42" {
		t.Fatalf("session id = %q", resp.Data.SessionID)
	}
	if got.WorkingTime != 120 || got.IdleTime != 30 || len(got.Applications) != 1 {
		t.Fatalf("server saw %+v", got)
	}
	if headers.Get("Idempotency-Key") != "up-1" {
		t.Fatalf("idempotency key = %q", headers.Get("Idempotency-Key"))
	}
	if headers.Get("Authorization") != "Bearer key-1" || headers.Get("X-Device-ID") != "dev-1" {
		t.Fatalf("headers = %v", headers)
	}
}

func TestUploadSessionErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		label  string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad token"}`, "auth"},
		{"rate limited", http.StatusTooManyRequests, ``, "rate_limited"},
		{"bad request", http.StatusBadRequest, `{"error":"missing userId"}`, "bad_request"},
		{"server error", http.StatusBadGateway, `oops`, "backend"},
		{"success false", http.StatusOK, `{"success":false,"error":"duplicate"}`, "backend"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewAPIClient(srv.URL, "", time.Second, zaptest.NewLogger(t))
			_, err := c.UploadSession(context.Background(), models.SessionUpload{UserID: "u"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := ResultLabel(err); got != tc.label {
				t.Fatalf("label = %q, want %q (err %v)", got, tc.label, err)
			}
		})
	}
}

func TestUploadSessionTimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewAPIClient(srv.URL, "", 50*time.Millisecond, zaptest.NewLogger(t))
	_, err := c.UploadSession(context.Background(), models.SessionUpload{UserID: "u"})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, "", time.Second, zaptest.NewLogger(t))
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatal(err)
	}
}
