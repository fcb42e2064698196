package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lumehealth/lume-sync/pkg/config"
)

type testPinger struct {
	err error
}

func (p testPinger) Ping(context.Context) error {
	return p.err
}

func TestHealthzOK(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	Healthz(cfg, testLogg(), testPinger{})(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if got := resp.Header().Get("X-LumeSync-Env"); got != "test" {
		t.Fatalf("unexpected env header %q", got)
	}
}

func TestHealthzFailsWhenStoreUnreachable(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	Healthz(cfg, testLogg(), testPinger{err: errors.New("locked")})(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", resp.Code)
	}
}
