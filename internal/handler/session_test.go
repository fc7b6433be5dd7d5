package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pawpool/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRevoker struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	err    error
}

func newMemRevoker() *memRevoker {
	return &memRevoker{tokens: make(map[string]time.Time)}
}

func (m *memRevoker) Revoke(_ context.Context, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.tokens[token] = expiresAt
	return nil
}

func (m *memRevoker) IsBlacklisted(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tokens[token]
	return ok, nil
}

func TestSessionRevoke(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(ts.requester, domain.UserTypeMember)

	send := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusOK, send(http.MethodGet, "/api/v1/pool/balance").Code)

	w := send(http.MethodPost, "/api/v1/session/revoke")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ts.revoked.mu.Lock()
	expiresAt, ok := ts.revoked.tokens[tok]
	ts.revoked.mu.Unlock()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	w = send(http.MethodGet, "/api/v1/pool/balance")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Token revoked")
}

func TestSessionRevoke_StoreUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.revoked.err = errors.New("redis: connection refused")

	w := ts.do(http.MethodPost, "/api/v1/session/revoke", ts.owner, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
