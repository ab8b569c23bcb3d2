package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/mathviz/internal/model"
	"github.com/hitoshi/mathviz/internal/token"
)

// --- テストヘルパー ---

func newTestTokenService(t *testing.T, now func() time.Time) *token.Service {
	t.Helper()
	opts := []token.Option{}
	if now != nil {
		opts = append(opts, token.WithClock(now))
	}
	svc, err := token.NewService(token.Config{
		Secret:    "test-secret",
		Algorithm: "HS256",
		Issuer:    "mathviz",
		TTL:       time.Hour,
	}, opts...)
	if err != nil {
		t.Fatalf("token.NewService returned error: %v", err)
	}
	return svc
}

// foreignToken は別の発行元・シークレットで署名したトークンを返す。
func foreignToken(t *testing.T) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "ext-user-1",
		Issuer:    "https://idp.example.com/auth/v1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("idp-secret"))
	if err != nil {
		t.Fatalf("failed to sign foreign token: %v", err)
	}
	return raw
}

// newIDPServer はユーザー情報エンドポイントを持つテスト用IdPを起動する。
// hitsにはリクエスト数が記録される。
func newIDPServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/auth/v1/user" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

type recordedResolution struct {
	step    string
	verdict string
}

type mockRecorder struct {
	mu      sync.Mutex
	records []recordedResolution
}

func (m *mockRecorder) RecordResolution(step, verdict string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recordedResolution{step: step, verdict: verdict})
}

func assertUnauthenticated(t *testing.T, err error) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != model.ErrCodeUnauthenticated {
		t.Errorf("error code = %q, want %q", apiErr.Code, model.ErrCodeUnauthenticated)
	}
}

func newTestResolver(t *testing.T, tokens *token.Service, idpURL string, rec ResolutionRecorder) *Resolver {
	t.Helper()
	idp := NewIDPClient(IDPConfig{BaseURL: idpURL, APIKey: "anon-key", Timeout: 2 * time.Second})
	return NewResolver(rec, NewLocalTokenStep(tokens), NewExternalIDPStep(idp))
}

// --- Resolve ---

func TestResolve_LocalToken_NoNetworkCall(t *testing.T) {
	tokens := newTestTokenService(t, nil)
	srv, hits := newIDPServer(t, http.StatusOK, `{"id":"should-not-be-used"}`)
	rec := &mockRecorder{}
	resolver := newTestResolver(t, tokens, srv.URL, rec)

	raw, err := tokens.Issue("user_001", 0, token.Claims{
		Email: "test@example.com",
		Name:  "Test User",
		Role:  "user",
	})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	identity, err := resolver.Resolve(context.Background(), raw)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if identity.ID != "user_001" {
		t.Errorf("ID = %q, want %q", identity.ID, "user_001")
	}
	if identity.Provider != model.ProviderLocal {
		t.Errorf("Provider = %q, want %q", identity.Provider, model.ProviderLocal)
	}
	if identity.Role != model.RoleUser {
		t.Errorf("Role = %q, want %q", identity.Role, model.RoleUser)
	}
	if got := hits.Load(); got != 0 {
		t.Errorf("identity provider hits = %d, want 0", got)
	}
	if len(rec.records) != 1 || rec.records[0] != (recordedResolution{"local", "valid"}) {
		t.Errorf("records = %+v, want [{local valid}]", rec.records)
	}
}

func TestResolve_LocalToken_FillsMissingClaims(t *testing.T) {
	tokens := newTestTokenService(t, nil)
	srv, _ := newIDPServer(t, http.StatusOK, `{}`)
	resolver := newTestResolver(t, tokens, srv.URL, nil)

	raw, err := tokens.Issue("user_xyz", 0, token.Claims{Role: "superuser"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	identity, err := resolver.Resolve(context.Background(), raw)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if identity.Email != "user_xyz@example.com" {
		t.Errorf("Email = %q, want %q", identity.Email, "user_xyz@example.com")
	}
	if identity.Name != "User" {
		t.Errorf("Name = %q, want %q", identity.Name, "User")
	}
	if identity.Role != model.RoleUser {
		t.Errorf("Role = %q, want %q", identity.Role, model.RoleUser)
	}
}

func TestResolve_OAuthIssuedToken_KeepsProvider(t *testing.T) {
	tokens := newTestTokenService(t, nil)
	srv, _ := newIDPServer(t, http.StatusOK, `{}`)
	resolver := newTestResolver(t, tokens, srv.URL, nil)

	raw, err := tokens.Issue("kakao_123", 0, token.Claims{
		Email:    "kakao_123@kakao.user",
		Name:     "Kakao User",
		Role:     "user",
		Provider: "kakao",
		Picture:  "https://img.example.com/p.png",
	})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	identity, err := resolver.Resolve(context.Background(), raw)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if identity.Provider != model.ProviderKakao {
		t.Errorf("Provider = %q, want %q", identity.Provider, model.ProviderKakao)
	}
	if identity.AvatarURL != "https://img.example.com/p.png" {
		t.Errorf("AvatarURL = %q", identity.AvatarURL)
	}
}

func TestResolve_ExpiredLocalToken_RejectedWithoutFallback(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	issuer := newTestTokenService(t, func() time.Time { return past })
	tokens := newTestTokenService(t, nil)
	srv, hits := newIDPServer(t, http.StatusOK, `{"id":"ext-user-1"}`)
	rec := &mockRecorder{}
	resolver := newTestResolver(t, tokens, srv.URL, rec)

	raw, err := issuer.Issue("user_001", time.Minute, token.Claims{Role: "user"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	_, err = resolver.Resolve(context.Background(), raw)
	assertUnauthenticated(t, err)
	if got := hits.Load(); got != 0 {
		t.Errorf("identity provider hits = %d, want 0", got)
	}
	if len(rec.records) != 1 || rec.records[0] != (recordedResolution{"local", "rejected"}) {
		t.Errorf("records = %+v, want [{local rejected}]", rec.records)
	}
}

func TestResolve_ForeignToken_FallsBackToExternal(t *testing.T) {
	tokens := newTestTokenService(t, nil)
	srv, hits := newIDPServer(t, http.StatusOK, `{
		"id": "ext-user-1",
		"email": "ext@example.com",
		"user_metadata": {"full_name": "Ext User", "avatar_url": "https://img.example.com/e.png"},
		"app_metadata": {"is_admin": true}
	}`)
	rec := &mockRecorder{}
	resolver := newTestResolver(t, tokens, srv.URL, rec)

	identity, err := resolver.Resolve(context.Background(), foreignToken(t))
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("identity provider hits = %d, want 1", got)
	}
	if identity.ID != "ext-user-1" {
		t.Errorf("ID = %q, want %q", identity.ID, "ext-user-1")
	}
	if identity.Provider != model.ProviderExternal {
		t.Errorf("Provider = %q, want %q", identity.Provider, model.ProviderExternal)
	}
	if identity.Name != "Ext User" {
		t.Errorf("Name = %q, want %q", identity.Name, "Ext User")
	}
	if identity.Role != model.RoleUser {
		t.Errorf("Role = %q, want %q", identity.Role, model.RoleUser)
	}
	if !identity.AdminFlag {
		t.Error("AdminFlag = false, want true")
	}

	want := []recordedResolution{{"local", "not_applicable"}, {"external", "valid"}}
	if len(rec.records) != len(want) {
		t.Fatalf("records = %+v, want %+v", rec.records, want)
	}
	for i := range want {
		if rec.records[i] != want[i] {
			t.Errorf("records[%d] = %+v, want %+v", i, rec.records[i], want[i])
		}
	}
}

func TestResolve_OpaqueCredential_ExternalRejects(t *testing.T) {
	tokens := newTestTokenService(t, nil)
	srv, hits := newIDPServer(t, http.StatusUnauthorized, `{"msg":"invalid JWT"}`)
	resolver := newTestResolver(t, tokens, srv.URL, nil)

	_, err := resolver.Resolve(context.Background(), "not-a-jwt")
	assertUnauthenticated(t, err)
	if got := hits.Load(); got != 1 {
		t.Errorf("identity provider hits = %d, want 1", got)
	}
}

func TestResolve_ExternalUnreachable_Unauthenticated(t *testing.T) {
	tokens := newTestTokenService(t, nil)
	srv, _ := newIDPServer(t, http.StatusOK, `{}`)
	url := srv.URL
	srv.Close()
	resolver := newTestResolver(t, tokens, url, nil)

	_, err := resolver.Resolve(context.Background(), foreignToken(t))
	assertUnauthenticated(t, err)
}

func TestResolve_EmptyCredential_Unauthenticated(t *testing.T) {
	tokens := newTestTokenService(t, nil)
	srv, hits := newIDPServer(t, http.StatusOK, `{}`)
	rec := &mockRecorder{}
	resolver := newTestResolver(t, tokens, srv.URL, rec)

	_, err := resolver.Resolve(context.Background(), "")
	assertUnauthenticated(t, err)
	if got := hits.Load(); got != 0 {
		t.Errorf("identity provider hits = %d, want 0", got)
	}
	if len(rec.records) != 1 || rec.records[0] != (recordedResolution{"none", "not_applicable"}) {
		t.Errorf("records = %+v", rec.records)
	}
}

func TestResolve_NoSteps_Unauthenticated(t *testing.T) {
	resolver := NewResolver(nil)
	_, err := resolver.Resolve(context.Background(), "anything")
	assertUnauthenticated(t, err)
}

// --- ResolveOptional ---

func TestResolveOptional_EmptyCredential_ReturnsNil(t *testing.T) {
	tokens := newTestTokenService(t, nil)
	srv, _ := newIDPServer(t, http.StatusOK, `{}`)
	resolver := newTestResolver(t, tokens, srv.URL, nil)

	identity, err := resolver.ResolveOptional(context.Background(), "")
	if err != nil {
		t.Fatalf("ResolveOptional returned error: %v", err)
	}
	if identity != nil {
		t.Errorf("identity = %+v, want nil", identity)
	}
}

func TestResolveOptional_InvalidCredential_ReturnsNil(t *testing.T) {
	tokens := newTestTokenService(t, nil)
	srv, _ := newIDPServer(t, http.StatusUnauthorized, `{}`)
	resolver := newTestResolver(t, tokens, srv.URL, nil)

	identity, err := resolver.ResolveOptional(context.Background(), "garbage")
	if err != nil {
		t.Fatalf("ResolveOptional returned error: %v", err)
	}
	if identity != nil {
		t.Errorf("identity = %+v, want nil", identity)
	}
}

func TestResolveOptional_ValidToken_ReturnsIdentity(t *testing.T) {
	tokens := newTestTokenService(t, nil)
	srv, _ := newIDPServer(t, http.StatusOK, `{}`)
	resolver := newTestResolver(t, tokens, srv.URL, nil)

	raw, err := tokens.Issue("admin_001", 0, token.Claims{Role: "admin"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	identity, err := resolver.ResolveOptional(context.Background(), raw)
	if err != nil {
		t.Fatalf("ResolveOptional returned error: %v", err)
	}
	if identity == nil || identity.Role != model.RoleAdmin {
		t.Errorf("identity = %+v, want admin", identity)
	}
}

func TestVerdict_String(t *testing.T) {
	tests := []struct {
		v    Verdict
		want string
	}{
		{VerdictValid, "valid"},
		{VerdictRejected, "rejected"},
		{VerdictNotApplicable, "not_applicable"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("Verdict(%d).String() = %q, want %q", tt.v, got, tt.want)
		}
	}
}
