package ws

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tradedesk/pkg/cache"
	"tradedesk/pkg/db"
)

type fakeVerifier struct {
	subject string
	err     error
}

func (f fakeVerifier) Verify(context.Context, string) (string, error) {
	return f.subject, f.err
}

type fakeUserStore struct {
	users   map[string]*db.User
	lookups int
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (*db.User, error) {
	f.lookups++
	return f.users[id], nil
}

func newRequest(t *testing.T, target string) *http.Request {
	t.Helper()
	r, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return r
}

func TestAuthenticateRequiresCredential(t *testing.T) {
	g := &Gatekeeper{Verifier: fakeVerifier{subject: "u1"}, Users: &fakeUserStore{}}

	_, err := g.Authenticate(context.Background(), newRequest(t, "/ws"))
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	g := &Gatekeeper{
		Verifier: fakeVerifier{err: errors.New("expired")},
		Users:    &fakeUserStore{},
	}

	_, err := g.Authenticate(context.Background(), newRequest(t, "/ws?token=bad"))
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestAuthenticateRejectsMissingOrInactiveUser(t *testing.T) {
	store := &fakeUserStore{users: map[string]*db.User{
		"disabled": {ID: "disabled", Role: db.RoleUser, Status: db.UserDisabled},
	}}

	for _, subject := range []string{"ghost", "disabled"} {
		g := &Gatekeeper{Verifier: fakeVerifier{subject: subject}, Users: store}
		_, err := g.Authenticate(context.Background(), newRequest(t, "/ws?token=x"))
		if !errors.Is(err, ErrUserInactive) {
			t.Fatalf("subject %s: err = %v, want ErrUserInactive", subject, err)
		}
	}
}

func TestAuthenticateAcceptsQueryTokenAndHeaderFallback(t *testing.T) {
	store := &fakeUserStore{users: map[string]*db.User{
		"u1": {ID: "u1", Name: "Alice", Role: db.RoleAdmin, Status: db.UserActive},
	}}
	g := &Gatekeeper{Verifier: fakeVerifier{subject: "u1"}, Users: store}

	identity, err := g.Authenticate(context.Background(), newRequest(t, "/ws?token=good"))
	if err != nil {
		t.Fatalf("query token: %v", err)
	}
	if identity.UserID != "u1" || identity.Role != db.RoleAdmin || identity.Name != "Alice" {
		t.Fatalf("identity = %+v", identity)
	}

	r := newRequest(t, "/ws")
	r.Header.Set("Authorization", "Bearer good")
	if _, err := g.Authenticate(context.Background(), r); err != nil {
		t.Fatalf("header fallback: %v", err)
	}
}

func TestAuthenticateUsesCachedUser(t *testing.T) {
	store := &fakeUserStore{users: map[string]*db.User{
		"u1": {ID: "u1", Name: "Alice", Role: db.RoleUser, Status: db.UserActive},
	}}
	g := &Gatekeeper{
		Verifier: fakeVerifier{subject: "u1"},
		Users:    store,
		Cache:    cache.New[*db.User](time.Minute),
	}

	for i := 0; i < 3; i++ {
		if _, err := g.Authenticate(context.Background(), newRequest(t, "/ws?token=good")); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if store.lookups != 1 {
		t.Fatalf("store lookups = %d, want 1", store.lookups)
	}
}

func TestJWTVerifierRoundTrip(t *testing.T) {
	const secret = "test-secret"

	claims := jwt.MapClaims{
		"uid": "u1",
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	v := JWTVerifier{Secret: secret}
	subject, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if subject != "u1" {
		t.Fatalf("subject = %q, want u1", subject)
	}

	if _, err := v.Verify(context.Background(), token+"tampered"); err == nil {
		t.Fatal("tampered token verified")
	}

	expired := jwt.MapClaims{
		"uid": "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}
	expiredToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}
	if _, err := v.Verify(context.Background(), expiredToken); err == nil {
		t.Fatal("expired token verified")
	}
}
