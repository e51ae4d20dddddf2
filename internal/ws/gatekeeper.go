package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"tradedesk/internal/events"
	"tradedesk/pkg/cache"
	"tradedesk/pkg/db"
)

// Handshake rejection reasons. Terminal for the attempt; no room state is
// created for a rejected connection.
var (
	ErrNoCredential = errors.New("Authentication required")
	ErrInvalidToken = errors.New("Invalid token")
	ErrUserInactive = errors.New("User not found or inactive")
)

// TokenVerifier checks a bearer credential and returns the subject it was
// issued to. The concrete verifier is an external collaborator; the default
// one parses our own HS256 tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (subject string, err error)
}

// UserStore resolves a decoded subject to a user record.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*db.User, error)
}

// JWTVerifier verifies HS256 tokens carrying UserClaims.
type JWTVerifier struct {
	Secret string
}

type userClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Verify parses and validates the token, returning its subject.
func (v JWTVerifier) Verify(_ context.Context, tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &userClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(v.Secret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*userClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	if claims.UserID != "" {
		return claims.UserID, nil
	}
	return claims.Subject, nil
}

// Gatekeeper authenticates inbound real-time connections.
type Gatekeeper struct {
	Verifier TokenVerifier
	Users    UserStore

	// Cache, when set, short-circuits the user lookup per subject. Keep the
	// TTL short: a disabled user stays admissible until their entry expires.
	Cache *cache.Sharded[*db.User]
}

// Authenticate extracts the bearer credential from the dedicated auth field
// (?token=) or the Authorization header fallback, verifies it and resolves
// the subject to an active user.
func (g *Gatekeeper) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	credential := r.URL.Query().Get("token")
	if credential == "" {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			credential = parts[1]
		}
	}
	if credential == "" {
		return Identity{}, ErrNoCredential
	}

	subject, err := g.Verifier.Verify(ctx, credential)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	user, err := g.lookupUser(ctx, subject)
	if err != nil {
		return Identity{}, err
	}
	if user == nil || user.Status != db.UserActive {
		return Identity{}, ErrUserInactive
	}

	return Identity{UserID: user.ID, Role: user.Role, Name: user.Name}, nil
}

func (g *Gatekeeper) lookupUser(ctx context.Context, subject string) (*db.User, error) {
	if g.Cache != nil {
		if user, ok := g.Cache.Get(subject); ok {
			return user, nil
		}
	}
	user, err := g.Users.GetUserByID(ctx, subject)
	if err != nil {
		return nil, err
	}
	if g.Cache != nil && user != nil {
		g.Cache.Set(subject, user)
	}
	return user, nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades inbound requests, runs the handshake and hands accepted
// connections to the hub.
type Handler struct {
	Hub  *Hub
	Gate *Gatekeeper
	Opts Options
}

// ServeHTTP performs the handshake. The whole authentication step is bounded
// by Opts.HandshakeTimeout so unauthenticated attempts cannot hold resources.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := h.Opts.withDefaults()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade error: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), opts.HandshakeTimeout)
	defer cancel()

	identity, err := h.Gate.Authenticate(ctx, r)
	if err != nil {
		reason := err.Error()
		log.Printf("[WS] handshake rejected: %s", reason)
		deadline := time.Now().Add(opts.WriteWait)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
		_ = conn.Close()
		return
	}

	client := newClient(h.Hub, conn, identity, opts)
	h.Hub.register(client)

	go client.writePump()
	client.reply(events.KindConnected, map[string]any{
		"userId":    identity.UserID,
		"message":   "connected",
		"timestamp": time.Now().UTC(),
	})
	go client.readPump()
}
