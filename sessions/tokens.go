package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxgate/fluxgate/storage"
	"github.com/google/uuid"
)

// WSTokenTTL bounds the window between requesting a WebSocket handshake token
// over HTTP and presenting it during the upgrade.
const WSTokenTTL = 60 * time.Second

const wsTokenKeyPrefix = "auth:ws:"

// WSTokenClaims is the payload stored behind a handshake token.
type WSTokenClaims struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// IssueWSToken mints a single-use WebSocket handshake token bound to an
// existing session. The token is an opaque random string; its claims live
// only server-side under auth:ws:<token> with a 60 second expiry.
func (s *Store) IssueWSToken(ctx context.Context, sessionID, userID string) (string, error) {
	if sessionID == "" || userID == "" {
		return "", fmt.Errorf("sessions: ws token requires session and user ids")
	}
	token := uuid.NewString()
	raw, err := json.Marshal(WSTokenClaims{SessionID: sessionID, UserID: userID})
	if err != nil {
		return "", fmt.Errorf("sessions: encode ws token: %w", err)
	}
	if err := s.kv.Set(ctx, wsTokenKeyPrefix+token, raw, storage.WithTTL(WSTokenTTL)); err != nil {
		return "", fmt.Errorf("sessions: store ws token: %w", err)
	}
	s.log.DebugContext(ctx, "ws token issued", slog.String("session_id", sessionID), slog.String("user_id", userID))
	return token, nil
}

// ConsumeWSToken redeems a handshake token. Consumption is one-time: the
// entry is removed atomically with the read, so a replayed token resolves to
// absent exactly like an expired one. Returns (nil, nil) when the token is
// unknown, already consumed, or past its TTL.
func (s *Store) ConsumeWSToken(ctx context.Context, token string) (*WSTokenClaims, error) {
	if token == "" {
		return nil, nil
	}
	item, err := s.kv.GetDel(ctx, wsTokenKeyPrefix+token)
	if err != nil {
		return nil, fmt.Errorf("sessions: consume ws token: %w", err)
	}
	if item == nil {
		return nil, nil
	}
	var claims WSTokenClaims
	if err := json.Unmarshal(item.Data, &claims); err != nil {
		return nil, fmt.Errorf("sessions: decode ws token: %w", err)
	}
	return &claims, nil
}
