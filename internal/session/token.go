// internal/session/token.go
// Reads the local user's identity out of the server-issued bearer token

package session

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

var ErrNoUserID = errors.New("token carries no user id")

// Claims is the subset of the chat service's token claims the client
// cares about.
type Claims struct {
	UserID   string
	Username string
}

// ParseClaims extracts claims without verifying the signature. The
// token was issued to us by the server and is only used to learn who we
// are; verification stays server-side.
func ParseClaims(tokenString string) (*Claims, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrNoUserID
	}

	claims := &Claims{}
	if v, ok := mapClaims["user_id"].(string); ok {
		claims.UserID = v
	} else if v, ok := mapClaims["sub"].(string); ok {
		claims.UserID = v
	}
	if v, ok := mapClaims["username"].(string); ok {
		claims.Username = v
	}

	if claims.UserID == "" {
		return nil, ErrNoUserID
	}
	return claims, nil
}

// UserIDFromToken is a convenience wrapper for bootstrap code.
func UserIDFromToken(tokenString string) (string, error) {
	claims, err := ParseClaims(tokenString)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}
