package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenType = "session"

// TokenCodec 把会话 ID 签名为 Cookie 中的 JWT
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenCodec 创建令牌编解码器
// secret 为空时生成进程内随机密钥，重启后旧 Cookie 失效
func NewTokenCodec(secret string, ttl time.Duration) (*TokenCodec, error) {
	key := []byte(secret)
	if len(key) == 0 {
		randomBytes := make([]byte, 32)
		if _, err := rand.Read(randomBytes); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		key = []byte(base64.StdEncoding.EncodeToString(randomBytes))
	}
	return &TokenCodec{secret: key, ttl: ttl, now: time.Now}, nil
}

// Issue 签发会话令牌
func (c *TokenCodec) Issue(sessionID string) (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"sid":  sessionID,
		"iat":  now.Unix(),
		"exp":  now.Add(c.ttl).Unix(),
		"type": tokenType,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Parse 校验令牌并返回会话 ID
func (c *TokenCodec) Parse(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil || !token.Valid {
		return "", errors.New("invalid session token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid session token claims")
	}
	if typ, _ := claims["type"].(string); typ != tokenType {
		return "", errors.New("invalid session token type")
	}
	sid, ok := claims["sid"].(string)
	if !ok || sid == "" {
		return "", errors.New("invalid session id in token")
	}
	return sid, nil
}
