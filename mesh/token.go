package mesh

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer 对等令牌的签发者
const TokenIssuer = "eventflow-mesh"

// ErrInvalidToken 对等令牌无效或已过期
var ErrInvalidToken = errors.New("invalid mesh token")

// PeerClaims 对等令牌声明。Subject 为节点 ID。
type PeerClaims struct {
	Cluster string `json:"cluster,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager 使用共享密钥签发和校验 HS256 对等令牌。
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager 创建令牌管理器
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock 返回使用给定时钟的副本（测试用）
func (m *TokenManager) WithClock(now func() time.Time) *TokenManager {
	cp := *m
	cp.now = now
	return &cp
}

// Issue 为本节点签发令牌
func (m *TokenManager) Issue(nodeID, cluster string) (string, error) {
	if len(m.secret) == 0 {
		return "", fmt.Errorf("mesh secret not configured")
	}
	now := m.now()
	claims := PeerClaims{
		Cluster: cluster,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   nodeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify 校验令牌并返回对等节点身份
func (m *TokenManager) Verify(tokenStr string) (*PeerClaims, error) {
	if len(m.secret) == 0 {
		return nil, fmt.Errorf("%w: mesh secret not configured", ErrInvalidToken)
	}

	claims := &PeerClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
