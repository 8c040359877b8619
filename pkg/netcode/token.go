// Package netcode 连接令牌与协议握手
// 客户端持受信任颁发方签出的连接令牌入场，服务端验签、验期后才建立会话；
// 会话建立前双方先比对协议校验和，不匹配直接拒绝。
package netcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/chacha20poly1305"
)

// 令牌相关配置
const (
	// DefaultTokenTTL 连接令牌有效期
	DefaultTokenTTL = 30 * time.Second

	// DefaultTimeout 会话静默超时
	DefaultTimeout = 15 * time.Second

	// KeepaliveInterval 保活包发送间隔
	KeepaliveInterval = 5 * time.Second

	// 令牌签发者
	tokenIssuer = "netsync-authority"
)

// 认证失败的各类原因，对连接都是致命的
var (
	ErrTokenExpired = errors.New("连接令牌已过期")
	ErrTokenForged  = errors.New("连接令牌签名无效")
	ErrTokenScope   = errors.New("连接令牌协议号不符")
)

// ProtocolMismatch 协议校验和不匹配，在任何复制发生前中止连接
type ProtocolMismatch struct {
	Local  uint64
	Remote uint64
}

func (e *ProtocolMismatch) Error() string {
	return fmt.Sprintf("协议校验和不匹配: 本地 %016x 远端 %016x", e.Local, e.Remote)
}

// Claims 连接令牌的声明
type Claims struct {
	ProtocolID uint64 `json:"protocol_id"`
	ClientID   int32  `json:"client_id"`
	TimeoutSec int    `json:"timeout_sec"`
	// Sealed 私钥材料密文，仅持有签名密钥的一方能解封
	Sealed []byte `json:"sealed,omitempty"`
	jwt.RegisteredClaims
}

// getSigningKey 获取签名密钥
// 从环境变量 NETSYNC_TOKEN_SECRET 读取，如果不存在则使用默认值
func getSigningKey() []byte {
	secret := os.Getenv("NETSYNC_TOKEN_SECRET")
	if secret == "" {
		// 开发环境默认密钥，生产环境应设置环境变量
		secret = "netsync-dev-secret-change-in-production"
	}
	return []byte(secret)
}

// sealingKey 从签名密钥派生 32 字节的封装密钥
func sealingKey() []byte {
	key := make([]byte, chacha20poly1305.KeySize)
	copy(key, getSigningKey())
	return key
}

// GenerateToken 签发连接令牌
// keyMaterial 为会话私钥材料，封入令牌密文，持密钥方可解。
func GenerateToken(protocolID uint64, clientID int32, timeout time.Duration, keyMaterial []byte) (string, error) {
	sealed, err := seal(keyMaterial)
	if err != nil {
		return "", fmt.Errorf("封装私钥材料失败: %w", err)
	}

	now := time.Now()
	claims := Claims{
		ProtocolID: protocolID,
		ClientID:   clientID,
		TimeoutSec: int(timeout / time.Second),
		Sealed:     sealed,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   fmt.Sprintf("client-%d", clientID),
			ExpiresAt: jwt.NewNumericDate(now.Add(DefaultTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(getSigningKey())
}

// ValidateToken 验证连接令牌
// 返回客户端 id、会话超时与解封后的私钥材料。
func ValidateToken(tokenString string, protocolID uint64) (int32, time.Duration, []byte, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return getSigningKey(), nil
	})

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return 0, 0, nil, ErrTokenExpired
	case err != nil:
		return 0, 0, nil, fmt.Errorf("%w: %v", ErrTokenForged, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return 0, 0, nil, ErrTokenForged
	}
	if claims.ProtocolID != protocolID {
		return 0, 0, nil, ErrTokenScope
	}

	material, err := unseal(claims.Sealed)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: %v", ErrTokenForged, err)
	}

	timeout := time.Duration(claims.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return claims.ClientID, timeout, material, nil
}

// seal 用派生密钥加封私钥材料，随机数前置在密文里
func seal(material []byte) ([]byte, error) {
	if len(material) == 0 {
		return nil, nil
	}
	aead, err := chacha20poly1305.New(sealingKey())
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, material, nil), nil
}

// unseal 解封私钥材料
func unseal(sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, nil
	}
	aead, err := chacha20poly1305.New(sealingKey())
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("密文过短")
	}
	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, body, nil)
}
