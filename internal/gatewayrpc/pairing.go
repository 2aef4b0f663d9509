package gatewayrpc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/skip2/go-qrcode"
)

// defaultPairingTTL bounds how long a node.pair token lets an edge node
// reconnect without re-pairing.
const defaultPairingTTL = 30 * 24 * time.Hour

// pairingClaims is the JWT payload minted by node.pair. It is intentionally
// separate from the gateway's constant-time bearer-token auth: a pairing
// token identifies one previously-paired node, not an operator.
type pairingClaims struct {
	NodeID string `json:"node_id"`
	jwt.RegisteredClaims
}

// pairingIssuer signs and verifies node.pair tokens with HS256.
type pairingIssuer struct {
	key []byte
}

func newPairingIssuer(configured, bearerFallback string) *pairingIssuer {
	if configured != "" {
		return &pairingIssuer{key: []byte(configured)}
	}
	if bearerFallback != "" {
		return &pairingIssuer{key: []byte(bearerFallback)}
	}
	random := make([]byte, 32)
	_, _ = rand.Read(random)
	return &pairingIssuer{key: random}
}

func (p *pairingIssuer) issue(nodeID string, ttl time.Duration) (string, time.Time, error) {
	expiresAt := time.Now().Add(ttl)
	claims := pairingClaims{
		NodeID: nodeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   nodeID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing pairing token: %w", err)
	}
	return signed, expiresAt, nil
}

func (p *pairingIssuer) verify(tokenString string) (*pairingClaims, error) {
	claims := &pairingClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("pairing token invalid")
	}
	return claims, nil
}

type pairRequestParams struct {
	NodeID string `json:"node_id"`
	TTLSec int64  `json:"ttl_seconds,omitempty"`
}

type pairResult struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	QRCodePNG string `json:"qrcode_png_base64"`
}

// pairingPayload is what the QR code encodes: enough for an edge node's
// camera-scan flow to recover both the gateway address and its token
// without a second round trip.
type pairingPayload struct {
	GatewayAddr string `json:"gateway_addr"`
	Token       string `json:"token"`
}

// RegisterPairing wires the node.pair method: it mints a signed pairing
// token for nodeID and returns it alongside a QR-encoded PNG of the
// pairing payload, for scan-based device linking (spec §4.4, Pairing
// scope — mirrors the teacher's QR-based linking flow for other channels).
func RegisterPairing(s *Server, gatewayAddr string) {
	s.Handle("node.pair", func(ctx context.Context, auth AuthContext, raw json.RawMessage) (any, error) {
		var params pairRequestParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		if params.NodeID == "" {
			return nil, fmt.Errorf("node_id is required")
		}

		ttl := defaultPairingTTL
		if params.TTLSec > 0 {
			ttl = time.Duration(params.TTLSec) * time.Second
		}

		token, expiresAt, err := s.pairing.issue(params.NodeID, ttl)
		if err != nil {
			return nil, err
		}

		payload, err := json.Marshal(pairingPayload{GatewayAddr: gatewayAddr, Token: token})
		if err != nil {
			return nil, fmt.Errorf("encoding pairing payload: %w", err)
		}

		png, err := qrcode.Encode(string(payload), qrcode.Medium, 256)
		if err != nil {
			return nil, fmt.Errorf("rendering pairing QR code: %w", err)
		}

		return pairResult{
			Token:     token,
			ExpiresAt: expiresAt.Unix(),
			QRCodePNG: base64.StdEncoding.EncodeToString(png),
		}, nil
	})
}

// VerifyPairingToken checks a node.pair-issued token and returns the node
// ID it was minted for. Used by the WebSocket upgrade path to authenticate
// a reconnecting edge node without replaying the original pairing flow.
func (s *Server) VerifyPairingToken(token string) (string, error) {
	claims, err := s.pairing.verify(token)
	if err != nil {
		return "", err
	}
	return claims.NodeID, nil
}
