package internal

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

const authCookie = "web2waveAuthorization"

var (
	algECDSA  = []string{"ES256", "ES384", "ES512"}
	algHMAC   = []string{"HS256", "HS384", "HS512"}
	algRSA    = []string{"RS256", "RS384", "RS512"}
	algRSAPSS = []string{"PS256", "PS384", "PS512"}

	algEdDSA = []string{"EdDSA"}
)

func jwtKeys(log zerolog.Logger, alg, key string) (keys []any) {
	if alg == "" || key == "" {
		return
	}
	if slices.Contains(algHMAC, alg) {
		for k := range bytes.SplitSeq([]byte(key), []byte("\n")) {
			if len(k) > 0 {
				keys = append(keys, k)
			}
		}
		return
	}
	if slices.Contains(algECDSA, alg) ||
		slices.Contains(algRSA, alg) ||
		slices.Contains(algRSAPSS, alg) {
		return x509keys(log, alg, key)
	}
	if slices.Contains(algEdDSA, alg) {
		log.Error().Msg("EdDSA key alg not supported")
		return
	}
	log.Error().Str("alg", alg).Msg("Unrecognized key alg")
	return
}

func x509keys(log zerolog.Logger, alg, key string) (keys []any) {
	var rest = []byte(key)
	var block *pem.Block
	var i int
	for len(bytes.TrimSpace(rest)) > 0 {
		i++
		block, rest = pem.Decode(rest)
		if block == nil {
			log.Error().Str("alg", alg).Int("block", i).Msg("Unable to decode key block")
			return nil
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			log.Error().Err(err).Str("alg", alg).Int("block", i).Msg("Unable to parse key")
			return nil
		}
		switch k := pub.(type) {
		case *ecdsa.PublicKey:
			if alg[:2] == "ES" {
				keys = append(keys, k)
				continue
			}
		case *rsa.PublicKey:
			if alg[:2] == "RS" || alg[:2] == "PS" {
				keys = append(keys, k)
				continue
			}
		}
		log.Error().Str("alg", alg).Int("block", i).Msg("Key type does not match alg")
		return nil
	}
	return
}

type tokenClaims struct {
	Web2Wave struct {
		Channels []string `json:"channels"`
	} `json:"web2wave"`
	jwt.RegisteredClaims
}

// allows reports whether the token grants access to the view id.
func (c *tokenClaims) allows(id string) bool {
	return slices.Contains(c.Web2Wave.Channels, "*") || slices.Contains(c.Web2Wave.Channels, id)
}

func jwtTokenClaims(log zerolog.Logger, ctx *fasthttp.RequestCtx, keys []any) *tokenClaims {
	tokenStr := string(ctx.Request.Header.Peek("Authorization"))
	if parts := strings.Split(tokenStr, " "); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		tokenStr = parts[1]
	} else {
		tokenStr = string(ctx.Request.Header.Cookie(authCookie))
	}
	if tokenStr == "" {
		return nil
	}
	var err error
	for _, k := range keys {
		claims := new(tokenClaims)
		var token *jwt.Token
		token, err = jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
			return k, nil
		})
		if err == nil && token.Valid {
			return claims
		}
	}
	log.Debug().Err(err).Msg("Invalid token")
	return nil
}
