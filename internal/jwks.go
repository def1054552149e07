package internal

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/lestrrat-go/httpcc"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/rs/zerolog"
)

const (
	jwksDefaultMaxAge = time.Hour
	jwksMinMaxAge     = time.Minute
)

// jwksKeys fetches the keys published at url and how long they may be cached.
func jwksKeys(log zerolog.Logger, c *http.Client, url string) (keys []any, maxage time.Duration) {
	if len(url) == 0 {
		return
	}
	resp, err := c.Get(url)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("JWKS request failed")
		return
	}
	if resp == nil {
		log.Warn().Str("url", url).Msg("JWKS request returned no response")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		log.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("JWKS URL returned unexpected status")
		return
	}
	var jwks = map[string][]any{}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warn().Err(err).Msg("JWKS read failed")
		return
	}
	if err = json.Unmarshal(body, &jwks); err != nil {
		log.Warn().Err(err).Msg("JWKS decode failed")
		return
	}
	for _, k := range jwks["keys"] {
		kjson, _ := json.Marshal(k)
		if err := jwk.ParseRawKey(kjson, &k); err != nil {
			log.Warn().Err(err).Msg("JWKS key parse failed")
			return nil, 0
		}
		keys = append(keys, k)
	}
	maxage = jwksDefaultMaxAge
	directives, err := httpcc.ParseResponse(resp.Header.Get(`Cache-Control`))
	if err == nil {
		if val, present := directives.MaxAge(); present {
			maxage = max(time.Duration(val)*time.Second, jwksMinMaxAge)
		}
	}
	return
}
