// Package credential resolves the upstream API token at process startup.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMissing is returned when neither a literal key nor a parameter name is
// configured.
var ErrMissing = errors.New("credential: no api key or api key parameter configured")

// Getter is satisfied by paramstore.Client.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Source describes where the token comes from. Key wins over Param.
type Source struct {
	Key   string
	Param string
}

// tokenPayload is the JSON shape optionally stored in SSM for the token.
type tokenPayload struct {
	Token string `json:"token"`
}

// Resolve returns the API token. getter may be nil when src.Key is set.
func Resolve(ctx context.Context, src Source, getter Getter) (string, error) {
	if key := strings.TrimSpace(src.Key); key != "" {
		return key, nil
	}
	name := strings.TrimSpace(src.Param)
	if name == "" {
		return "", ErrMissing
	}
	if getter == nil {
		return "", errors.New("credential: paramstore getter is nil")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("credential: fetch token from paramstore: %w", err)
	}
	token, err := parseToken(raw)
	if err != nil {
		return "", err
	}
	return token, nil
}

// parseToken accepts either {"token":"..."} or the bare token.
func parseToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("credential: unmarshal paramstore token value as JSON: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("credential: API token is empty")
	}
	return raw, nil
}
