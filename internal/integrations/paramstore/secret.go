package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNotConfigured is returned when a secret has no value to offer.
var ErrNotConfigured = errors.New("paramstore: secret not configured")

// Secret resolves a credential at the time it is needed.
type Secret interface {
	Value(ctx context.Context) (string, error)
}

// Static is a secret taken verbatim from the environment.
type Static string

func (s Static) Value(context.Context) (string, error) {
	v := strings.TrimSpace(string(s))
	if v == "" {
		return "", ErrNotConfigured
	}
	return v, nil
}

// tokenPayload is the JSON shape stored in SSM for credentials.
type tokenPayload struct {
	Token string `json:"token"`
}

// Parameter is a secret stored in SSM. The value is fetched on first use and
// cached for the process lifetime; a failed fetch is retried on the next call.
type Parameter struct {
	getter Getter
	name   string

	mu     sync.RWMutex
	loaded bool
	value  string
}

// NewParameter returns a Parameter reading name through getter.
func NewParameter(getter Getter, name string) (*Parameter, error) {
	if getter == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: parameter name is required")
	}
	return &Parameter{getter: getter, name: name}, nil
}

// Name returns the SSM parameter name.
func (p *Parameter) Name() string { return p.name }

func (p *Parameter) Value(ctx context.Context) (string, error) {
	p.mu.RLock()
	if p.loaded {
		v := p.value
		p.mu.RUnlock()
		return v, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return p.value, nil
	}

	raw, err := p.getter.GetParameter(ctx, p.name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch %q: %w", p.name, err)
	}
	v, err := decodeToken(raw)
	if err != nil {
		return "", fmt.Errorf("paramstore: decode %q: %w", p.name, err)
	}
	p.value = v
	p.loaded = true
	return v, nil
}

// decodeToken accepts either {"token":"..."} or a bare string value.
func decodeToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", err
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", ErrNotConfigured
	}
	return raw, nil
}
