// Package dialer resolves the address(es) of a coordination service or
// direct master endpoint from configuration, independent of how the
// resulting string is later parsed by the detector package.
package dialer

import (
	"fmt"
	"os"
	"strings"
)

// Resolver resolves a service, getting an address or URL.
type Resolver interface {
	// Resolve resolves a service, getting an address or URL (or an error).
	Resolve() (string, error)
	// ResolveMany resolves a comma-separated host list, as used by the
	// zoo:// coordination-service form of a master spec. limit <= 0 means
	// no limit.
	ResolveMany(limit int) ([]string, error)
}

// ConstantResolver always returns the same value.
type ConstantResolver struct {
	s string
}

// NewConstantResolver creates a ConstantResolver.
func NewConstantResolver(s string) *ConstantResolver {
	return &ConstantResolver{s: s}
}

func (r *ConstantResolver) Resolve() (string, error) {
	return r.s, nil
}

func (r *ConstantResolver) ResolveMany(limit int) ([]string, error) {
	return splitLimit(r.s, limit), nil
}

// EnvResolver resolves by looking for a key in the OS environment.
type EnvResolver struct {
	key string
}

// NewEnvResolver creates a new EnvResolver.
func NewEnvResolver(key string) *EnvResolver {
	return &EnvResolver{key: key}
}

func (r *EnvResolver) Resolve() (string, error) {
	return os.Getenv(r.key), nil
}

func (r *EnvResolver) ResolveMany(limit int) ([]string, error) {
	return splitLimit(os.Getenv(r.key), limit), nil
}

// CompositeResolver resolves by resolving, in order, via delegates.
type CompositeResolver struct {
	dels []Resolver
}

// NewCompositeResolver creates a new CompositeResolver that resolves by
// looking through delegates, in order.
func NewCompositeResolver(dels ...Resolver) *CompositeResolver {
	return &CompositeResolver{dels: dels}
}

func (r *CompositeResolver) Resolve() (string, error) {
	for _, d := range r.dels {
		if s, err := d.Resolve(); s != "" || err != nil {
			return s, err
		}
	}
	return "", fmt.Errorf("could not resolve: no delegate resolved: %v", r.dels)
}

func (r *CompositeResolver) ResolveMany(limit int) ([]string, error) {
	for _, d := range r.dels {
		if s, err := d.ResolveMany(limit); len(s) > 0 || err != nil {
			return s, err
		}
	}
	return nil, fmt.Errorf("could not resolve: no delegate resolved: %v", r.dels)
}

func splitLimit(s string, limit int) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	if limit > 0 && len(parts) > limit {
		parts = parts[:limit]
	}
	return parts
}
