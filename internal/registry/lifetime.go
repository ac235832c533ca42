package registry

import (
	"fmt"
	"strings"
)

// Lifetime says how long a handle handed out by a registration lives.
type Lifetime int

const (
	// Singleton handles are created once per registration and shared.
	Singleton Lifetime = iota
	// Scoped handles are created once per Scope and closed with it.
	Scoped
	// Transient handles are created on every request and closed with the
	// Scope that requested them.
	Transient
)

// unknownLifetime is what ParseLifetime returns for text it does not know.
const unknownLifetime Lifetime = -1

// String returns the configuration name of the lifetime.
func (l Lifetime) String() string {
	switch l {
	case Singleton:
		return "singleton"
	case Scoped:
		return "scoped"
	case Transient:
		return "transient"
	case unknownLifetime:
		return "unknown"
	default:
		return fmt.Sprintf("Lifetime(%d)", int(l))
	}
}

// Valid reports whether l is one of the recognized lifetimes.
func (l Lifetime) Valid() bool {
	return l >= Singleton && l <= Transient
}

// ParseLifetime maps a configuration value to a Lifetime. Empty means
// singleton and "per-request" is accepted for transient.
//
// Unrecognized text yields an invalid Lifetime and false. Registrations
// accept invalid lifetimes and fail each request with
// errors.ErrUnsupportedLifetime, so a typo in one index never stops the host.
func ParseLifetime(s string) (Lifetime, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "singleton":
		return Singleton, true
	case "scoped":
		return Scoped, true
	case "transient", "per-request":
		return Transient, true
	default:
		return unknownLifetime, false
	}
}
