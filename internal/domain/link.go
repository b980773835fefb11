package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Endpoint references an interface at one end of a link
type Endpoint struct {
	ID string `json:"id"`
}

// Link is an undirected adjacency between two interfaces
type Link struct {
	ID        string    `json:"id"`
	EndpointA Endpoint  `json:"endpoint_a"`
	EndpointB Endpoint  `json:"endpoint_b"`
	Enabled   bool      `json:"enabled"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLink creates a disabled link with normalized endpoints
func NewLink(a, b string) *Link {
	a, b = normalizeEndpoints(a, b)
	now := time.Now().UTC()
	return &Link{
		ID:        LinkID(a, b),
		EndpointA: Endpoint{ID: a},
		EndpointB: Endpoint{ID: b},
		Metadata:  make(Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LinkID hashes the sorted endpoint ids joined by a colon, so that
// LinkID(a, b) == LinkID(b, a)
func LinkID(a, b string) string {
	a, b = normalizeEndpoints(a, b)
	sum := sha256.Sum256([]byte(a + ":" + b))
	return hex.EncodeToString(sum[:])
}

func normalizeEndpoints(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// Endpoints returns both interface ids
func (l *Link) Endpoints() (string, string) {
	return l.EndpointA.ID, l.EndpointB.ID
}

// HasEndpoint reports whether the interface terminates this link
func (l *Link) HasEndpoint(ifaceID string) bool {
	return l.EndpointA.ID == ifaceID || l.EndpointB.ID == ifaceID
}

// Peer returns the opposite endpoint of ifaceID
func (l *Link) Peer(ifaceID string) (string, bool) {
	switch ifaceID {
	case l.EndpointA.ID:
		return l.EndpointB.ID, true
	case l.EndpointB.ID:
		return l.EndpointA.ID, true
	}
	return "", false
}
