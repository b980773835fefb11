package repository

import (
	"context"

	"topokeeper/internal/domain"
)

// Store defines persistence for switches, interfaces, links and the
// liveness monitoring set. Every mutating call has committed when it
// returns; a failed commit leaves prior state intact and yields an error
// matching domain.ErrStoreUnavailable.
type Store interface {
	// Switches. GetSwitch and ListSwitches populate Interfaces.
	GetSwitch(ctx context.Context, id string) (*domain.Switch, error)
	ListSwitches(ctx context.Context) ([]*domain.Switch, error)
	UpsertSwitch(ctx context.Context, sw *domain.Switch) error
	// DeleteSwitch removes the switch, its interfaces and attached links
	DeleteSwitch(ctx context.Context, id string) error

	// Interfaces
	GetInterface(ctx context.Context, id string) (*domain.Interface, error)
	ListInterfaces(ctx context.Context) ([]*domain.Interface, error)
	ListSwitchInterfaces(ctx context.Context, switchID string) ([]*domain.Interface, error)
	UpsertInterface(ctx context.Context, iface *domain.Interface) error
	// UpsertInterfaces writes all interfaces in a single transaction
	UpsertInterfaces(ctx context.Context, ifaces []*domain.Interface) error

	// Links
	GetLink(ctx context.Context, id string) (*domain.Link, error)
	ListLinks(ctx context.Context) ([]*domain.Link, error)
	UpsertLink(ctx context.Context, link *domain.Link) error
	DeleteLink(ctx context.Context, id string) error

	// Metadata. MergeMetadata returns the resulting map. DeleteMetadataKey
	// returns a not-found error when the entity or key is absent.
	MergeMetadata(ctx context.Context, kind domain.EntityKind, id string, md domain.Metadata) (domain.Metadata, error)
	DeleteMetadataKey(ctx context.Context, kind domain.EntityKind, id, key string) error

	// Liveness monitoring set
	ListLivenessInterfaces(ctx context.Context) ([]string, error)
	AddLivenessInterfaces(ctx context.Context, ids []string) error
	RemoveLivenessInterfaces(ctx context.Context, ids []string) error

	// Reset wipes every record (clean start)
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
