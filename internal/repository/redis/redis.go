// Package redis implements repository.Store on Redis. Each record is a hash at
// "<TABLE>|<id>" and every table keeps an index set so listings avoid KEYS.
package redis

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"topokeeper/internal/domain"
)

const (
	tableSwitch    = "SWITCH"
	tableInterface = "INTERFACE"
	tableLink      = "LINK"

	livenessSet = "LIVENESS_INTERFACES"

	// maxTxRetries bounds optimistic retries when a watched key changes
	maxTxRetries = 10
)

// Repository implements repository.Store using Redis
type Repository struct {
	client *goredis.Client
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, addr string, db int) (*Repository, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", addr)
	}
	return &Repository{client: client}, nil
}

// NewFromClient wraps an existing client
func NewFromClient(client *goredis.Client) *Repository {
	return &Repository{client: client}
}

func recordKey(table, id string) string {
	return table + "|" + id
}

func indexKey(table string) string {
	return "INDEX|" + table
}

func switchInterfacesKey(switchID string) string {
	return "INDEX|SWITCH_INTERFACES|" + switchID
}

func tableFor(kind domain.EntityKind) (string, error) {
	switch kind {
	case domain.KindSwitch:
		return tableSwitch, nil
	case domain.KindInterface:
		return tableInterface, nil
	case domain.KindLink:
		return tableLink, nil
	default:
		return "", domain.NewValidationError("unknown entity kind " + string(kind))
	}
}

// storeErr marks backend failures retryable while letting domain errors through
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return domain.NewStoreError(op, errors.Wrap(err, op))
}

// Ping checks that Redis answers
func (r *Repository) Ping(ctx context.Context) error {
	return storeErr("ping", r.client.Ping(ctx).Err())
}

// Close closes the client
func (r *Repository) Close() error {
	return r.client.Close()
}

// Reset removes every record and index owned by the store
func (r *Repository) Reset(ctx context.Context) error {
	var keys []string
	for _, table := range []string{tableSwitch, tableInterface, tableLink} {
		ids, err := r.client.SMembers(ctx, indexKey(table)).Result()
		if err != nil {
			return storeErr("reset", err)
		}
		for _, id := range ids {
			keys = append(keys, recordKey(table, id))
			if table == tableSwitch {
				keys = append(keys, switchInterfacesKey(id))
			}
		}
		keys = append(keys, indexKey(table))
	}
	keys = append(keys, livenessSet)

	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	return storeErr("reset", err)
}

// ============================================================================
// Encoding
// ============================================================================

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func encodeMetadata(md domain.Metadata) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return "", errors.Wrap(err, "marshal metadata")
	}
	return string(data), nil
}

func decodeMetadata(s string) (domain.Metadata, error) {
	md := make(domain.Metadata)
	if s == "" {
		return md, nil
	}
	if err := json.Unmarshal([]byte(s), &md); err != nil {
		return nil, errors.Wrap(err, "unmarshal metadata")
	}
	return md, nil
}

func switchFields(sw *domain.Switch, now time.Time) (map[string]interface{}, error) {
	md, err := encodeMetadata(sw.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"enabled":    formatBool(sw.Enabled),
		"metadata":   md,
		"created_at": formatTime(sw.CreatedAt),
		"updated_at": formatTime(now),
	}, nil
}

func switchFromHash(id string, h map[string]string) (*domain.Switch, error) {
	md, err := decodeMetadata(h["metadata"])
	if err != nil {
		return nil, err
	}
	enabled, _ := strconv.ParseBool(h["enabled"])
	return &domain.Switch{
		ID:         id,
		Enabled:    enabled,
		Metadata:   md,
		Interfaces: make(map[string]*domain.Interface),
		CreatedAt:  parseTime(h["created_at"]),
		UpdatedAt:  parseTime(h["updated_at"]),
	}, nil
}

func interfaceFields(iface *domain.Interface, now time.Time) (map[string]interface{}, error) {
	md, err := encodeMetadata(iface.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"switch_id":   iface.SwitchID,
		"port_number": strconv.FormatUint(uint64(iface.PortNumber), 10),
		"name":        iface.Name,
		"enabled":     formatBool(iface.Enabled),
		"lldp":        formatBool(iface.LLDP),
		"metadata":    md,
		"created_at":  formatTime(iface.CreatedAt),
		"updated_at":  formatTime(now),
	}, nil
}

func interfaceFromHash(id string, h map[string]string) (*domain.Interface, error) {
	md, err := decodeMetadata(h["metadata"])
	if err != nil {
		return nil, err
	}
	port, _ := strconv.ParseUint(h["port_number"], 10, 32)
	enabled, _ := strconv.ParseBool(h["enabled"])
	lldp, _ := strconv.ParseBool(h["lldp"])
	return &domain.Interface{
		ID:         id,
		SwitchID:   h["switch_id"],
		PortNumber: uint32(port),
		Name:       h["name"],
		Enabled:    enabled,
		LLDP:       lldp,
		Metadata:   md,
		CreatedAt:  parseTime(h["created_at"]),
		UpdatedAt:  parseTime(h["updated_at"]),
	}, nil
}

func linkFields(link *domain.Link, now time.Time) (map[string]interface{}, error) {
	md, err := encodeMetadata(link.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"endpoint_a": link.EndpointA.ID,
		"endpoint_b": link.EndpointB.ID,
		"enabled":    formatBool(link.Enabled),
		"metadata":   md,
		"created_at": formatTime(link.CreatedAt),
		"updated_at": formatTime(now),
	}, nil
}

func linkFromHash(id string, h map[string]string) (*domain.Link, error) {
	md, err := decodeMetadata(h["metadata"])
	if err != nil {
		return nil, err
	}
	enabled, _ := strconv.ParseBool(h["enabled"])
	return &domain.Link{
		ID:        id,
		EndpointA: domain.Endpoint{ID: h["endpoint_a"]},
		EndpointB: domain.Endpoint{ID: h["endpoint_b"]},
		Enabled:   enabled,
		Metadata:  md,
		CreatedAt: parseTime(h["created_at"]),
		UpdatedAt: parseTime(h["updated_at"]),
	}, nil
}

// getHash reads a record, mapping a missing key to a not-found error
func (r *Repository) getHash(ctx context.Context, table, kind, id string) (map[string]string, error) {
	h, err := r.client.HGetAll(ctx, recordKey(table, id)).Result()
	if err != nil {
		return nil, storeErr("get_"+kind, err)
	}
	if len(h) == 0 {
		return nil, domain.NewNotFoundError(kind, id)
	}
	return h, nil
}

// getHashes reads many records in one pipeline, skipping missing ones
func (r *Repository) getHashes(ctx context.Context, table string, ids []string) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cmds := make([]*goredis.StringStringMapCmd, len(ids))
	_, err := r.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, recordKey(table, id))
		}
		return nil
	})
	if err != nil && err != goredis.Nil {
		return nil, storeErr("list_"+table, err)
	}
	for i, id := range ids {
		h, err := cmds[i].Result()
		if err != nil || len(h) == 0 {
			continue
		}
		out[id] = h
	}
	return out, nil
}

func (r *Repository) sortedMembers(ctx context.Context, key string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, storeErr("members", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// ============================================================================
// Switches
// ============================================================================

// GetSwitch retrieves a switch and its interfaces
func (r *Repository) GetSwitch(ctx context.Context, id string) (*domain.Switch, error) {
	h, err := r.getHash(ctx, tableSwitch, "switch", id)
	if err != nil {
		return nil, err
	}
	sw, err := switchFromHash(id, h)
	if err != nil {
		return nil, err
	}
	ifaces, err := r.ListSwitchInterfaces(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		sw.AddInterface(iface)
	}
	return sw, nil
}

// ListSwitches retrieves all switches with their interfaces
func (r *Repository) ListSwitches(ctx context.Context) ([]*domain.Switch, error) {
	ids, err := r.sortedMembers(ctx, indexKey(tableSwitch))
	if err != nil {
		return nil, err
	}
	hashes, err := r.getHashes(ctx, tableSwitch, ids)
	if err != nil {
		return nil, err
	}

	switches := make([]*domain.Switch, 0, len(hashes))
	byID := make(map[string]*domain.Switch, len(hashes))
	for _, id := range ids {
		h, ok := hashes[id]
		if !ok {
			continue
		}
		sw, err := switchFromHash(id, h)
		if err != nil {
			return nil, err
		}
		switches = append(switches, sw)
		byID[id] = sw
	}

	ifaces, err := r.ListInterfaces(ctx)
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if sw := byID[iface.SwitchID]; sw != nil {
			sw.AddInterface(iface)
		}
	}
	return switches, nil
}

// UpsertSwitch writes the switch record and indexes it
func (r *Repository) UpsertSwitch(ctx context.Context, sw *domain.Switch) error {
	now := time.Now().UTC()
	fields, err := switchFields(sw, now)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, recordKey(tableSwitch, sw.ID), fields)
		pipe.SAdd(ctx, indexKey(tableSwitch), sw.ID)
		return nil
	})
	if err != nil {
		return storeErr("upsert_switch", err)
	}
	sw.UpdatedAt = now
	return nil
}

// DeleteSwitch removes the switch, its interfaces, their links and their
// liveness entries
func (r *Repository) DeleteSwitch(ctx context.Context, id string) error {
	exists, err := r.client.Exists(ctx, recordKey(tableSwitch, id)).Result()
	if err != nil {
		return storeErr("delete_switch", err)
	}
	if exists == 0 {
		return domain.NewNotFoundError("switch", id)
	}

	ifaceIDs, err := r.sortedMembers(ctx, switchInterfacesKey(id))
	if err != nil {
		return err
	}
	owned := make(map[string]bool, len(ifaceIDs))
	for _, ifaceID := range ifaceIDs {
		owned[ifaceID] = true
	}

	links, err := r.ListLinks(ctx)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, link := range links {
			if owned[link.EndpointA.ID] || owned[link.EndpointB.ID] {
				pipe.Del(ctx, recordKey(tableLink, link.ID))
				pipe.SRem(ctx, indexKey(tableLink), link.ID)
			}
		}
		for _, ifaceID := range ifaceIDs {
			pipe.Del(ctx, recordKey(tableInterface, ifaceID))
			pipe.SRem(ctx, indexKey(tableInterface), ifaceID)
			pipe.SRem(ctx, livenessSet, ifaceID)
		}
		pipe.Del(ctx, switchInterfacesKey(id), recordKey(tableSwitch, id))
		pipe.SRem(ctx, indexKey(tableSwitch), id)
		return nil
	})
	return storeErr("delete_switch", err)
}

// ============================================================================
// Interfaces
// ============================================================================

// GetInterface retrieves an interface by id
func (r *Repository) GetInterface(ctx context.Context, id string) (*domain.Interface, error) {
	h, err := r.getHash(ctx, tableInterface, "interface", id)
	if err != nil {
		return nil, err
	}
	return interfaceFromHash(id, h)
}

// ListInterfaces retrieves every interface
func (r *Repository) ListInterfaces(ctx context.Context) ([]*domain.Interface, error) {
	ids, err := r.sortedMembers(ctx, indexKey(tableInterface))
	if err != nil {
		return nil, err
	}
	return r.loadInterfaces(ctx, ids)
}

// ListSwitchInterfaces retrieves the interfaces of one switch
func (r *Repository) ListSwitchInterfaces(ctx context.Context, switchID string) ([]*domain.Interface, error) {
	ids, err := r.sortedMembers(ctx, switchInterfacesKey(switchID))
	if err != nil {
		return nil, err
	}
	return r.loadInterfaces(ctx, ids)
}

func (r *Repository) loadInterfaces(ctx context.Context, ids []string) ([]*domain.Interface, error) {
	hashes, err := r.getHashes(ctx, tableInterface, ids)
	if err != nil {
		return nil, err
	}
	ifaces := make([]*domain.Interface, 0, len(hashes))
	for _, id := range ids {
		h, ok := hashes[id]
		if !ok {
			continue
		}
		iface, err := interfaceFromHash(id, h)
		if err != nil {
			return nil, err
		}
		ifaces = append(ifaces, iface)
	}
	sort.SliceStable(ifaces, func(i, j int) bool {
		if ifaces[i].SwitchID != ifaces[j].SwitchID {
			return ifaces[i].SwitchID < ifaces[j].SwitchID
		}
		return ifaces[i].PortNumber < ifaces[j].PortNumber
	})
	return ifaces, nil
}

// UpsertInterface writes one interface
func (r *Repository) UpsertInterface(ctx context.Context, iface *domain.Interface) error {
	return r.UpsertInterfaces(ctx, []*domain.Interface{iface})
}

// UpsertInterfaces writes all interfaces in one MULTI/EXEC. The owning
// switches are watched so a concurrent DeleteSwitch aborts the write.
func (r *Repository) UpsertInterfaces(ctx context.Context, ifaces []*domain.Interface) error {
	if len(ifaces) == 0 {
		return nil
	}
	now := time.Now().UTC()

	var switchKeys []string
	seen := make(map[string]bool)
	for _, iface := range ifaces {
		if !seen[iface.SwitchID] {
			seen[iface.SwitchID] = true
			switchKeys = append(switchKeys, recordKey(tableSwitch, iface.SwitchID))
		}
	}

	txf := func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, switchKeys...).Result()
		if err != nil {
			return err
		}
		if int(n) != len(switchKeys) {
			return errors.New("interface references unknown switch")
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			for _, iface := range ifaces {
				fields, err := interfaceFields(iface, now)
				if err != nil {
					return err
				}
				pipe.HSet(ctx, recordKey(tableInterface, iface.ID), fields)
				pipe.SAdd(ctx, indexKey(tableInterface), iface.ID)
				pipe.SAdd(ctx, switchInterfacesKey(iface.SwitchID), iface.ID)
			}
			return nil
		})
		return err
	}

	if err := r.watchRetry(ctx, txf, switchKeys...); err != nil {
		return storeErr("upsert_interfaces", err)
	}
	for _, iface := range ifaces {
		iface.UpdatedAt = now
	}
	return nil
}

// ============================================================================
// Links
// ============================================================================

// GetLink retrieves a link by id
func (r *Repository) GetLink(ctx context.Context, id string) (*domain.Link, error) {
	h, err := r.getHash(ctx, tableLink, "link", id)
	if err != nil {
		return nil, err
	}
	return linkFromHash(id, h)
}

// ListLinks retrieves every link
func (r *Repository) ListLinks(ctx context.Context) ([]*domain.Link, error) {
	ids, err := r.sortedMembers(ctx, indexKey(tableLink))
	if err != nil {
		return nil, err
	}
	hashes, err := r.getHashes(ctx, tableLink, ids)
	if err != nil {
		return nil, err
	}
	links := make([]*domain.Link, 0, len(hashes))
	for _, id := range ids {
		h, ok := hashes[id]
		if !ok {
			continue
		}
		link, err := linkFromHash(id, h)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}

// UpsertLink writes the link record and indexes it
func (r *Repository) UpsertLink(ctx context.Context, link *domain.Link) error {
	now := time.Now().UTC()
	fields, err := linkFields(link, now)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, recordKey(tableLink, link.ID), fields)
		pipe.SAdd(ctx, indexKey(tableLink), link.ID)
		return nil
	})
	if err != nil {
		return storeErr("upsert_link", err)
	}
	link.UpdatedAt = now
	return nil
}

// DeleteLink removes a link
func (r *Repository) DeleteLink(ctx context.Context, id string) error {
	var del *goredis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, recordKey(tableLink, id))
		pipe.SRem(ctx, indexKey(tableLink), id)
		return nil
	})
	if err != nil {
		return storeErr("delete_link", err)
	}
	if del.Val() == 0 {
		return domain.NewNotFoundError("link", id)
	}
	return nil
}

// ============================================================================
// Metadata
// ============================================================================

// MergeMetadata merges md into the entity's metadata under WATCH
func (r *Repository) MergeMetadata(ctx context.Context, kind domain.EntityKind, id string, md domain.Metadata) (domain.Metadata, error) {
	var merged domain.Metadata
	err := r.updateMetadata(ctx, kind, id, func(current domain.Metadata) error {
		current.Merge(md)
		merged = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// DeleteMetadataKey removes one key, leaving its siblings untouched
func (r *Repository) DeleteMetadataKey(ctx context.Context, kind domain.EntityKind, id, key string) error {
	return r.updateMetadata(ctx, kind, id, func(current domain.Metadata) error {
		if _, ok := current[key]; !ok {
			return domain.NewNotFoundError("metadata key", key)
		}
		delete(current, key)
		return nil
	})
}

func (r *Repository) updateMetadata(ctx context.Context, kind domain.EntityKind, id string, fn func(domain.Metadata) error) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	key := recordKey(table, id)

	txf := func(tx *goredis.Tx) error {
		h, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(h) == 0 {
			return domain.NewNotFoundError(string(kind), id)
		}
		current, err := decodeMetadata(h["metadata"])
		if err != nil {
			return err
		}
		if err := fn(current); err != nil {
			return err
		}
		encoded, err := encodeMetadata(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, "metadata", encoded, "updated_at", formatTime(time.Now()))
			return nil
		})
		return err
	}

	return storeErr("update_metadata", r.watchRetry(ctx, txf, key))
}

// watchRetry runs txf under WATCH, retrying when a watched key changed
func (r *Repository) watchRetry(ctx context.Context, txf func(*goredis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, keys...)
		if err != goredis.TxFailedErr {
			return err
		}
	}
	return errors.Wrapf(goredis.TxFailedErr, "gave up after %d attempts", maxTxRetries)
}

// ============================================================================
// Liveness Monitoring Set
// ============================================================================

// ListLivenessInterfaces returns the monitored interface ids
func (r *Repository) ListLivenessInterfaces(ctx context.Context) ([]string, error) {
	return r.sortedMembers(ctx, livenessSet)
}

// AddLivenessInterfaces adds ids to the monitored set
func (r *Repository) AddLivenessInterfaces(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return storeErr("add_liveness", r.client.SAdd(ctx, livenessSet, toArgs(ids)...).Err())
}

// RemoveLivenessInterfaces removes ids from the monitored set
func (r *Repository) RemoveLivenessInterfaces(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return storeErr("remove_liveness", r.client.SRem(ctx, livenessSet, toArgs(ids)...).Err())
}

func toArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
