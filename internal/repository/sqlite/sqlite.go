package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"topokeeper/internal/domain"

	_ "modernc.org/sqlite"
)

// Repository implements repository.Store using SQLite
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository
func New(dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if dbPath != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS switches (
		id TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS interfaces (
		id TEXT PRIMARY KEY,
		switch_id TEXT NOT NULL,
		port_number INTEGER NOT NULL,
		name TEXT,
		enabled INTEGER NOT NULL DEFAULT 0,
		lldp INTEGER NOT NULL DEFAULT 1,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT,
		updated_at TEXT,
		FOREIGN KEY (switch_id) REFERENCES switches(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS links (
		id TEXT PRIMARY KEY,
		endpoint_a TEXT NOT NULL,
		endpoint_b TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS liveness_interfaces (
		interface_id TEXT PRIMARY KEY,
		enabled_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_interfaces_switch ON interfaces(switch_id);
	CREATE INDEX IF NOT EXISTS idx_links_endpoint_a ON links(endpoint_a);
	CREATE INDEX IF NOT EXISTS idx_links_endpoint_b ON links(endpoint_b);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Ping checks that the database answers
func (r *Repository) Ping(ctx context.Context) error {
	return domain.NewStoreError("ping", r.db.PingContext(ctx))
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Reset wipes every record in a single transaction
func (r *Repository) Reset(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewStoreError("reset", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	for _, table := range []string{"liveness_interfaces", "links", "interfaces", "switches"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return domain.NewStoreError("reset", fmt.Errorf("failed to clear %s: %w", table, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.NewStoreError("reset", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// ============================================================================
// Switches
// ============================================================================

// GetSwitch retrieves a switch and its interfaces
func (r *Repository) GetSwitch(ctx context.Context, id string) (*domain.Switch, error) {
	var row switchRow
	err := r.db.QueryRowContext(ctx,
		`SELECT `+switchColumns+` FROM switches WHERE id = ?`, id,
	).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("switch", id)
	}
	if err != nil {
		return nil, domain.NewStoreError("get_switch", fmt.Errorf("failed to get switch: %w", err))
	}

	sw, err := row.toDomain()
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
	rows, err := r.db.QueryContext(ctx, `SELECT `+switchColumns+` FROM switches ORDER BY id`)
	if err != nil {
		return nil, domain.NewStoreError("list_switches", fmt.Errorf("failed to query switches: %w", err))
	}
	defer rows.Close()

	var switches []*domain.Switch
	byID := make(map[string]*domain.Switch)
	for rows.Next() {
		var row switchRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, domain.NewStoreError("list_switches", fmt.Errorf("failed to scan switch: %w", err))
		}
		sw, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		switches = append(switches, sw)
		byID[sw.ID] = sw
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("list_switches", fmt.Errorf("error iterating switches: %w", err))
	}
	rows.Close()

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

// UpsertSwitch inserts or updates the switch row. Interfaces are written
// separately.
func (r *Repository) UpsertSwitch(ctx context.Context, sw *domain.Switch) error {
	md, err := marshalMetadata(sw.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO switches (id, enabled, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, sw.ID, boolToInt(sw.Enabled), md, formatTime(sw.CreatedAt), formatTime(now))
	if err != nil {
		return domain.NewStoreError("upsert_switch", fmt.Errorf("failed to upsert switch: %w", err))
	}
	sw.UpdatedAt = now
	return nil
}

// DeleteSwitch removes a switch, its interfaces, their links and their
// liveness entries
func (r *Repository) DeleteSwitch(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewStoreError("delete_switch", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM switches WHERE id = ?`, id).Scan(&exists); err != nil {
		return domain.NewStoreError("delete_switch", fmt.Errorf("failed to check switch: %w", err))
	}
	if exists == 0 {
		return domain.NewNotFoundError("switch", id)
	}

	stmts := []struct {
		query string
		args  []interface{}
	}{
		{`DELETE FROM links WHERE endpoint_a IN (SELECT id FROM interfaces WHERE switch_id = ?)
			OR endpoint_b IN (SELECT id FROM interfaces WHERE switch_id = ?)`, []interface{}{id, id}},
		{`DELETE FROM liveness_interfaces WHERE interface_id IN (SELECT id FROM interfaces WHERE switch_id = ?)`, []interface{}{id}},
		{`DELETE FROM interfaces WHERE switch_id = ?`, []interface{}{id}},
		{`DELETE FROM switches WHERE id = ?`, []interface{}{id}},
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return domain.NewStoreError("delete_switch", fmt.Errorf("failed to delete switch: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.NewStoreError("delete_switch", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// ============================================================================
// Interfaces
// ============================================================================

// GetInterface retrieves an interface by id
func (r *Repository) GetInterface(ctx context.Context, id string) (*domain.Interface, error) {
	var row interfaceRow
	err := r.db.QueryRowContext(ctx,
		`SELECT `+interfaceColumns+` FROM interfaces WHERE id = ?`, id,
	).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("interface", id)
	}
	if err != nil {
		return nil, domain.NewStoreError("get_interface", fmt.Errorf("failed to get interface: %w", err))
	}
	return row.toDomain()
}

// ListInterfaces retrieves every interface
func (r *Repository) ListInterfaces(ctx context.Context) ([]*domain.Interface, error) {
	return r.queryInterfaces(ctx, `SELECT `+interfaceColumns+` FROM interfaces ORDER BY switch_id, port_number`)
}

// ListSwitchInterfaces retrieves the interfaces of one switch
func (r *Repository) ListSwitchInterfaces(ctx context.Context, switchID string) ([]*domain.Interface, error) {
	return r.queryInterfaces(ctx,
		`SELECT `+interfaceColumns+` FROM interfaces WHERE switch_id = ? ORDER BY port_number`, switchID)
}

func (r *Repository) queryInterfaces(ctx context.Context, query string, args ...interface{}) ([]*domain.Interface, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStoreError("list_interfaces", fmt.Errorf("failed to query interfaces: %w", err))
	}
	defer rows.Close()

	var ifaces []*domain.Interface
	for rows.Next() {
		var row interfaceRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, domain.NewStoreError("list_interfaces", fmt.Errorf("failed to scan interface: %w", err))
		}
		iface, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		ifaces = append(ifaces, iface)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("list_interfaces", fmt.Errorf("error iterating interfaces: %w", err))
	}
	return ifaces, nil
}

// UpsertInterface inserts or updates an interface
func (r *Repository) UpsertInterface(ctx context.Context, iface *domain.Interface) error {
	return r.UpsertInterfaces(ctx, []*domain.Interface{iface})
}

// UpsertInterfaces writes all interfaces in one transaction
func (r *Repository) UpsertInterfaces(ctx context.Context, ifaces []*domain.Interface) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewStoreError("upsert_interfaces", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO interfaces (id, switch_id, port_number, name, enabled, lldp, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			enabled = excluded.enabled,
			lldp = excluded.lldp,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return domain.NewStoreError("upsert_interfaces", fmt.Errorf("failed to prepare statement: %w", err))
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, iface := range ifaces {
		md, err := marshalMetadata(iface.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", iface.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			iface.ID, iface.SwitchID, int64(iface.PortNumber), stringToNull(iface.Name),
			boolToInt(iface.Enabled), boolToInt(iface.LLDP), md,
			formatTime(iface.CreatedAt), formatTime(now),
		)
		if err != nil {
			return domain.NewStoreError("upsert_interfaces", fmt.Errorf("failed to upsert interface %s: %w", iface.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.NewStoreError("upsert_interfaces", fmt.Errorf("failed to commit transaction: %w", err))
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
	var row linkRow
	err := r.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE id = ?`, id,
	).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("link", id)
	}
	if err != nil {
		return nil, domain.NewStoreError("get_link", fmt.Errorf("failed to get link: %w", err))
	}
	return row.toDomain()
}

// ListLinks retrieves every link
func (r *Repository) ListLinks(ctx context.Context) ([]*domain.Link, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+linkColumns+` FROM links ORDER BY id`)
	if err != nil {
		return nil, domain.NewStoreError("list_links", fmt.Errorf("failed to query links: %w", err))
	}
	defer rows.Close()

	var links []*domain.Link
	for rows.Next() {
		var row linkRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, domain.NewStoreError("list_links", fmt.Errorf("failed to scan link: %w", err))
		}
		link, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("list_links", fmt.Errorf("error iterating links: %w", err))
	}
	return links, nil
}

// UpsertLink inserts or updates a link
func (r *Repository) UpsertLink(ctx context.Context, link *domain.Link) error {
	md, err := marshalMetadata(link.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO links (id, endpoint_a, endpoint_b, enabled, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, link.ID, link.EndpointA.ID, link.EndpointB.ID, boolToInt(link.Enabled), md,
		formatTime(link.CreatedAt), formatTime(now))
	if err != nil {
		return domain.NewStoreError("upsert_link", fmt.Errorf("failed to upsert link: %w", err))
	}
	link.UpdatedAt = now
	return nil
}

// DeleteLink removes a link
func (r *Repository) DeleteLink(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM links WHERE id = ?`, id)
	if err != nil {
		return domain.NewStoreError("delete_link", fmt.Errorf("failed to delete link: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("link", id)
	}
	return nil
}

// ============================================================================
// Metadata
// ============================================================================

// MergeMetadata merges md into the entity's metadata inside one transaction
// and returns the result
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

// updateMetadata runs a read-modify-write of one metadata column
func (r *Repository) updateMetadata(ctx context.Context, kind domain.EntityKind, id string, fn func(domain.Metadata) error) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewStoreError("update_metadata", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT metadata FROM `+table+` WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewNotFoundError(string(kind), id)
	}
	if err != nil {
		return domain.NewStoreError("update_metadata", fmt.Errorf("failed to read metadata: %w", err))
	}

	current, err := unmarshalMetadata(raw)
	if err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if err := fn(current); err != nil {
		return err
	}

	encoded, err := marshalMetadata(current)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE `+table+` SET metadata = ?, updated_at = ? WHERE id = ?`,
		encoded, formatTime(time.Now()), id)
	if err != nil {
		return domain.NewStoreError("update_metadata", fmt.Errorf("failed to write metadata: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return domain.NewStoreError("update_metadata", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// ============================================================================
// Liveness Monitoring Set
// ============================================================================

// ListLivenessInterfaces returns the monitored interface ids
func (r *Repository) ListLivenessInterfaces(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT interface_id FROM liveness_interfaces ORDER BY interface_id`)
	if err != nil {
		return nil, domain.NewStoreError("list_liveness", fmt.Errorf("failed to query liveness set: %w", err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.NewStoreError("list_liveness", fmt.Errorf("failed to scan liveness entry: %w", err))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("list_liveness", fmt.Errorf("error iterating liveness set: %w", err))
	}
	return ids, nil
}

// AddLivenessInterfaces adds ids to the monitored set
func (r *Repository) AddLivenessInterfaces(ctx context.Context, ids []string) error {
	return r.execForEach(ctx, "add_liveness",
		`INSERT INTO liveness_interfaces (interface_id, enabled_at) VALUES (?, ?) ON CONFLICT(interface_id) DO NOTHING`,
		ids, true)
}

// RemoveLivenessInterfaces removes ids from the monitored set
func (r *Repository) RemoveLivenessInterfaces(ctx context.Context, ids []string) error {
	return r.execForEach(ctx, "remove_liveness",
		`DELETE FROM liveness_interfaces WHERE interface_id = ?`,
		ids, false)
}

func (r *Repository) execForEach(ctx context.Context, op, query string, ids []string, withTime bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewStoreError(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	for _, id := range ids {
		args := []interface{}{id}
		if withTime {
			args = append(args, now)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return domain.NewStoreError(op, fmt.Errorf("failed to update liveness set: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.NewStoreError(op, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}
