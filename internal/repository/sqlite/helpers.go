package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"topokeeper/internal/domain"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullToBool converts sql.NullInt64 to bool (0 = false, non-zero = true)
func nullToBool(ni sql.NullInt64) bool {
	return ni.Valid && ni.Int64 != 0
}

// boolToInt converts bool to the INTEGER stored in flag columns
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// formatTime renders a timestamp for TEXT columns
func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a TEXT timestamp, returning the zero time on bad input
func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// unmarshalMetadata decodes a metadata column, always returning a non-nil map
func unmarshalMetadata(ns sql.NullString) (domain.Metadata, error) {
	md := make(domain.Metadata)
	if !ns.Valid || ns.String == "" {
		return md, nil
	}
	if err := json.Unmarshal([]byte(ns.String), &md); err != nil {
		return nil, err
	}
	return md, nil
}

// marshalMetadata encodes a metadata map; nil and empty maps become "{}"
func marshalMetadata(md domain.Metadata) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ============================================================================
// Adding a column
// ============================================================================
//
// migrate() only runs CREATE TABLE IF NOT EXISTS, so a new column on an
// existing database needs its own ALTER TABLE statement there. Then:
// 1. Add the field to the row struct and append it to scanArgs()
// 2. Append the column to the matching *Columns constant
// 3. Map it in toDomain()
// 4. Write it in the INSERT of UpsertSwitch, UpsertInterfaces or UpsertLink

// ============================================================================
// Switch Row Scanner
// ============================================================================

// switchRow holds all columns from a switch query for scanning
type switchRow struct {
	ID           string
	Enabled      sql.NullInt64
	MetadataJSON sql.NullString
	CreatedAt    sql.NullString
	UpdatedAt    sql.NullString
}

// scanArgs returns pointers to all fields for sql.Scan()
// MUST match switchColumns order exactly:
// id, enabled, metadata, created_at, updated_at
func (r *switchRow) scanArgs() []interface{} {
	return []interface{}{
		&r.ID,           // 1
		&r.Enabled,      // 2
		&r.MetadataJSON, // 3
		&r.CreatedAt,    // 4
		&r.UpdatedAt,    // 5
	}
}

// toDomain converts the scanned row to a domain.Switch
func (r *switchRow) toDomain() (*domain.Switch, error) {
	md, err := unmarshalMetadata(r.MetadataJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal switch metadata: %w", err)
	}
	return &domain.Switch{
		ID:         r.ID,
		Enabled:    nullToBool(r.Enabled),
		Metadata:   md,
		Interfaces: make(map[string]*domain.Interface),
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTime(r.UpdatedAt),
	}, nil
}

// switchColumns returns the SELECT column list for switch queries
const switchColumns = `id, enabled, metadata, created_at, updated_at`

// ============================================================================
// Interface Row Scanner
// ============================================================================

// interfaceRow holds all columns from an interface query for scanning
type interfaceRow struct {
	ID           string
	SwitchID     string
	PortNumber   int64
	Name         sql.NullString
	Enabled      sql.NullInt64
	LLDP         sql.NullInt64
	MetadataJSON sql.NullString
	CreatedAt    sql.NullString
	UpdatedAt    sql.NullString
}

// scanArgs returns pointers to all fields for sql.Scan()
// MUST match interfaceColumns order exactly:
// id, switch_id, port_number, name, enabled, lldp, metadata, created_at, updated_at
func (r *interfaceRow) scanArgs() []interface{} {
	return []interface{}{
		&r.ID,           // 1
		&r.SwitchID,     // 2
		&r.PortNumber,   // 3
		&r.Name,         // 4
		&r.Enabled,      // 5
		&r.LLDP,         // 6
		&r.MetadataJSON, // 7
		&r.CreatedAt,    // 8
		&r.UpdatedAt,    // 9
	}
}

// toDomain converts the scanned row to a domain.Interface
func (r *interfaceRow) toDomain() (*domain.Interface, error) {
	md, err := unmarshalMetadata(r.MetadataJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal interface metadata: %w", err)
	}
	return &domain.Interface{
		ID:         r.ID,
		SwitchID:   r.SwitchID,
		PortNumber: uint32(r.PortNumber),
		Name:       nullToString(r.Name),
		Enabled:    nullToBool(r.Enabled),
		LLDP:       nullToBool(r.LLDP),
		Metadata:   md,
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTime(r.UpdatedAt),
	}, nil
}

// interfaceColumns returns the SELECT column list for interface queries
const interfaceColumns = `id, switch_id, port_number, name, enabled, lldp, metadata, created_at, updated_at`

// ============================================================================
// Link Row Scanner
// ============================================================================

// linkRow holds all columns from a link query for scanning
type linkRow struct {
	ID           string
	EndpointA    string
	EndpointB    string
	Enabled      sql.NullInt64
	MetadataJSON sql.NullString
	CreatedAt    sql.NullString
	UpdatedAt    sql.NullString
}

// scanArgs returns pointers to all fields for sql.Scan()
// MUST match linkColumns order exactly:
// id, endpoint_a, endpoint_b, enabled, metadata, created_at, updated_at
func (r *linkRow) scanArgs() []interface{} {
	return []interface{}{
		&r.ID,           // 1
		&r.EndpointA,    // 2
		&r.EndpointB,    // 3
		&r.Enabled,      // 4
		&r.MetadataJSON, // 5
		&r.CreatedAt,    // 6
		&r.UpdatedAt,    // 7
	}
}

// toDomain converts the scanned row to a domain.Link
func (r *linkRow) toDomain() (*domain.Link, error) {
	md, err := unmarshalMetadata(r.MetadataJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal link metadata: %w", err)
	}
	return &domain.Link{
		ID:        r.ID,
		EndpointA: domain.Endpoint{ID: r.EndpointA},
		EndpointB: domain.Endpoint{ID: r.EndpointB},
		Enabled:   nullToBool(r.Enabled),
		Metadata:  md,
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
	}, nil
}

// linkColumns returns the SELECT column list for link queries
const linkColumns = `id, endpoint_a, endpoint_b, enabled, metadata, created_at, updated_at`

// tableFor maps an entity kind to its table
func tableFor(kind domain.EntityKind) (string, error) {
	switch kind {
	case domain.KindSwitch:
		return "switches", nil
	case domain.KindInterface:
		return "interfaces", nil
	case domain.KindLink:
		return "links", nil
	default:
		return "", domain.NewValidationError(fmt.Sprintf("unknown entity kind %q", kind))
	}
}
