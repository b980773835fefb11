package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"topokeeper/internal/domain"
)

// ============================================================================
// Test Helpers
// ============================================================================

const (
	dpid1 = "00:00:00:00:00:00:00:01"
	dpid2 = "00:00:00:00:00:00:00:02"
)

// newTestRepo creates an in-memory SQLite repository for testing
func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

// assertNoError fails the test if err is not nil
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// assertEqual fails the test if expected != actual
func assertEqual(t *testing.T, expected, actual interface{}) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}

// assertIs fails the test unless err matches target
func assertIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error matching %v, got %v", target, err)
	}
}

// seedTopology writes two switches with two ports each and a link between
// port 1 of each switch
func seedTopology(t *testing.T, repo *Repository) *domain.Link {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{dpid1, dpid2} {
		assertNoError(t, repo.UpsertSwitch(ctx, domain.NewSwitch(id)))
		assertNoError(t, repo.UpsertInterfaces(ctx, []*domain.Interface{
			domain.NewInterface(id, 1, "eth1"),
			domain.NewInterface(id, 2, "eth2"),
		}))
	}
	link := domain.NewLink(domain.InterfaceID(dpid1, 1), domain.InterfaceID(dpid2, 1))
	assertNoError(t, repo.UpsertLink(ctx, link))
	return link
}

// ============================================================================
// Helper Function Tests
// ============================================================================

func TestNullToString(t *testing.T) {
	tests := []struct {
		name  string
		input sql.NullString
		want  string
	}{
		{"valid", sql.NullString{String: "eth1", Valid: true}, "eth1"},
		{"invalid", sql.NullString{String: "ignored", Valid: false}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertEqual(t, tt.want, nullToString(tt.input))
		})
	}
}

func TestStringToNull(t *testing.T) {
	assertEqual(t, sql.NullString{}, stringToNull(""))
	assertEqual(t, sql.NullString{String: "eth1", Valid: true}, stringToNull("eth1"))
}

func TestNullToBool(t *testing.T) {
	assertEqual(t, false, nullToBool(sql.NullInt64{}))
	assertEqual(t, false, nullToBool(sql.NullInt64{Int64: 0, Valid: true}))
	assertEqual(t, true, nullToBool(sql.NullInt64{Int64: 1, Valid: true}))
}

func TestMetadataRoundTrip(t *testing.T) {
	t.Run("empty map is stored as object", func(t *testing.T) {
		encoded, err := marshalMetadata(nil)
		assertNoError(t, err)
		assertEqual(t, "{}", encoded)
	})

	t.Run("null column decodes to empty map", func(t *testing.T) {
		md, err := unmarshalMetadata(sql.NullString{})
		assertNoError(t, err)
		assertEqual(t, domain.Metadata{}, md)
	})

	t.Run("invalid json fails", func(t *testing.T) {
		if _, err := unmarshalMetadata(sql.NullString{String: "{", Valid: true}); err == nil {
			t.Fatal("expected error for invalid json")
		}
	})
}

func TestInterfaceRowToDomain(t *testing.T) {
	row := interfaceRow{
		ID:           domain.InterfaceID(dpid1, 3),
		SwitchID:     dpid1,
		PortNumber:   3,
		Name:         sql.NullString{String: "eth3", Valid: true},
		Enabled:      sql.NullInt64{Int64: 1, Valid: true},
		LLDP:         sql.NullInt64{Int64: 0, Valid: true},
		MetadataJSON: sql.NullString{String: `{"speed":10}`, Valid: true},
	}
	iface, err := row.toDomain()
	assertNoError(t, err)
	assertEqual(t, uint32(3), iface.PortNumber)
	assertEqual(t, "eth3", iface.Name)
	assertEqual(t, true, iface.Enabled)
	assertEqual(t, false, iface.LLDP)
	assertEqual(t, float64(10), iface.Metadata["speed"])
}

// ============================================================================
// Switch Tests
// ============================================================================

func TestUpsertAndGetSwitch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedTopology(t, repo)

	sw, err := repo.GetSwitch(ctx, dpid1)
	assertNoError(t, err)
	assertEqual(t, false, sw.Enabled)
	assertEqual(t, 2, len(sw.Interfaces))

	sw.Enabled = true
	assertNoError(t, repo.UpsertSwitch(ctx, sw))

	sw, err = repo.GetSwitch(ctx, dpid1)
	assertNoError(t, err)
	assertEqual(t, true, sw.Enabled)
}

func TestGetSwitchNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetSwitch(context.Background(), dpid1)
	assertIs(t, err, domain.ErrNotFound)
}

func TestListSwitches(t *testing.T) {
	repo := newTestRepo(t)
	seedTopology(t, repo)

	switches, err := repo.ListSwitches(context.Background())
	assertNoError(t, err)
	assertEqual(t, 2, len(switches))
	for _, sw := range switches {
		assertEqual(t, 2, len(sw.Interfaces))
	}
}

func TestDeleteSwitchCascades(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	link := seedTopology(t, repo)
	assertNoError(t, repo.AddLivenessInterfaces(ctx, []string{domain.InterfaceID(dpid1, 1), domain.InterfaceID(dpid2, 1)}))

	assertNoError(t, repo.DeleteSwitch(ctx, dpid1))

	_, err := repo.GetSwitch(ctx, dpid1)
	assertIs(t, err, domain.ErrNotFound)
	_, err = repo.GetInterface(ctx, domain.InterfaceID(dpid1, 1))
	assertIs(t, err, domain.ErrNotFound)
	_, err = repo.GetLink(ctx, link.ID)
	assertIs(t, err, domain.ErrNotFound)

	ids, err := repo.ListLivenessInterfaces(ctx)
	assertNoError(t, err)
	assertEqual(t, []string{domain.InterfaceID(dpid2, 1)}, ids)

	assertIs(t, repo.DeleteSwitch(ctx, dpid1), domain.ErrNotFound)
}

// ============================================================================
// Interface Tests
// ============================================================================

func TestUpsertInterfacesBulk(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedTopology(t, repo)

	ifaces, err := repo.ListSwitchInterfaces(ctx, dpid1)
	assertNoError(t, err)
	for _, iface := range ifaces {
		iface.Enabled = true
	}
	assertNoError(t, repo.UpsertInterfaces(ctx, ifaces))

	ifaces, err = repo.ListSwitchInterfaces(ctx, dpid1)
	assertNoError(t, err)
	assertEqual(t, 2, len(ifaces))
	for _, iface := range ifaces {
		assertEqual(t, true, iface.Enabled)
	}

	others, err := repo.ListSwitchInterfaces(ctx, dpid2)
	assertNoError(t, err)
	for _, iface := range others {
		assertEqual(t, false, iface.Enabled)
	}
}

func TestUpsertInterfacesRollsBackOnFailure(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedTopology(t, repo)

	good := domain.NewInterface(dpid1, 9, "eth9")
	orphan := domain.NewInterface("00:00:00:00:00:00:00:99", 1, "eth1")

	err := repo.UpsertInterfaces(ctx, []*domain.Interface{good, orphan})
	assertIs(t, err, domain.ErrStoreUnavailable)

	_, err = repo.GetInterface(ctx, good.ID)
	assertIs(t, err, domain.ErrNotFound)
}

// ============================================================================
// Link Tests
// ============================================================================

func TestLinkLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	link := seedTopology(t, repo)

	got, err := repo.GetLink(ctx, link.ID)
	assertNoError(t, err)
	assertEqual(t, link.EndpointA, got.EndpointA)
	assertEqual(t, link.EndpointB, got.EndpointB)
	assertEqual(t, false, got.Enabled)

	got.Enabled = true
	assertNoError(t, repo.UpsertLink(ctx, got))

	links, err := repo.ListLinks(ctx)
	assertNoError(t, err)
	assertEqual(t, 1, len(links))
	assertEqual(t, true, links[0].Enabled)

	assertNoError(t, repo.DeleteLink(ctx, link.ID))
	assertIs(t, repo.DeleteLink(ctx, link.ID), domain.ErrNotFound)
}

// ============================================================================
// Metadata Tests
// ============================================================================

func TestMergeMetadata(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	link := seedTopology(t, repo)

	md, err := repo.MergeMetadata(ctx, domain.KindLink, link.ID, domain.Metadata{"a": "1", "b": 2})
	assertNoError(t, err)
	assertEqual(t, domain.Metadata{"a": "1", "b": 2}, md)

	md, err = repo.MergeMetadata(ctx, domain.KindLink, link.ID, domain.Metadata{"b": 3})
	assertNoError(t, err)
	assertEqual(t, "1", md["a"])
	assertEqual(t, 3, md["b"])

	got, err := repo.GetLink(ctx, link.ID)
	assertNoError(t, err)
	assertEqual(t, float64(3), got.Metadata["b"])
}

func TestDeleteMetadataKey(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedTopology(t, repo)
	ifaceID := domain.InterfaceID(dpid1, 1)

	_, err := repo.MergeMetadata(ctx, domain.KindInterface, ifaceID, domain.Metadata{"keep": true, "drop": true})
	assertNoError(t, err)

	assertNoError(t, repo.DeleteMetadataKey(ctx, domain.KindInterface, ifaceID, "drop"))

	iface, err := repo.GetInterface(ctx, ifaceID)
	assertNoError(t, err)
	assertEqual(t, domain.Metadata{"keep": true}, iface.Metadata)

	t.Run("absent key", func(t *testing.T) {
		err := repo.DeleteMetadataKey(ctx, domain.KindInterface, ifaceID, "drop")
		assertIs(t, err, domain.ErrNotFound)
	})

	t.Run("absent entity", func(t *testing.T) {
		err := repo.DeleteMetadataKey(ctx, domain.KindSwitch, "00:00:00:00:00:00:00:99", "keep")
		assertIs(t, err, domain.ErrNotFound)
	})
}

// ============================================================================
// Liveness Set Tests
// ============================================================================

func TestLivenessSet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	assertNoError(t, repo.AddLivenessInterfaces(ctx, []string{"b", "a"}))
	assertNoError(t, repo.AddLivenessInterfaces(ctx, []string{"a"}))

	ids, err := repo.ListLivenessInterfaces(ctx)
	assertNoError(t, err)
	assertEqual(t, []string{"a", "b"}, ids)

	assertNoError(t, repo.RemoveLivenessInterfaces(ctx, []string{"a", "missing"}))
	ids, err = repo.ListLivenessInterfaces(ctx)
	assertNoError(t, err)
	assertEqual(t, []string{"b"}, ids)
}

// ============================================================================
// Start Mode Tests
// ============================================================================

func TestWarmRestartPreservesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topokeeper.db")
	ctx := context.Background()

	repo, err := New(path)
	assertNoError(t, err)
	link := seedTopology(t, repo)

	sw, err := repo.GetSwitch(ctx, dpid1)
	assertNoError(t, err)
	sw.Enabled = true
	assertNoError(t, repo.UpsertSwitch(ctx, sw))
	_, err = repo.MergeMetadata(ctx, domain.KindLink, link.ID, domain.Metadata{"owner": "ops"})
	assertNoError(t, err)
	assertNoError(t, repo.AddLivenessInterfaces(ctx, []string{domain.InterfaceID(dpid1, 1)}))
	assertNoError(t, repo.Close())

	repo, err = New(path)
	assertNoError(t, err)
	defer repo.Close()

	sw, err = repo.GetSwitch(ctx, dpid1)
	assertNoError(t, err)
	assertEqual(t, true, sw.Enabled)

	got, err := repo.GetLink(ctx, link.ID)
	assertNoError(t, err)
	assertEqual(t, "ops", got.Metadata["owner"])

	ids, err := repo.ListLivenessInterfaces(ctx)
	assertNoError(t, err)
	assertEqual(t, []string{domain.InterfaceID(dpid1, 1)}, ids)
}

func TestResetWipesEverything(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedTopology(t, repo)
	assertNoError(t, repo.AddLivenessInterfaces(ctx, []string{domain.InterfaceID(dpid1, 1)}))

	assertNoError(t, repo.Reset(ctx))

	switches, err := repo.ListSwitches(ctx)
	assertNoError(t, err)
	assertEqual(t, 0, len(switches))
	links, err := repo.ListLinks(ctx)
	assertNoError(t, err)
	assertEqual(t, 0, len(links))
	ids, err := repo.ListLivenessInterfaces(ctx)
	assertNoError(t, err)
	assertEqual(t, 0, len(ids))
}

func TestColumnListsMatchSchema(t *testing.T) {
	repo := newTestRepo(t)
	tests := []struct {
		table   string
		columns string
		args    int
	}{
		{"switches", switchColumns, len((&switchRow{}).scanArgs())},
		{"interfaces", interfaceColumns, len((&interfaceRow{}).scanArgs())},
		{"links", linkColumns, len((&linkRow{}).scanArgs())},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			if n := len(strings.Split(tt.columns, ",")); n != tt.args {
				t.Fatalf("%d columns but %d scan args", n, tt.args)
			}
			rows, err := repo.db.Query(`SELECT ` + tt.columns + ` FROM ` + tt.table + ` LIMIT 0`)
			assertNoError(t, err)
			rows.Close()
		})
	}
}
