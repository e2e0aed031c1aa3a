package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/farmalink/rxagent/internal/store"

	_ "modernc.org/sqlite"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st, err := store.New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := st.SeedIfEmpty(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(st, nil, logger), st
}

func execute(t *testing.T, r *Registry, ctx context.Context, tool, argsJSON string) map[string]any {
	t.Helper()
	out, err := r.Execute(ctx, tool, argsJSON)
	if err != nil {
		t.Fatalf("execute %s: %v", tool, err)
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, out)
	}
	return result
}

func medicationID(t *testing.T, st *store.Store, name string) string {
	t.Helper()
	meds, err := st.MedicationsByExactName(context.Background(), name)
	if err != nil || len(meds) == 0 {
		t.Fatalf("medication %q: %v (%d rows)", name, err, len(meds))
	}
	return meds[0].ID
}

func userID(t *testing.T, st *store.Store, phone string) string {
	t.Helper()
	u, err := st.UserByPhone(context.Background(), phone)
	if err != nil {
		t.Fatalf("user %s: %v", phone, err)
	}
	return u.ID
}

func TestListDeclaresAllTools(t *testing.T) {
	r, _ := newTestRegistry(t)

	decls := r.List()
	var names []string
	for _, d := range decls {
		if d["type"] != "function" {
			t.Errorf("declaration type = %v, want function", d["type"])
		}
		fn := d["function"].(map[string]any)
		names = append(names, fn["name"].(string))
	}
	sort.Strings(names)

	want := []string{
		"check_inventory",
		"check_prescription_requirement",
		"create_prescription_request",
		"get_current_user",
		"get_medication_by_name",
		"get_user_by_phone",
		"reserve_inventory",
	}
	if len(names) != len(want) {
		t.Fatalf("declared tools = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("tool[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestGetMedicationByName(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	result := execute(t, r, ctx, "get_medication_by_name", `{"query": ""}`)
	if result["error"] != "empty_query" {
		t.Errorf("empty query error = %v, want empty_query", result["error"])
	}

	result = execute(t, r, ctx, "get_medication_by_name", `{"query": "  Paracetamol "}`)
	if result["found"] != true {
		t.Fatalf("paracetamol not found: %v", result)
	}
	med := result["medication"].(map[string]any)
	if med["strength"] != "500 mg" || med["otc_or_rx"] != "otc" {
		t.Errorf("unexpected medication: %v", med)
	}

	result = execute(t, r, ctx, "get_medication_by_name", `{"query": "nosuchdrug"}`)
	if result["error"] != "not_found" {
		t.Errorf("unknown query error = %v, want not_found", result["error"])
	}

	// Substring match resolves a unique medication.
	result = execute(t, r, ctx, "get_medication_by_name", `{"query": "metf"}`)
	if result["found"] != true {
		t.Errorf("substring match failed: %v", result)
	}
}

func TestGetMedicationByNameAmbiguous(t *testing.T) {
	r, _ := newTestRegistry(t)

	result := execute(t, r, context.Background(), "get_medication_by_name", `{"query": "ibuprofen"}`)
	if result["found"] != false || result["error"] != "ambiguous" {
		t.Fatalf("expected ambiguous result, got %v", result)
	}

	raw := result["alternatives"].([]any)
	var alternatives []string
	for _, a := range raw {
		alternatives = append(alternatives, a.(string))
	}
	sort.Strings(alternatives)
	want := []string{"Ibuprofen 200 mg", "Ibuprofen 400 mg"}
	if len(alternatives) != 2 || alternatives[0] != want[0] || alternatives[1] != want[1] {
		t.Errorf("alternatives = %v, want %v", alternatives, want)
	}
}

func TestGetMedicationByNameBrandAlias(t *testing.T) {
	r, _ := newTestRegistry(t)

	for _, query := range []string{"Dexamol", "דקסמול"} {
		result := execute(t, r, context.Background(), "get_medication_by_name",
			`{"query": "`+query+`"}`)
		if result["found"] != true {
			t.Fatalf("alias %q not resolved: %v", query, result)
		}
		med := result["medication"].(map[string]any)
		if med["name"] != "Paracetamol" {
			t.Errorf("alias %q resolved to %v, want Paracetamol", query, med["name"])
		}
	}
}

func TestCheckInventory(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	result := execute(t, r, ctx, "check_inventory", `{}`)
	if result["error"] != "missing_medication_id" {
		t.Errorf("missing id error = %v, want missing_medication_id", result["error"])
	}

	medID := medicationID(t, st, "amoxicillin")

	result = execute(t, r, ctx, "check_inventory",
		`{"medication_id": "`+medID+`", "store_name": "No Such Store"}`)
	if result["error"] != "unknown_store_or_no_record" {
		t.Errorf("unknown store error = %v, want unknown_store_or_no_record", result["error"])
	}

	result = execute(t, r, ctx, "check_inventory", `{"medication_id": "`+medID+`"}`)
	rows := result["results"].([]any)
	if len(rows) != 3 {
		t.Fatalf("got %d stores, want 3", len(rows))
	}
	statuses := map[string]string{}
	for _, row := range rows {
		m := row.(map[string]any)
		statuses[m["store_name"].(string)] = m["status"].(string)
	}
	// Seeded amoxicillin: TA 12, JLM 30, HFA 2.
	if statuses["Tel Aviv - Dizengoff"] != "in_stock" ||
		statuses["Jerusalem - King George"] != "in_stock" ||
		statuses["Haifa - Carmel"] != "low" {
		t.Errorf("unexpected statuses: %v", statuses)
	}
}

func TestCheckInventoryOutOfStock(t *testing.T) {
	r, st := newTestRegistry(t)

	medID := medicationID(t, st, "omeprazole")
	result := execute(t, r, context.Background(), "check_inventory",
		`{"medication_id": "`+medID+`", "store_name": "tel aviv - dizengoff"}`)
	rows := result["results"].([]any)
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].(map[string]any)["status"] != "out" {
		t.Errorf("status = %v, want out", rows[0].(map[string]any)["status"])
	}
}

func TestCheckPrescriptionRequirement(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	result := execute(t, r, ctx, "check_prescription_requirement",
		`{"medication_id": "`+medicationID(t, st, "amoxicillin")+`"}`)
	if result["requires_prescription"] != true {
		t.Errorf("amoxicillin requires_prescription = %v, want true", result["requires_prescription"])
	}

	result = execute(t, r, ctx, "check_prescription_requirement",
		`{"medication_id": "`+medicationID(t, st, "paracetamol")+`"}`)
	if result["requires_prescription"] != false {
		t.Errorf("paracetamol requires_prescription = %v, want false", result["requires_prescription"])
	}

	result = execute(t, r, ctx, "check_prescription_requirement", `{"medication_id": "nope"}`)
	if result["error"] != "not_found" {
		t.Errorf("unknown medication error = %v, want not_found", result["error"])
	}
}

func TestGetUserByPhone(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	result := execute(t, r, ctx, "get_user_by_phone", `{"phone": "123"}`)
	if result["error"] != "invalid_phone" {
		t.Errorf("short phone error = %v, want invalid_phone", result["error"])
	}

	// Formatting characters are stripped before lookup.
	result = execute(t, r, ctx, "get_user_by_phone", `{"phone": "+972-50-100-0004"}`)
	if result["found"] != true {
		t.Fatalf("formatted phone not found: %v", result)
	}
	user := result["user"].(map[string]any)
	if user["full_name"] != "Daniel Katz" {
		t.Errorf("user = %v, want Daniel Katz", user["full_name"])
	}

	result = execute(t, r, ctx, "get_user_by_phone", `{"phone": "+972509999999"}`)
	if result["found"] != false {
		t.Errorf("unknown phone found = %v, want false", result["found"])
	}
}

func TestGetCurrentUser(t *testing.T) {
	r, st := newTestRegistry(t)

	result := execute(t, r, context.Background(), "get_current_user", `{}`)
	if result["error"] != "authentication_required" {
		t.Errorf("unauthenticated error = %v, want authentication_required", result["error"])
	}

	uid := userID(t, st, "+972501000001")
	ctx := WithUserID(context.Background(), uid)
	result = execute(t, r, ctx, "get_current_user", `{}`)
	if result["found"] != true {
		t.Fatalf("authenticated lookup failed: %v", result)
	}
	user := result["user"].(map[string]any)
	if user["full_name"] != "Rotem Cohen" || user["loyalty_id"] != "L-1001" {
		t.Errorf("unexpected user: %v", user)
	}

	ctx = WithUserID(context.Background(), "no-such-user")
	result = execute(t, r, ctx, "get_current_user", `{}`)
	if result["error"] != "unknown_user" {
		t.Errorf("stale token error = %v, want unknown_user", result["error"])
	}
}

func TestCreatePrescriptionRequest(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	result := execute(t, r, ctx, "create_prescription_request", `{"user_id": "u"}`)
	if result["error"] != "missing_required_fields" {
		t.Errorf("missing fields error = %v, want missing_required_fields", result["error"])
	}

	medID := medicationID(t, st, "amoxicillin")
	result = execute(t, r, ctx, "create_prescription_request",
		`{"user_id": "nope", "medication_id": "`+medID+`"}`)
	if result["error"] != "unknown_user" {
		t.Errorf("unknown user error = %v, want unknown_user", result["error"])
	}

	uid := userID(t, st, "+972501000002")
	result = execute(t, r, ctx, "create_prescription_request",
		`{"user_id": "`+uid+`", "medication_id": "nope"}`)
	if result["error"] != "unknown_medication" {
		t.Errorf("unknown medication error = %v, want unknown_medication", result["error"])
	}

	result = execute(t, r, ctx, "create_prescription_request",
		`{"user_id": "`+uid+`", "medication_id": "`+medID+`", "pickup_store": "Haifa - Carmel"}`)
	if result["status"] != "created" {
		t.Fatalf("create failed: %v", result)
	}
	requestID := result["request_id"].(string)

	ticket, err := st.TicketByID(ctx, requestID)
	if err != nil {
		t.Fatalf("ticket: %v", err)
	}
	if ticket.Type != store.TicketPrescriptionRequest || ticket.UserID != uid {
		t.Errorf("unexpected ticket: %+v", ticket)
	}
}

func TestReserveInventoryTool(t *testing.T) {
	r, st := newTestRegistry(t)
	medID := medicationID(t, st, "amoxicillin")

	result := execute(t, r, context.Background(), "reserve_inventory", `{"medication_id": "x"}`)
	if result["reason"] != "missing_required_fields" {
		t.Errorf("missing fields reason = %v, want missing_required_fields", result["reason"])
	}

	args := `{"medication_id": "` + medID + `", "store_name": "Jerusalem - King George", "quantity": 2}`

	result = execute(t, r, context.Background(), "reserve_inventory", args)
	if result["reserved"] != false || result["reason"] != "authentication_required" {
		t.Errorf("unauthenticated reserve = %v, want authentication_required", result)
	}

	uid := userID(t, st, "+972501000003")
	ctx := WithUserID(context.Background(), uid)

	result = execute(t, r, ctx, "reserve_inventory", args)
	if result["reserved"] != true {
		t.Fatalf("reserve failed: %v", result)
	}
	if result["reservation_id"].(string) == "" {
		t.Error("empty reservation_id")
	}

	// Jerusalem seeded with 30; a request beyond the remaining 28 fails.
	result = execute(t, r, ctx, "reserve_inventory",
		`{"medication_id": "`+medID+`", "store_name": "Jerusalem - King George", "quantity": 100}`)
	if result["reserved"] != false || result["reason"] != "insufficient_stock" {
		t.Errorf("oversized reserve = %v, want insufficient_stock", result)
	}

	result = execute(t, r, ctx, "reserve_inventory",
		`{"medication_id": "`+medID+`", "store_name": "No Such Store", "quantity": 1}`)
	if result["reason"] != "store_or_item_not_found" {
		t.Errorf("unknown store reason = %v, want store_or_item_not_found", result["reason"])
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t)

	result := execute(t, r, context.Background(), "teleport_medication", `{}`)
	if result["error"] != "unknown_tool" || result["tool"] != "teleport_medication" {
		t.Errorf("unknown tool result = %v", result)
	}
}

func TestExecuteInvalidArguments(t *testing.T) {
	r, _ := newTestRegistry(t)

	result := execute(t, r, context.Background(), "get_medication_by_name", `{"query": `)
	if result["error"] != "invalid_arguments" {
		t.Errorf("invalid args error = %v, want invalid_arguments", result["error"])
	}
}
