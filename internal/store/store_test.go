package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/defrag/fragd/internal/cache"
	"github.com/defrag/fragd/internal/ephemeris"
	"github.com/defrag/fragd/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(DriverSQLite, ":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func testRun(t *testing.T, kind string) *ephemeris.Run {
	t.Helper()
	var texts [ephemeris.NumBodies]string
	for _, b := range ephemeris.Bodies {
		texts[b] = fmt.Sprintf("header\n$$SOE\n 2024-Jun-01 00:00, , , %d.5, 0.1,\n 2024-Jun-01 01:00, , , %d.75, 0.1,\n$$EOE\n", 10*int(b), 10*int(b))
	}
	req := ephemeris.Request{
		Kind:   kind,
		Window: ephemeris.DayWindow(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), 1, 2),
		Step:   "60m",
	}
	run, err := ephemeris.Assemble(req, map[string]string{"STEP_SIZE": "60m", "CENTER": "500@399"}, texts)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return run
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := store.MigrationVersion(context.Background())
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("version = %d, want %d", v, len(migrations))
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "x", zerolog.Nop()); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestEphemerisRun_SaveFindLoad(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	run := testRun(t, "daily")

	missing, err := store.FindEphemerisRun(ctx, run.Request)
	if err != nil {
		t.Fatalf("FindEphemerisRun: %v", err)
	}
	if missing != nil {
		t.Fatal("expected no run before save")
	}

	rec, err := store.SaveEphemerisRun(ctx, run, time.Now())
	if err != nil {
		t.Fatalf("SaveEphemerisRun: %v", err)
	}
	if rec.RawHash != run.RawHash {
		t.Errorf("RawHash = %s, want %s", rec.RawHash, run.RawHash)
	}
	if rec.StartUTC != "2024-05-31" || rec.StopUTC != "2024-06-03" {
		t.Errorf("window = %s/%s, want 2024-05-31/2024-06-03", rec.StartUTC, rec.StopUTC)
	}

	found, err := store.FindEphemerisRun(ctx, run.Request)
	if err != nil {
		t.Fatalf("FindEphemerisRun: %v", err)
	}
	if found == nil || found.ID != rec.ID {
		t.Fatalf("FindEphemerisRun = %+v, want id %s", found, rec.ID)
	}

	loaded, err := store.LoadEphemerisRun(found)
	if err != nil {
		t.Fatalf("LoadEphemerisRun: %v", err)
	}
	if loaded.RawHash != run.RawHash {
		t.Errorf("loaded RawHash = %s, want %s", loaded.RawHash, run.RawHash)
	}
	if loaded.Params["CENTER"] != "500@399" {
		t.Errorf("loaded Params = %v", loaded.Params)
	}
	if len(loaded.Samples()) != 2 {
		t.Errorf("len(samples) = %d, want 2", len(loaded.Samples()))
	}
}

func TestEphemerisRun_ConflictKeepsFirst(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	first, err := store.SaveEphemerisRun(ctx, testRun(t, "daily"), time.Now())
	if err != nil {
		t.Fatalf("SaveEphemerisRun: %v", err)
	}

	// Same request key, different payload: a concurrent fetch losing the race.
	other := testRun(t, "daily")
	other.RawHash = "different"
	second, err := store.SaveEphemerisRun(ctx, other, time.Now())
	if err != nil {
		t.Fatalf("SaveEphemerisRun: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second save id = %s, want existing %s", second.ID, first.ID)
	}
	if second.RawHash == "different" {
		t.Error("losing payload replaced the stored run")
	}

	var n int
	if err := store.db.Get(&n, "SELECT COUNT(*) FROM ephemeris_runs"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}

	if _, err := store.SaveEphemerisRun(ctx, testRun(t, "baseline"), time.Now()); err != nil {
		t.Fatalf("SaveEphemerisRun baseline: %v", err)
	}
	if err := store.db.Get(&n, "SELECT COUNT(*) FROM ephemeris_runs"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("runs = %d, want 2 after a different kind", n)
	}
}

func TestOutputs_Upsert(t *testing.T) {
	ctx := context.Background()
	out := setupTestStore(t).Outputs()
	key := cache.Key{Subject: "u1", Kind: cache.KindBaselineVector, EngineVersion: "1.0.0", InputsHash: "h"}

	if _, ok, err := out.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get before put = ok %v err %v", ok, err)
	}
	if err := out.Put(ctx, key, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := out.Put(ctx, key, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	v, ok, err := out.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get = ok %v err %v", ok, err)
	}
	if string(v) != `{"v":2}` {
		t.Errorf("Get = %s, want last value", v)
	}

	dated := key
	dated.DateKey = "2024-06-01"
	if _, ok, _ := out.Get(ctx, dated); ok {
		t.Error("a different date key must not hit")
	}
}

func TestOutputs_WriteFailureIsNonFatal(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := New(sqlx.NewDb(db, "sqlmock"), zerolog.Nop())
	c := cache.New(store.Outputs(), zerolog.Nop())
	key := cache.Key{Subject: "u1", Kind: cache.KindFriction, EngineVersion: "1.0.0", InputsHash: "h", SecondaryKey: "c1"}

	mock.ExpectQuery("SELECT output_json FROM engine_outputs").
		WillReturnRows(sqlmock.NewRows([]string{"output_json"}))
	mock.ExpectExec("INSERT INTO engine_outputs").
		WillReturnError(errors.New("database is locked"))

	v, err := cache.Load(context.Background(), c, key, func() (int, error) { return 82, nil })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v != 82 {
		t.Errorf("Load = %d, want 82", v)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestOutputs_ReadFailureIsAMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := New(sqlx.NewDb(db, "sqlmock"), zerolog.Nop())
	c := cache.New(store.Outputs(), zerolog.Nop())
	key := cache.Key{Subject: "u1", Kind: cache.KindDailyWeather, EngineVersion: "1.0.0", InputsHash: "h"}

	mock.ExpectQuery("SELECT output_json FROM engine_outputs").WillReturnError(errors.New("connection refused"))
	mock.ExpectExec("INSERT INTO engine_outputs").WillReturnResult(sqlmock.NewResult(0, 1))

	calls := 0
	v, err := cache.Load(context.Background(), c, key, func() (string, error) {
		calls++
		return "fresh", nil
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v != "fresh" || calls != 1 {
		t.Errorf("Load = %q after %d calls, want fresh after 1", v, calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func seedUser(t *testing.T, store *Store, userID string, conns ...string) {
	t.Helper()
	ctx := context.Background()
	if err := store.UpsertUserContext(ctx, models.UserContext{UserID: userID, Timezone: "America/New_York", City: "New York"}); err != nil {
		t.Fatalf("UpsertUserContext: %v", err)
	}
	if err := store.UpsertBaseline(ctx, models.Baseline{UserID: userID, BirthData: models.BirthData{DOB: "1988-08-08", BirthTime: "08:00", BirthCity: "New York"}}); err != nil {
		t.Fatalf("UpsertBaseline: %v", err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range conns {
		c := models.Connection{ID: id, UserID: userID, Name: "Conn " + id, BirthData: models.BirthData{DOB: "1990-01-01"}}
		if err := store.UpsertConnection(ctx, c); err != nil {
			t.Fatalf("UpsertConnection: %v", err)
		}
		if err := store.PinConnection(ctx, userID, id, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("PinConnection: %v", err)
		}
	}
}

func TestSubjects(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	seedUser(t, store, "user-b", "c3")
	seedUser(t, store, "user-a", "c2", "c1", "c4")

	users, err := store.PinnedUsers(ctx, 10)
	if err != nil {
		t.Fatalf("PinnedUsers: %v", err)
	}
	if strings.Join(users, ",") != "user-a,user-b" {
		t.Errorf("PinnedUsers = %v, want [user-a user-b]", users)
	}

	limited, err := store.PinnedUsers(ctx, 1)
	if err != nil {
		t.Fatalf("PinnedUsers: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(PinnedUsers(1)) = %d, want 1", len(limited))
	}

	conns, err := store.PinnedConnections(ctx, "user-a", 2)
	if err != nil {
		t.Fatalf("PinnedConnections: %v", err)
	}
	if len(conns) != 2 || conns[0].ID != "c2" || conns[1].ID != "c1" {
		t.Errorf("PinnedConnections = %+v, want c2, c1 in pin order", conns)
	}
	if conns[0].DOB != "1990-01-01" {
		t.Errorf("DOB = %q, want 1990-01-01", conns[0].DOB)
	}

	// A pin whose connection row is missing is skipped.
	if err := store.PinConnection(ctx, "user-b", "ghost", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("PinConnection: %v", err)
	}
	conns, err = store.PinnedConnections(ctx, "user-b", 5)
	if err != nil {
		t.Fatalf("PinnedConnections: %v", err)
	}
	if len(conns) != 1 || conns[0].ID != "c3" {
		t.Errorf("PinnedConnections = %+v, want only c3", conns)
	}

	uc, err := store.UserContext(ctx, "user-a")
	if err != nil || uc == nil {
		t.Fatalf("UserContext = %v, %v", uc, err)
	}
	if uc.Timezone != "America/New_York" {
		t.Errorf("Timezone = %q", uc.Timezone)
	}
	if none, err := store.UserContext(ctx, "nobody"); err != nil || none != nil {
		t.Errorf("UserContext(nobody) = %v, %v; want nil, nil", none, err)
	}

	b, err := store.Baseline(ctx, "user-a")
	if err != nil || b == nil {
		t.Fatalf("Baseline = %v, %v", b, err)
	}
	if b.BirthTime != "08:00" || b.BirthCity != "New York" {
		t.Errorf("Baseline = %+v", b)
	}
}

func TestPinnedConnections_SkipsForeignConnection(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	seedUser(t, store, "user-a", "ca")
	seedUser(t, store, "user-b", "cb")

	// user-a pins a connection row owned by user-b.
	if err := store.PinConnection(ctx, "user-a", "cb", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("PinConnection: %v", err)
	}

	conns, err := store.PinnedConnections(ctx, "user-a", 5)
	if err != nil {
		t.Fatalf("PinnedConnections: %v", err)
	}
	if len(conns) != 1 || conns[0].ID != "ca" {
		t.Fatalf("PinnedConnections(user-a) = %+v, want only ca", conns)
	}
	for _, c := range conns {
		if c.UserID != "user-a" {
			t.Errorf("connection %s owned by %s returned for user-a", c.ID, c.UserID)
		}
	}

	conns, err = store.PinnedConnections(ctx, "user-b", 5)
	if err != nil {
		t.Fatalf("PinnedConnections: %v", err)
	}
	if len(conns) != 1 || conns[0].ID != "cb" {
		t.Errorf("PinnedConnections(user-b) = %+v, want only cb", conns)
	}
}

func TestFrictionEvents_UpsertAndLatestBefore(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	event := models.FrictionEvent{
		UserID: "u1", ConnectionID: "c1", EventDate: "2024-06-01", EngineVersion: "1.0.0",
		PressureScore: 70, FrictionScore: 82, Delta: 0, PrimaryGate: "NONE", Fidelity: "HIGH",
		AssetHash: "a1", ProvenanceHash: "p1",
	}
	id1, err := store.UpsertFrictionEvent(ctx, event)
	if err != nil {
		t.Fatalf("UpsertFrictionEvent: %v", err)
	}

	event.FrictionScore = 75
	id2, err := store.UpsertFrictionEvent(ctx, event)
	if err != nil {
		t.Fatalf("UpsertFrictionEvent rerun: %v", err)
	}
	if id1 != id2 {
		t.Errorf("rerun id = %s, want %s", id2, id1)
	}

	events, err := store.FrictionEvents(ctx, "u1", "2024-06-01", "1.0.0")
	if err != nil {
		t.Fatalf("FrictionEvents: %v", err)
	}
	if len(events) != 1 || events[0].FrictionScore != 75 {
		t.Fatalf("events = %+v, want one event with score 75", events)
	}

	event.EventDate = "2024-06-03"
	event.FrictionScore = 60
	if _, err := store.UpsertFrictionEvent(ctx, event); err != nil {
		t.Fatalf("UpsertFrictionEvent: %v", err)
	}

	prev, err := store.LatestEventBefore(ctx, "u1", "c1", "1.0.0", "2024-06-04")
	if err != nil {
		t.Fatalf("LatestEventBefore: %v", err)
	}
	if prev == nil || prev.EventDate != "2024-06-03" {
		t.Errorf("LatestEventBefore = %+v, want 2024-06-03", prev)
	}

	prev, err = store.LatestEventBefore(ctx, "u1", "c1", "1.0.0", "2024-06-03")
	if err != nil {
		t.Fatalf("LatestEventBefore: %v", err)
	}
	if prev == nil || prev.EventDate != "2024-06-01" || prev.FrictionScore != 75 {
		t.Errorf("LatestEventBefore = %+v, want 2024-06-01 score 75", prev)
	}

	none, err := store.LatestEventBefore(ctx, "u1", "c1", "2.0.0", "2024-06-04")
	if err != nil || none != nil {
		t.Errorf("other engine version = %+v, %v; want nil", none, err)
	}
}

func TestFrags_Upsert(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	frag := models.Frag{
		UserID: "u1", LocalDate: "2024-06-01", EngineVersion: "1.0.0", TopEventID: "e1",
		SimpleTextState: "System locked.", SimpleTextAction: "Do not force an outcome today.", AssetHash: "a1",
	}
	if err := store.UpsertFrag(ctx, frag); err != nil {
		t.Fatalf("UpsertFrag: %v", err)
	}
	frag.TopEventID = "e2"
	if err := store.UpsertFrag(ctx, frag); err != nil {
		t.Fatalf("UpsertFrag rerun: %v", err)
	}

	n, err := store.CountFrags(ctx, "u1")
	if err != nil {
		t.Fatalf("CountFrags: %v", err)
	}
	if n != 1 {
		t.Errorf("frags = %d, want 1", n)
	}

	got, err := store.Frag(ctx, "u1", "2024-06-01", "1.0.0")
	if err != nil || got == nil {
		t.Fatalf("Frag = %v, %v", got, err)
	}
	if got.TopEventID != "e2" {
		t.Errorf("TopEventID = %s, want e2", got.TopEventID)
	}
	if none, err := store.Frag(ctx, "u1", "2024-06-02", "1.0.0"); err != nil || none != nil {
		t.Errorf("Frag(missing) = %v, %v", none, err)
	}
}

func TestAssets(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	if err := store.EnsurePublicAsset(ctx, "h1"); err != nil {
		t.Fatalf("EnsurePublicAsset: %v", err)
	}
	if _, err := store.db.Exec(`UPDATE asset_cache_public SET status = 'READY' WHERE hash = 'h1'`); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.EnsurePublicAsset(ctx, "h1"); err != nil {
		t.Fatalf("EnsurePublicAsset again: %v", err)
	}

	pub, err := store.PublicAsset(ctx, "h1")
	if err != nil || pub == nil {
		t.Fatalf("PublicAsset = %v, %v", pub, err)
	}
	if pub.Status != "READY" || pub.Type != AssetTypeStill {
		t.Errorf("PublicAsset = %+v, want STILL/READY kept", pub)
	}

	priv := models.AssetPrivate{Hash: "h1", Canonical: "A-B-80-NONE-HIGH-v1", ParamsJSON: `{"bracket10":80}`}
	if err := store.UpsertPrivateAsset(ctx, priv); err != nil {
		t.Fatalf("UpsertPrivateAsset: %v", err)
	}
	got, err := store.PrivateAsset(ctx, "h1")
	if err != nil || got == nil {
		t.Fatalf("PrivateAsset = %v, %v", got, err)
	}
	if got.Canonical != priv.Canonical {
		t.Errorf("Canonical = %q", got.Canonical)
	}
}

func TestBatchRuns(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	run, err := store.StartBatchRun(ctx, "2024-06-01", time.Date(2024, 6, 1, 0, 5, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("StartBatchRun: %v", err)
	}
	run.UsersProcessed = 3
	run.EventsWritten = 5
	run.FragsWritten = 3
	run.Success = false
	if err := store.CompleteBatchRun(ctx, run, []string{"user:u9 no baseline"}); err != nil {
		t.Fatalf("CompleteBatchRun: %v", err)
	}

	got, err := store.BatchRun(ctx, run.ID)
	if err != nil || got == nil {
		t.Fatalf("BatchRun = %v, %v", got, err)
	}
	if got.ErrorCount != 1 || !got.FinishedAt.Valid || got.Success {
		t.Errorf("BatchRun = %+v", got)
	}
	if !strings.Contains(got.ErrorsJSON.String, "user:u9") {
		t.Errorf("ErrorsJSON = %q", got.ErrorsJSON.String)
	}

	health, err := store.GetBatchHealth(ctx, 7)
	if err != nil {
		t.Fatalf("GetBatchHealth: %v", err)
	}
	if len(health) != 1 || health[0].TotalRuns != 1 || health[0].TotalFrags != 3 {
		t.Errorf("health = %+v", health)
	}
}
