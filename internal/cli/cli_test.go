package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"churchtransport/internal/assign"
	"churchtransport/internal/config"
	"churchtransport/internal/model"
	"churchtransport/internal/store"
	"churchtransport/pkg/logger"
)

func testApp() *App {
	cfg := &config.Config{
		HTTPTimeout:   time.Second,
		ChurchLat:     config.DefaultChurchLat,
		ChurchLng:     config.DefaultChurchLng,
		ChurchAddress: config.DefaultChurchAddress,
	}
	return NewApp(cfg, logger.NewNop(), store.NewMemory())
}

func run(t *testing.T, app *App, args ...string) *bytes.Buffer {
	t.Helper()
	out := &bytes.Buffer{}
	root := NewRootCmd(func() (*App, error) { return app, nil })
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("transportctl %v: %v\n%s", args, err, out.String())
	}
	return out
}

func TestSeedThenAssign(t *testing.T) {
	app := testApp()
	out := run(t, app, "seed", "sunday", "--riders", "5", "--drivers", "2", "--seed", "7")
	var seeded SeedResult
	if err := json.Unmarshal(out.Bytes(), &seeded); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if seeded.Contacts != 5 || seeded.Requests != 5 || seeded.Drivers != 2 || seeded.Vehicles != 2 {
		t.Fatalf("seed: %+v", seeded)
	}
	ctx := context.Background()
	reqs, _ := app.Store.ListRequests(ctx, store.RequestFilter{EventID: "sunday"})
	for _, r := range reqs {
		if !r.PickupLocation.HasCoordinates() || r.Status != model.RequestPending {
			t.Fatalf("seeded request: %+v", r)
		}
		if d := *r.PickupLocation.Lat - config.DefaultChurchLat; d > 0.051 || d < -0.051 {
			t.Fatalf("pickup too far from church: %+v", r.PickupLocation)
		}
	}

	out = run(t, app, "assign", "sunday")
	var res assign.Result
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if len(res.Assignments)+len(res.Skipped) != 5 || len(res.Assignments) == 0 {
		t.Fatalf("assign: %+v", res)
	}
}

func TestSeedFromFleetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	yml := `vehicles:
  - make: Ford
    model: Transit
    capacity: 12
    license_plate: CHR-12
    driver: {name: John Park, phone: 555-0110, email: john@example.org}
  - make: Honda
    model: Odyssey
    capacity: 7
    status: maintenance
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	app := testApp()
	run(t, app, "seed", "e1", "--fleet", path, "--riders", "1")

	ctx := context.Background()
	vehicles, _ := app.Store.ListVehicles(ctx, nil)
	drivers, _ := app.Store.ListDrivers(ctx, nil)
	if len(vehicles) != 2 || len(drivers) != 1 {
		t.Fatalf("vehicles=%d drivers=%d", len(vehicles), len(drivers))
	}
	if vehicles[0].Capacity != 12 || vehicles[1].Status != model.VehicleMaintenance {
		t.Fatalf("vehicles: %+v", vehicles)
	}
	if drivers[0].Name != "John Park" || drivers[0].VehicleID != vehicles[0].ID {
		t.Fatalf("driver: %+v", drivers[0])
	}
	eds, _ := app.Store.ListEventDrivers(ctx, "e1")
	if len(eds) != 1 {
		t.Fatalf("event drivers: %+v", eds)
	}
}

func TestSeedRejectsBadFleet(t *testing.T) {
	app := testApp()
	_, err := app.Seed(context.Background(), SeedOptions{EventID: "e1", Fleet: &FleetFile{Vehicles: []FleetVehicle{{Make: "Mini", Capacity: 0}}}})
	if !model.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := app.Seed(context.Background(), SeedOptions{}); err == nil {
		t.Fatal("missing event id accepted")
	}
}

func TestCapacityAndVersion(t *testing.T) {
	app := testApp()
	run(t, app, "seed", "e1", "--riders", "0", "--drivers", "1")
	out := run(t, app, "capacity", "--event", "e1")
	var fleet struct {
		TotalVehicles int `json:"total_vehicles"`
	}
	if err := json.Unmarshal(out.Bytes(), &fleet); err != nil || fleet.TotalVehicles != 1 {
		t.Fatalf("capacity: %s %v", out.String(), err)
	}
	if out := run(t, app, "version"); !bytes.Contains(out.Bytes(), []byte("churchtransport")) {
		t.Fatalf("version: %s", out.String())
	}
}

func TestOpenErrorIsReturned(t *testing.T) {
	root := NewRootCmd(func() (*App, error) { return nil, os.ErrNotExist })
	root.SetArgs([]string{"assign", "e1"})
	root.SetOut(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Fatal("expected open error")
	}
}

func TestImportCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riders.csv")
	sheet := "first_name,last_name,phone,address,lat,lng\nMary,Jones,555-0101,9 Elm St,39.70,-104.90\nTom,Lee,555-0103,12 Oak Ave,,\nBad,Row,555,x,95,0\n"
	if err := os.WriteFile(path, []byte(sheet), 0o600); err != nil {
		t.Fatal(err)
	}
	app := testApp()
	out := run(t, app, "import", "e1", "--csv", path)
	var res ImportResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if res.Imported != 2 || len(res.Failed) != 1 || res.Failed[0].Line != 4 {
		t.Fatalf("import: %+v", res)
	}
	reqs, _ := app.Store.ListRequests(context.Background(), store.RequestFilter{EventID: "e1"})
	if len(reqs) != 2 || !reqs[0].PickupLocation.HasCoordinates() || reqs[1].PickupLocation.HasCoordinates() {
		t.Fatalf("requests: %+v", reqs)
	}
}
