package cli

import (
	"context"
	"fmt"
	"math/rand"
	"os"

	"github.com/jaswdr/faker"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"churchtransport/internal/model"
)

// FleetFile describes vehicles and their drivers for seeding.
//
//	vehicles:
//	  - make: Ford
//	    model: Transit
//	    capacity: 12
//	    license_plate: CHR-12
//	    driver: {name: John Park, phone: 555-0110, email: john@example.org}
type FleetFile struct {
	Vehicles []FleetVehicle `yaml:"vehicles"`
}

type FleetVehicle struct {
	Make         string      `yaml:"make"`
	Model        string      `yaml:"model"`
	Year         int         `yaml:"year"`
	Color        string      `yaml:"color"`
	LicensePlate string      `yaml:"license_plate"`
	Capacity     int         `yaml:"capacity"`
	Status       string      `yaml:"status"`
	Driver       FleetDriver `yaml:"driver"`
}

type FleetDriver struct {
	Name  string `yaml:"name"`
	Phone string `yaml:"phone"`
	Email string `yaml:"email"`
}

// LoadFleetFile parses a fleet YAML file.
func LoadFleetFile(path string) (FleetFile, error) {
	var f FleetFile
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read fleet file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("parse fleet file: %w", err)
	}
	return f, nil
}

// SeedOptions controls demo data generation.
type SeedOptions struct {
	EventID  string
	Riders   int
	Drivers  int
	Fleet    *FleetFile
	RandSeed int64
	// Spread is the maximum pickup offset from the church in degrees.
	Spread float64
}

// SeedResult counts created records.
type SeedResult struct {
	EventID  string `json:"event_id"`
	Contacts int    `json:"contacts"`
	Requests int    `json:"requests"`
	Drivers  int    `json:"drivers"`
	Vehicles int    `json:"vehicles"`
}

// Seed creates riders with pending requests around the church and a fleet of drivers staffed
// on the event. Fleet entries come from opts.Fleet when given, otherwise from fake data.
func (a *App) Seed(ctx context.Context, opts SeedOptions) (SeedResult, error) {
	res := SeedResult{EventID: opts.EventID}
	if opts.EventID == "" {
		return res, fmt.Errorf("event id is required")
	}
	fake := faker.NewWithSeed(rand.NewSource(opts.RandSeed))
	spread := opts.Spread
	if spread <= 0 {
		spread = 0.05
	}

	fleet := opts.Fleet
	if fleet == nil {
		fleet = &FleetFile{}
		for i := 0; i < opts.Drivers; i++ {
			car := fake.Car()
			fleet.Vehicles = append(fleet.Vehicles, FleetVehicle{
				Make:         car.Maker(),
				Model:        car.Model(),
				LicensePlate: car.Plate(),
				Capacity:     fake.IntBetween(2, 7),
				Driver: FleetDriver{
					Name:  fake.Person().Name(),
					Phone: fake.Phone().Number(),
					Email: fake.Internet().Email(),
				},
			})
		}
	}
	for _, fv := range fleet.Vehicles {
		v := model.Vehicle{
			Make: fv.Make, Model: fv.Model, Year: fv.Year, Color: fv.Color,
			LicensePlate: fv.LicensePlate, Capacity: fv.Capacity, Status: model.VehicleStatus(fv.Status),
		}
		if err := v.Validate(); err != nil {
			return res, fmt.Errorf("vehicle %s %s: %w", fv.Make, fv.Model, err)
		}
		v, err := a.Store.CreateVehicle(ctx, v)
		if err != nil {
			return res, fmt.Errorf("create vehicle: %w", err)
		}
		res.Vehicles++
		if fv.Driver.Name == "" {
			continue
		}
		d, err := a.Store.CreateDriver(ctx, model.Driver{Name: fv.Driver.Name, Phone: fv.Driver.Phone, Email: fv.Driver.Email, VehicleID: v.ID})
		if err != nil {
			return res, fmt.Errorf("create driver: %w", err)
		}
		res.Drivers++
		if _, err := a.Store.AddEventDriver(ctx, model.EventDriver{EventID: opts.EventID, DriverID: d.ID, Status: model.EventDriverAssigned, Notes: "seeded"}); err != nil {
			return res, fmt.Errorf("add event driver: %w", err)
		}
	}

	for i := 0; i < opts.Riders; i++ {
		c, err := a.Store.CreateContact(ctx, model.Contact{
			FirstName: fake.Person().FirstName(),
			LastName:  fake.Person().LastName(),
			Phone:     fake.Phone().Number(),
			Email:     fake.Internet().Email(),
		})
		if err != nil {
			return res, fmt.Errorf("create contact: %w", err)
		}
		res.Contacts++
		lat := a.Config.ChurchLat + float64(fake.IntBetween(-1000, 1000))/1000*spread
		lng := a.Config.ChurchLng + float64(fake.IntBetween(-1000, 1000))/1000*spread
		if _, err := a.Requests.Create(ctx, model.TransportRequest{
			EventID:        opts.EventID,
			ContactID:      c.ID,
			PickupLocation: model.Point(lat, lng, fake.Address().Address()),
		}); err != nil {
			return res, fmt.Errorf("create request: %w", err)
		}
		res.Requests++
	}
	a.Log.Info("seed finished", "event_id", opts.EventID, "contacts", res.Contacts, "drivers", res.Drivers, "vehicles", res.Vehicles)
	return res, nil
}

func newSeedCmd(load loader) *cobra.Command {
	var (
		opts      SeedOptions
		fleetPath string
	)
	cmd := &cobra.Command{
		Use:   "seed <event-id>",
		Short: "Create demo riders, requests and drivers for an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			opts.EventID = args[0]
			if fleetPath != "" {
				f, err := LoadFleetFile(fleetPath)
				if err != nil {
					return err
				}
				opts.Fleet = &f
			}
			res, err := app.Seed(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVar(&opts.Riders, "riders", 12, "number of riders with pending requests")
	cmd.Flags().IntVar(&opts.Drivers, "drivers", 3, "number of generated drivers when no fleet file is given")
	cmd.Flags().StringVar(&fleetPath, "fleet", "", "YAML fleet file with vehicles and drivers")
	cmd.Flags().Int64Var(&opts.RandSeed, "seed", 42, "random seed for generated data")
	cmd.Flags().Float64Var(&opts.Spread, "spread", 0.05, "max pickup offset from the church in degrees")
	return cmd
}
