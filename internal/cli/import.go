package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"churchtransport/internal/integrations"
	"churchtransport/internal/integrations/csvfile"
	"churchtransport/internal/model"
)

// ImportResult counts riders turned into pending requests.
type ImportResult struct {
	Source   string                  `json:"source"`
	EventID  string                  `json:"event_id"`
	Imported int                     `json:"imported"`
	Failed   []integrations.RowError `json:"failed"`
}

// Import creates a contact and a pending transport request for every rider of src. A rider
// that cannot be stored is reported and skipped.
func (a *App) Import(ctx context.Context, eventID string, src integrations.RiderSource) (ImportResult, error) {
	res := ImportResult{Source: src.Name(), EventID: eventID, Failed: []integrations.RowError{}}
	riders, err := src.FetchRiders(ctx)
	if err != nil {
		return res, fmt.Errorf("fetch riders from %s: %w", src.Name(), err)
	}
	for _, rd := range riders {
		var loc *model.Location
		switch {
		case rd.Lat != nil && rd.Lng != nil:
			loc = model.Point(*rd.Lat, *rd.Lng, rd.Address)
		case rd.Address != "":
			loc = &model.Location{Address: rd.Address}
		}
		if err := loc.Validate(); err != nil {
			res.Failed = append(res.Failed, integrations.RowError{Line: rd.Line, Reason: err.Error()})
			continue
		}
		c, err := a.Store.CreateContact(ctx, model.Contact{FirstName: rd.FirstName, LastName: rd.LastName, Phone: rd.Phone, Email: rd.Email})
		if err != nil {
			a.Log.Warn("import: create contact failed", "line", rd.Line, "error", err)
			res.Failed = append(res.Failed, integrations.RowError{Line: rd.Line, Reason: err.Error()})
			continue
		}
		if _, err := a.Requests.Create(ctx, model.TransportRequest{EventID: eventID, ContactID: c.ID, PickupLocation: loc, Notes: rd.Notes}); err != nil {
			a.Log.Warn("import: create request failed", "line", rd.Line, "contact_id", c.ID, "error", err)
			res.Failed = append(res.Failed, integrations.RowError{Line: rd.Line, Reason: err.Error()})
			continue
		}
		res.Imported++
	}
	return res, nil
}

func newImportCmd(load loader) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "import <event-id>",
		Short: "Create pending requests from a CSV rider sign-up sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			src := csvfile.New(path)
			res, err := app.Import(cmd.Context(), args[0], src)
			if err != nil {
				return err
			}
			res.Failed = append(src.Errors, res.Failed...)
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&path, "csv", "", "CSV file with a header row")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}
