package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"churchtransport/internal/model"
)

type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every *.sql file in dir in lexical order, one transaction per file.
func (p *Postgres) MigrateDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		tx, err := p.db.Beginx()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", filepath.Base(f), err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// selectIn runs a query with an IN (?) clause over ids; nil ids drops the clause.
func selectIn(ctx context.Context, db *sqlx.DB, dest any, base, order string, ids []string) error {
	if ids == nil {
		return db.SelectContext(ctx, dest, base+" "+order)
	}
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(base+" WHERE id IN (?) "+order, ids)
	if err != nil {
		return err
	}
	return db.SelectContext(ctx, dest, db.Rebind(q), args...)
}

// Contacts

const contactCols = `SELECT id, first_name, last_name, phone, COALESCE(email,'') AS email FROM contacts`

func (p *Postgres) CreateContact(ctx context.Context, c model.Contact) (model.Contact, error) {
	c.ID = newID(c.ID)
	_, err := p.db.ExecContext(ctx, `INSERT INTO contacts (id, first_name, last_name, phone, email) VALUES ($1,$2,$3,$4,$5)`,
		c.ID, c.FirstName, c.LastName, c.Phone, nullIfEmpty(c.Email))
	if err != nil {
		return model.Contact{}, fmt.Errorf("insert contact: %w", err)
	}
	return c, nil
}

func (p *Postgres) GetContact(ctx context.Context, id string) (model.Contact, error) {
	var c model.Contact
	err := p.db.GetContext(ctx, &c, contactCols+` WHERE id=$1`, id)
	return c, notFound(err)
}

func (p *Postgres) ListContacts(ctx context.Context, ids []string) ([]model.Contact, error) {
	out := []model.Contact{}
	if err := selectIn(ctx, p.db, &out, contactCols, "ORDER BY created_at, id", ids); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return out, nil
}

func (p *Postgres) UpdateContact(ctx context.Context, c model.Contact) (model.Contact, error) {
	err := affected(p.db.ExecContext(ctx, `UPDATE contacts SET first_name=$2, last_name=$3, phone=$4, email=$5 WHERE id=$1`,
		c.ID, c.FirstName, c.LastName, c.Phone, nullIfEmpty(c.Email)))
	if err != nil {
		return model.Contact{}, err
	}
	return c, nil
}

func (p *Postgres) DeleteContact(ctx context.Context, id string) error {
	return affected(p.db.ExecContext(ctx, `DELETE FROM contacts WHERE id=$1`, id))
}

// Drivers

const driverCols = `SELECT id, name, phone, COALESCE(email,'') AS email, COALESCE(vehicle_id,'') AS vehicle_id FROM drivers`

func (p *Postgres) CreateDriver(ctx context.Context, d model.Driver) (model.Driver, error) {
	d.ID = newID(d.ID)
	_, err := p.db.ExecContext(ctx, `INSERT INTO drivers (id, name, phone, email, vehicle_id) VALUES ($1,$2,$3,$4,$5)`,
		d.ID, d.Name, d.Phone, nullIfEmpty(d.Email), nullIfEmpty(d.VehicleID))
	if err != nil {
		return model.Driver{}, fmt.Errorf("insert driver: %w", err)
	}
	return d, nil
}

func (p *Postgres) GetDriver(ctx context.Context, id string) (model.Driver, error) {
	var d model.Driver
	err := p.db.GetContext(ctx, &d, driverCols+` WHERE id=$1`, id)
	return d, notFound(err)
}

func (p *Postgres) ListDrivers(ctx context.Context, ids []string) ([]model.Driver, error) {
	out := []model.Driver{}
	if err := selectIn(ctx, p.db, &out, driverCols, "ORDER BY created_at, id", ids); err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	return out, nil
}

func (p *Postgres) UpdateDriver(ctx context.Context, d model.Driver) (model.Driver, error) {
	err := affected(p.db.ExecContext(ctx, `UPDATE drivers SET name=$2, phone=$3, email=$4, vehicle_id=$5 WHERE id=$1`,
		d.ID, d.Name, d.Phone, nullIfEmpty(d.Email), nullIfEmpty(d.VehicleID)))
	if err != nil {
		return model.Driver{}, err
	}
	return d, nil
}

func (p *Postgres) DeleteDriver(ctx context.Context, id string) error {
	return affected(p.db.ExecContext(ctx, `DELETE FROM drivers WHERE id=$1`, id))
}

// Vehicles

const vehicleCols = `SELECT id, make, model, COALESCE(year,0) AS year, COALESCE(color,'') AS color, license_plate, capacity, status FROM vehicles`

func (p *Postgres) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	v.ID = newID(v.ID)
	_, err := p.db.ExecContext(ctx, `INSERT INTO vehicles (id, make, model, year, color, license_plate, capacity, status) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		v.ID, v.Make, v.Model, nullIfZero(v.Year), nullIfEmpty(v.Color), v.LicensePlate, v.Capacity, string(v.Status))
	if err != nil {
		return model.Vehicle{}, fmt.Errorf("insert vehicle: %w", err)
	}
	return v, nil
}

func (p *Postgres) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	var v model.Vehicle
	err := p.db.GetContext(ctx, &v, vehicleCols+` WHERE id=$1`, id)
	return v, notFound(err)
}

func (p *Postgres) ListVehicles(ctx context.Context, ids []string) ([]model.Vehicle, error) {
	out := []model.Vehicle{}
	if err := selectIn(ctx, p.db, &out, vehicleCols, "ORDER BY created_at, id", ids); err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	return out, nil
}

func (p *Postgres) UpdateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	err := affected(p.db.ExecContext(ctx, `UPDATE vehicles SET make=$2, model=$3, year=$4, color=$5, license_plate=$6, capacity=$7, status=$8 WHERE id=$1`,
		v.ID, v.Make, v.Model, nullIfZero(v.Year), nullIfEmpty(v.Color), v.LicensePlate, v.Capacity, string(v.Status)))
	if err != nil {
		return model.Vehicle{}, err
	}
	return v, nil
}

func (p *Postgres) DeleteVehicle(ctx context.Context, id string) error {
	return affected(p.db.ExecContext(ctx, `DELETE FROM vehicles WHERE id=$1`, id))
}

// Transport requests

type requestRow struct {
	ID              string          `db:"id"`
	EventID         string          `db:"event_id"`
	ContactID       string          `db:"contact_id"`
	PickupLat       sql.NullFloat64 `db:"pickup_lat"`
	PickupLng       sql.NullFloat64 `db:"pickup_lng"`
	PickupAddress   sql.NullString  `db:"pickup_address"`
	Status          string          `db:"status"`
	AssignedDriver  sql.NullString  `db:"assigned_driver"`
	AssignedVehicle sql.NullString  `db:"assigned_vehicle"`
	Notes           sql.NullString  `db:"notes"`
	RequestedAt     time.Time       `db:"requested_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func newRequestRow(r model.TransportRequest) requestRow {
	row := requestRow{
		ID:              r.ID,
		EventID:         r.EventID,
		ContactID:       r.ContactID,
		Status:          string(r.Status),
		AssignedDriver:  sql.NullString{String: r.AssignedDriver, Valid: r.AssignedDriver != ""},
		AssignedVehicle: sql.NullString{String: r.AssignedVehicle, Valid: r.AssignedVehicle != ""},
		Notes:           sql.NullString{String: r.Notes, Valid: r.Notes != ""},
		RequestedAt:     r.RequestedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if l := r.PickupLocation; l != nil {
		if l.Lat != nil {
			row.PickupLat = sql.NullFloat64{Float64: *l.Lat, Valid: true}
		}
		if l.Lng != nil {
			row.PickupLng = sql.NullFloat64{Float64: *l.Lng, Valid: true}
		}
		row.PickupAddress = sql.NullString{String: l.Address, Valid: l.Address != ""}
	}
	return row
}

func (row requestRow) model() model.TransportRequest {
	r := model.TransportRequest{
		ID:              row.ID,
		EventID:         row.EventID,
		ContactID:       row.ContactID,
		Status:          model.RequestStatus(row.Status),
		AssignedDriver:  row.AssignedDriver.String,
		AssignedVehicle: row.AssignedVehicle.String,
		Notes:           row.Notes.String,
		RequestedAt:     row.RequestedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.PickupLat.Valid || row.PickupLng.Valid || row.PickupAddress.Valid {
		loc := &model.Location{Address: row.PickupAddress.String}
		if row.PickupLat.Valid {
			v := row.PickupLat.Float64
			loc.Lat = &v
		}
		if row.PickupLng.Valid {
			v := row.PickupLng.Float64
			loc.Lng = &v
		}
		r.PickupLocation = loc
	}
	return r
}

func (p *Postgres) CreateRequest(ctx context.Context, r model.TransportRequest) (model.TransportRequest, error) {
	r.ID = newID(r.ID)
	now := time.Now().UTC()
	if r.RequestedAt.IsZero() {
		r.RequestedAt = now
	}
	r.UpdatedAt = now
	_, err := p.db.NamedExecContext(ctx, `INSERT INTO transport_requests
		(id, event_id, contact_id, pickup_lat, pickup_lng, pickup_address, status, assigned_driver, assigned_vehicle, notes, requested_at, updated_at)
		VALUES (:id, :event_id, :contact_id, :pickup_lat, :pickup_lng, :pickup_address, :status, :assigned_driver, :assigned_vehicle, :notes, :requested_at, :updated_at)`,
		newRequestRow(r))
	if err != nil {
		return model.TransportRequest{}, fmt.Errorf("insert transport request: %w", err)
	}
	return r, nil
}

func (p *Postgres) GetRequest(ctx context.Context, id string) (model.TransportRequest, error) {
	var row requestRow
	if err := p.db.GetContext(ctx, &row, `SELECT * FROM transport_requests WHERE id=$1`, id); err != nil {
		return model.TransportRequest{}, notFound(err)
	}
	return row.model(), nil
}

func (p *Postgres) ListRequests(ctx context.Context, f RequestFilter) ([]model.TransportRequest, error) {
	q := `SELECT * FROM transport_requests WHERE 1=1`
	args := []any{}
	if f.EventID != "" {
		q += ` AND event_id=?`
		args = append(args, f.EventID)
	}
	if f.ContactID != "" {
		q += ` AND contact_id=?`
		args = append(args, f.ContactID)
	}
	if f.DriverID != "" {
		q += ` AND assigned_driver=?`
		args = append(args, f.DriverID)
	}
	if f.Unassigned {
		q += ` AND assigned_driver IS NULL AND assigned_vehicle IS NULL`
	}
	if len(f.Statuses) > 0 {
		ss := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			ss[i] = string(s)
		}
		q += ` AND status IN (?)`
		args = append(args, ss)
	}
	if f.NewestFirst {
		q += ` ORDER BY requested_at DESC, id`
	} else {
		q += ` ORDER BY requested_at, id`
	}
	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return nil, err
	}
	rows := []requestRow{}
	if err := p.db.SelectContext(ctx, &rows, p.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list transport requests: %w", err)
	}
	out := make([]model.TransportRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (p *Postgres) UpdateRequest(ctx context.Context, r model.TransportRequest) (model.TransportRequest, error) {
	r.UpdatedAt = time.Now().UTC()
	res, err := p.db.NamedExecContext(ctx, `UPDATE transport_requests SET
		event_id=:event_id, contact_id=:contact_id, pickup_lat=:pickup_lat, pickup_lng=:pickup_lng, pickup_address=:pickup_address,
		status=:status, assigned_driver=:assigned_driver, assigned_vehicle=:assigned_vehicle, notes=:notes, updated_at=:updated_at
		WHERE id=:id`, newRequestRow(r))
	if err := affected(res, err); err != nil {
		return model.TransportRequest{}, err
	}
	return p.GetRequest(ctx, r.ID)
}

func (p *Postgres) DeleteRequest(ctx context.Context, id string) error {
	return affected(p.db.ExecContext(ctx, `DELETE FROM transport_requests WHERE id=$1`, id))
}

// Event drivers

type eventDriverRow struct {
	ID         string         `db:"id"`
	EventID    string         `db:"event_id"`
	DriverID   string         `db:"driver_id"`
	VehicleID  sql.NullString `db:"vehicle_id"`
	Status     string         `db:"status"`
	Notes      sql.NullString `db:"notes"`
	AssignedAt time.Time      `db:"assigned_at"`
}

func (row eventDriverRow) model() model.EventDriver {
	return model.EventDriver{
		ID: row.ID, EventID: row.EventID, DriverID: row.DriverID, VehicleID: row.VehicleID.String,
		Status: model.EventDriverStatus(row.Status), Notes: row.Notes.String, AssignedAt: row.AssignedAt,
	}
}

func (p *Postgres) AddEventDriver(ctx context.Context, ed model.EventDriver) (model.EventDriver, error) {
	ed.ID = newID(ed.ID)
	if ed.AssignedAt.IsZero() {
		ed.AssignedAt = time.Now().UTC()
	}
	res, err := p.db.ExecContext(ctx, `INSERT INTO event_drivers (id, event_id, driver_id, vehicle_id, status, notes, assigned_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (event_id, driver_id) DO NOTHING`,
		ed.ID, ed.EventID, ed.DriverID, nullIfEmpty(ed.VehicleID), string(ed.Status), nullIfEmpty(ed.Notes), ed.AssignedAt)
	if err != nil {
		return model.EventDriver{}, fmt.Errorf("insert event driver: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.EventDriver{}, fmt.Errorf("driver %s already on event %s: %w", ed.DriverID, ed.EventID, ErrConflict)
	}
	return ed, nil
}

func (p *Postgres) ListEventDrivers(ctx context.Context, eventID string, statuses ...model.EventDriverStatus) ([]model.EventDriver, error) {
	q := `SELECT * FROM event_drivers WHERE event_id=?`
	args := []any{eventID}
	if len(statuses) > 0 {
		ss := make([]string, len(statuses))
		for i, s := range statuses {
			ss[i] = string(s)
		}
		q += ` AND status IN (?)`
		args = append(args, ss)
	}
	q, args, err := sqlx.In(q+` ORDER BY assigned_at, id`, args...)
	if err != nil {
		return nil, err
	}
	rows := []eventDriverRow{}
	if err := p.db.SelectContext(ctx, &rows, p.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list event drivers: %w", err)
	}
	out := make([]model.EventDriver, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (p *Postgres) RemoveEventDriver(ctx context.Context, eventID, driverID string) error {
	return affected(p.db.ExecContext(ctx, `DELETE FROM event_drivers WHERE event_id=$1 AND driver_id=$2`, eventID, driverID))
}

// Routes

type routeRow struct {
	ID        string         `db:"id"`
	EventID   string         `db:"event_id"`
	DriverID  string         `db:"driver_id"`
	VehicleID sql.NullString `db:"vehicle_id"`
	RouteName string         `db:"route_name"`
	RouteData []byte         `db:"route_data"`
	RouteURL  sql.NullString `db:"route_url"`
	Status    string         `db:"status"`
	SentAt    sql.NullTime   `db:"sent_at"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (row routeRow) model() (model.OptimizedRoute, error) {
	r := model.OptimizedRoute{
		ID: row.ID, EventID: row.EventID, DriverID: row.DriverID, VehicleID: row.VehicleID.String,
		RouteName: row.RouteName, RouteURL: row.RouteURL.String, Status: model.RouteStatus(row.Status),
		CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
	if row.SentAt.Valid {
		t := row.SentAt.Time
		r.SentAt = &t
	}
	if len(row.RouteData) > 0 {
		if err := json.Unmarshal(row.RouteData, &r.RouteData); err != nil {
			return r, fmt.Errorf("decode route_data for %s: %w", row.ID, err)
		}
	}
	return r, nil
}

func (p *Postgres) CreateRoute(ctx context.Context, r model.OptimizedRoute) (model.OptimizedRoute, error) {
	r.ID = newID(r.ID)
	if r.Status == "" {
		r.Status = model.RouteDraft
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	data, err := json.Marshal(r.RouteData)
	if err != nil {
		return model.OptimizedRoute{}, err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO transport_routes (id, event_id, driver_id, vehicle_id, route_name, route_data, route_url, status, sent_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7,$8,$9,$10,$10)`,
		r.ID, r.EventID, r.DriverID, nullIfEmpty(r.VehicleID), r.RouteName, string(data), nullIfEmpty(r.RouteURL), string(r.Status), r.SentAt, now)
	if err != nil {
		return model.OptimizedRoute{}, fmt.Errorf("insert route: %w", err)
	}
	return r, nil
}

func (p *Postgres) GetRoute(ctx context.Context, id string) (model.OptimizedRoute, error) {
	var row routeRow
	if err := p.db.GetContext(ctx, &row, `SELECT * FROM transport_routes WHERE id=$1`, id); err != nil {
		return model.OptimizedRoute{}, notFound(err)
	}
	return row.model()
}

func (p *Postgres) ListRoutes(ctx context.Context, eventID string) ([]model.OptimizedRoute, error) {
	rows := []routeRow{}
	var err error
	if eventID != "" {
		err = p.db.SelectContext(ctx, &rows, `SELECT * FROM transport_routes WHERE event_id=$1 ORDER BY created_at, id`, eventID)
	} else {
		err = p.db.SelectContext(ctx, &rows, `SELECT * FROM transport_routes ORDER BY created_at, id`)
	}
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	out := make([]model.OptimizedRoute, 0, len(rows))
	for _, row := range rows {
		r, err := row.model()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (p *Postgres) UpdateRoute(ctx context.Context, r model.OptimizedRoute) (model.OptimizedRoute, error) {
	data, err := json.Marshal(r.RouteData)
	if err != nil {
		return model.OptimizedRoute{}, err
	}
	err = affected(p.db.ExecContext(ctx, `UPDATE transport_routes SET driver_id=$2, vehicle_id=$3, route_name=$4, route_data=$5::jsonb,
		route_url=$6, status=$7, sent_at=$8, updated_at=now() WHERE id=$1`,
		r.ID, r.DriverID, nullIfEmpty(r.VehicleID), r.RouteName, string(data), nullIfEmpty(r.RouteURL), string(r.Status), r.SentAt))
	if err != nil {
		return model.OptimizedRoute{}, err
	}
	return p.GetRoute(ctx, r.ID)
}

func (p *Postgres) DeleteDraftRoutes(ctx context.Context, eventID string) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM transport_routes WHERE event_id=$1 AND status='draft'`, eventID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	ev, _ := json.Marshal(req.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3::jsonb,$4)`, id, req.URL, string(ev), req.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

type subscriptionRow struct {
	ID     string `db:"id"`
	URL    string `db:"url"`
	Secret string `db:"secret"`
	Events []byte `db:"events"`
}

func (row subscriptionRow) model() model.Subscription {
	s := model.Subscription{ID: row.ID, URL: row.URL, Secret: row.Secret}
	_ = json.Unmarshal(row.Events, &s.Events)
	return s
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	rows := []subscriptionRow{}
	err := p.db.SelectContext(ctx, &rows, `SELECT id, url, secret, events FROM subscriptions WHERE events @> $1::jsonb OR events @> '["*"]'::jsonb`,
		fmt.Sprintf("[%q]", eventType))
	if err != nil {
		return nil, err
	}
	out := []model.Subscription{}
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows := []subscriptionRow{}
	err := p.db.SelectContext(ctx, &rows, `SELECT id, url, secret, events FROM subscriptions WHERE id > $1 ORDER BY id LIMIT $2`, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	var out []model.Subscription
	for _, row := range rows {
		out = append(out, row.model())
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	return affected(p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id))
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
		VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
		ON CONFLICT (event_type, url, dedup_key) DO NOTHING`, id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, computeDedupKey(payload))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, COALESCE(subscription_id,''), event_type, url, COALESCE(secret,''), payload, status, attempts
		FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
			id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`,
		id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO webhook_dlq (id, delivery_id, event_type, url, payload, attempts, last_error, response_code, latency_ms)
		SELECT $2, id, event_type, url, payload, attempts, last_error, response_code, latency_ms FROM webhook_deliveries WHERE id=$1`,
		id, uuid.New().String()); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM webhook_deliveries WHERE id > $1`
	args := []any{cursor}
	if status != "" {
		q += ` AND status=$2 ORDER BY id LIMIT $3`
		args = append(args, status, limit)
	} else {
		q += ` ORDER BY id LIMIT $2`
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []map[string]any{}
	var last string
	for rows.Next() {
		var id, typ, st, lastErr, url string
		var attempts int
		var nextAt sql.NullTime
		if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil {
			return nil, "", err
		}
		m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
		if nextAt.Valid {
			m["nextAttemptAt"] = nextAt.Time
		}
		if lastErr != "" {
			m["lastError"] = lastErr
		}
		out = append(out, m)
		last = id
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
	return affected(p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE id=$1`, id))
}

func (p *Postgres) ListWebhookDLQ(ctx context.Context, limit int) ([]map[string]any, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT COALESCE(delivery_id,''), event_type, url, COALESCE(last_error,''), attempts, created_at,
		COALESCE(response_code,0), COALESCE(latency_ms,0) FROM webhook_dlq ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		var delID, et, url, errStr string
		var attempts, code, latency int
		var created time.Time
		if err := rows.Scan(&delID, &et, &url, &errStr, &attempts, &created, &code, &latency); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{"deliveryId": delID, "eventType": et, "url": url, "lastError": errStr, "attempts": attempts, "createdAt": created, "responseCode": code, "latencyMs": latency})
	}
	return out, rows.Err()
}

// computeDedupKey prefers the payload's "id" field and falls back to a short content hash.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
