package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/oauth2"

	"eddie.energy/internal/authz"
	"eddie.energy/internal/dataneed"
	"eddie.energy/internal/permission"
	"eddie.energy/internal/store"
)

// Store is the Postgres-backed permission request repository.
type Store struct {
	db *sql.DB
}

var (
	_ store.Repository = (*Store)(nil)
	_ authz.TokenStore = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle; used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const requestColumns = `permission_id, connection_id, data_need_id, metering_point_id, customer_id,
		usage_point_type, granularity, energy_type, status, coalesce(message,''),
		data_start, data_end, last_pulled_reading, created, status_changed_at`

func (s *Store) FindByPermissionID(ctx context.Context, permissionID string) (permission.PermissionRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+requestColumns+`
		from permission_requests where permission_id=$1
	`, permissionID)
	pr, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return permission.PermissionRequest{}, permission.ErrNotFound
	}
	if err != nil {
		return permission.PermissionRequest{}, err
	}
	if err := s.loadMeterReadings(ctx, &pr); err != nil {
		return permission.PermissionRequest{}, err
	}
	return pr, nil
}

func (s *Store) FindByStatus(ctx context.Context, status permission.Status) ([]permission.PermissionRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+requestColumns+`
		from permission_requests where status=$1
		order by created asc
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collect(ctx, rows)
}

func (s *Store) FindStale(ctx context.Context, olderThan time.Duration, statuses ...permission.Status) ([]permission.PermissionRequest, error) {
	// Terminal statuses never expire, regardless of the filter.
	var placeholders []string
	args := []any{olderThan.Seconds()}
	for _, status := range statuses {
		if status.Terminal() {
			continue
		}
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
		args = append(args, string(status))
	}
	if len(placeholders) == 0 {
		return nil, nil
	}
	query := `
		select ` + requestColumns + `
		from permission_requests
		where status in (` + strings.Join(placeholders, ",") + `)
		  and status_changed_at < now() - make_interval(secs => $1)
		order by status_changed_at asc
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collect(ctx, rows)
}

func (s *Store) Save(ctx context.Context, pr permission.PermissionRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into permission_requests(
			permission_id, connection_id, data_need_id, metering_point_id, customer_id,
			usage_point_type, granularity, energy_type, status, message,
			data_start, data_end, last_pulled_reading, created, status_changed_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,nullif($10,''),$11,$12,$13,$14,$15)
		on conflict (permission_id) do update set
			connection_id=excluded.connection_id,
			data_need_id=excluded.data_need_id,
			metering_point_id=excluded.metering_point_id,
			customer_id=excluded.customer_id,
			usage_point_type=excluded.usage_point_type,
			granularity=excluded.granularity,
			energy_type=excluded.energy_type,
			status=excluded.status,
			message=excluded.message,
			data_start=excluded.data_start,
			data_end=excluded.data_end,
			last_pulled_reading=excluded.last_pulled_reading,
			status_changed_at=excluded.status_changed_at
	`,
		pr.PermissionID, pr.ConnectionID, pr.DataNeedID, pr.MeteringPointID, pr.CustomerID,
		pr.UsagePointType, string(pr.Granularity), string(pr.EnergyType), string(pr.Status), pr.Message,
		nullTime(pr.Start), nullTime(pr.End), ptrTime(pr.LastPulledReading), pr.Created, pr.StatusChangedAt,
	); err != nil {
		return err
	}

	for meter, reading := range pr.LastReadings {
		if _, err := tx.ExecContext(ctx, `
			insert into permission_meter_readings(permission_id, meter_id, last_reading)
			values ($1,$2,$3)
			on conflict (permission_id, meter_id) do update set last_reading=excluded.last_reading
		`, pr.PermissionID, meter, reading); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveOAuthToken persists the delegated-authorization token for a permission.
func (s *Store) SaveOAuthToken(ctx context.Context, permissionID string, tok *oauth2.Token) error {
	_, err := s.db.ExecContext(ctx, `
		insert into oauth_tokens(permission_id, access_token, refresh_token, expiry, issued_at)
		values ($1,$2,$3,$4,now())
		on conflict (permission_id) do update set
			access_token=excluded.access_token,
			refresh_token=excluded.refresh_token,
			expiry=excluded.expiry,
			issued_at=excluded.issued_at
	`, permissionID, tok.AccessToken, tok.RefreshToken, tok.Expiry)
	return err
}

// OAuthToken loads the stored token for a permission, or authz.ErrNoToken.
func (s *Store) OAuthToken(ctx context.Context, permissionID string) (*oauth2.Token, error) {
	tok := &oauth2.Token{TokenType: "Bearer"}
	err := s.db.QueryRowContext(ctx, `
		select access_token, refresh_token, expiry from oauth_tokens where permission_id=$1
	`, permissionID).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.Expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNoToken
	}
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (permission.PermissionRequest, error) {
	var pr permission.PermissionRequest
	var granularity, energyType, status string
	var dataStart, dataEnd, lastPulled sql.NullTime
	err := row.Scan(
		&pr.PermissionID, &pr.ConnectionID, &pr.DataNeedID, &pr.MeteringPointID, &pr.CustomerID,
		&pr.UsagePointType, &granularity, &energyType, &status, &pr.Message,
		&dataStart, &dataEnd, &lastPulled, &pr.Created, &pr.StatusChangedAt,
	)
	if err != nil {
		return permission.PermissionRequest{}, err
	}
	pr.Granularity = dataneed.Granularity(granularity)
	pr.EnergyType = dataneed.EnergyType(energyType)
	pr.Status = permission.Status(status)
	if dataStart.Valid {
		pr.Start = dataStart.Time
	}
	if dataEnd.Valid {
		pr.End = dataEnd.Time
	}
	if lastPulled.Valid {
		ts := lastPulled.Time
		pr.LastPulledReading = &ts
	}
	return pr, nil
}

func (s *Store) collect(ctx context.Context, rows *sql.Rows) ([]permission.PermissionRequest, error) {
	var res []permission.PermissionRequest
	for rows.Next() {
		pr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if err := s.loadMeterReadings(ctx, &res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Store) loadMeterReadings(ctx context.Context, pr *permission.PermissionRequest) error {
	rows, err := s.db.QueryContext(ctx, `
		select meter_id, last_reading from permission_meter_readings where permission_id=$1
	`, pr.PermissionID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var meter string
		var reading time.Time
		if err := rows.Scan(&meter, &reading); err != nil {
			return err
		}
		if pr.LastReadings == nil {
			pr.LastReadings = make(map[string]time.Time)
		}
		pr.LastReadings[meter] = reading
	}
	return rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func ptrTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
