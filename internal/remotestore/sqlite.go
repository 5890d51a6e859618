package remotestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"beaconrelay/gateway/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteClient is a local driver with the same surface as the remote service.
// It exists for development without network access and for the read side's
// tests; its failures are never classified as retryable.
type SQLiteClient struct {
	db    *sql.DB
	table string
}

// OpenSQLite initializes the local database, creating directories as needed.
func OpenSQLite(path, table string) (*SQLiteClient, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	c := &SQLiteClient{db: db, table: table}
	if err := c.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the underlying database handle.
func (c *SQLiteClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *SQLiteClient) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS beacon_records (
			record_id TEXT NOT NULL,
			captured_at_millis INTEGER NOT NULL,
			captured_at_iso TEXT NOT NULL,
			source_key TEXT NOT NULL,
			signal_strength INTEGER NOT NULL,
			reference_power INTEGER,
			estimated_distance REAL,
			proximity_category TEXT NOT NULL,
			source_address TEXT,
			origin_id TEXT NOT NULL,
			origin_name TEXT,
			origin_location TEXT,
			raw_payload TEXT,
			PRIMARY KEY (record_id, captured_at_millis)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_beacon_records_origin_time ON beacon_records(origin_id, captured_at_millis);`,
	}

	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// PutRecord implements Client.
func (c *SQLiteClient) PutRecord(ctx context.Context, rec model.BeaconRecord) error {
	var location sql.NullString
	if rec.OriginLocation != nil {
		raw, err := json.Marshal(rec.OriginLocation)
		if err != nil {
			return &Error{Kind: KindValidation, Op: "put record", Err: err}
		}
		location = sql.NullString{String: string(raw), Valid: true}
	}

	var refPower sql.NullInt64
	if rec.ReferencePower != nil {
		refPower = sql.NullInt64{Int64: int64(*rec.ReferencePower), Valid: true}
	}

	var distance sql.NullFloat64
	if rec.EstimatedDistance != nil {
		distance = sql.NullFloat64{Float64: *rec.EstimatedDistance, Valid: true}
	}

	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO beacon_records (record_id, captured_at_millis, captured_at_iso, source_key, signal_strength,
			reference_power, estimated_distance, proximity_category, source_address, origin_id, origin_name,
			origin_location, raw_payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.RecordID,
		rec.CapturedAtMillis,
		rec.CapturedAtISO,
		rec.SourceKey,
		rec.SignalStrength,
		refPower,
		distance,
		rec.ProximityCategory,
		rec.SourceAddress,
		rec.OriginID,
		rec.OriginName,
		location,
		string(rec.RawPayload),
	)
	if err != nil {
		return &Error{Kind: KindUnknown, Op: "put record", Err: err}
	}
	return nil
}

// Describe implements Client. A reachable local database is always ready.
func (c *SQLiteClient) Describe(ctx context.Context) (TableInfo, error) {
	var count int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM beacon_records;`).Scan(&count); err != nil {
		return TableInfo{}, &Error{Kind: KindUnavailable, Op: "describe", Err: err}
	}
	return TableInfo{Name: c.table, Status: StatusReady, RecordCount: count}, nil
}

// QueryRecent implements Client.
func (c *SQLiteClient) QueryRecent(ctx context.Context, originID string, since time.Time) ([]model.BeaconRecord, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT record_id, captured_at_millis, captured_at_iso, source_key, signal_strength, reference_power,
			estimated_distance, proximity_category, source_address, origin_id, origin_name, origin_location, raw_payload
		 FROM beacon_records
		 WHERE origin_id = ? AND captured_at_millis >= ?
		 ORDER BY captured_at_millis ASC;`,
		originID,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Op: "query recent", Err: err}
	}
	defer rows.Close()

	var records []model.BeaconRecord
	for rows.Next() {
		var (
			rec       model.BeaconRecord
			refPower  sql.NullInt64
			distance  sql.NullFloat64
			address   sql.NullString
			name      sql.NullString
			location  sql.NullString
			rawString sql.NullString
		)

		if err := rows.Scan(&rec.RecordID, &rec.CapturedAtMillis, &rec.CapturedAtISO, &rec.SourceKey,
			&rec.SignalStrength, &refPower, &distance, &rec.ProximityCategory, &address,
			&rec.OriginID, &name, &location, &rawString); err != nil {
			return nil, &Error{Kind: KindUnknown, Op: "query recent", Err: fmt.Errorf("scan record: %w", err)}
		}

		if refPower.Valid {
			v := int(refPower.Int64)
			rec.ReferencePower = &v
		}
		if distance.Valid {
			v := distance.Float64
			rec.EstimatedDistance = &v
		}
		rec.SourceAddress = address.String
		rec.OriginName = name.String
		if location.Valid && location.String != "" {
			var loc model.Location
			if err := json.Unmarshal([]byte(location.String), &loc); err == nil {
				rec.OriginLocation = &loc
			}
		}
		if rawString.Valid && rawString.String != "" {
			rec.RawPayload = json.RawMessage(rawString.String)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, &Error{Kind: KindUnknown, Op: "query recent", Err: fmt.Errorf("iterate records: %w", err)}
	}
	return records, nil
}

// Open selects a driver from the endpoint: "sqlite:<path>" opens the local
// driver, anything else is handed to the HTTP client.
func Open(endpoint, table, region, token string) (Client, error) {
	if path, ok := strings.CutPrefix(endpoint, "sqlite:"); ok {
		return OpenSQLite(path, table)
	}
	return NewHTTP(endpoint, table, region, token)
}
