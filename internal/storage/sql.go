package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // Postgres driver registration.
	_ "modernc.org/sqlite" // SQLite driver registration.

	"gameclaim/internal/model"
	"gameclaim/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

const defaultOpTimeout = 10 * time.Second

// SQL implements Storage on top of database/sql for SQLite and Postgres.
type SQL struct {
	db        *sql.DB
	driver    string
	opTimeout time.Duration
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQL, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return open(db, "sqlite")
}

// NewPostgres connects to a Postgres database and runs pending migrations.
func NewPostgres(dsn string) (*SQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return open(db, "postgres")
}

func open(db *sql.DB, driver string) (*SQL, error) {
	if err := migrations.Run(db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQL{db: db, driver: driver, opTimeout: defaultOpTimeout}, nil
}

// SetOpTimeout bounds every single persistence operation.
func (s *SQL) SetOpTimeout(d time.Duration) {
	if d > 0 {
		s.opTimeout = d
	}
}

// Close closes the underlying database connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQL) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *SQL) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// rebind rewrites ? placeholders into $n for Postgres.
func (s *SQL) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQL) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQL) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// ListDestinations returns every configured destination in registry order.
func (s *SQL) ListDestinations(ctx context.Context) ([]model.Destination, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.query(ctx,
		`SELECT guild_id, channel_id, platform, ping_roles, created_at, updated_at
		 FROM guild_settings ORDER BY created_at, guild_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query destinations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// GetDestination returns the destination of one guild.
func (s *SQL) GetDestination(ctx context.Context, guildID string) (*model.Destination, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.queryRow(ctx,
		`SELECT guild_id, channel_id, platform, ping_roles, created_at, updated_at
		 FROM guild_settings WHERE guild_id = ?`, guildID,
	)
	return scanDestination(row)
}

// UpsertDestination creates or replaces the destination of a guild.
// CreatedAt survives updates.
func (s *SQL) UpsertDestination(ctx context.Context, d *model.Destination) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if d.Platform == "" {
		d.Platform = model.PlatformDiscord
	}
	pings := d.PingTargets
	if pings == nil {
		pings = []string{}
	}
	raw, err := json.Marshal(pings)
	if err != nil {
		return fmt.Errorf("encode ping targets: %w", err)
	}

	now := time.Now().UTC().Format(timeLayout)
	_, err = s.exec(ctx,
		`INSERT INTO guild_settings (guild_id, channel_id, platform, ping_roles, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (guild_id) DO UPDATE SET
		   channel_id = excluded.channel_id,
		   platform = excluded.platform,
		   ping_roles = excluded.ping_roles,
		   updated_at = excluded.updated_at`,
		d.GuildID, d.ChannelID, string(d.Platform), string(raw), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert destination: %w", err)
	}
	d.UpdatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// DeleteDestination removes the destination of a guild. Deleting an absent guild is a no-op.
func (s *SQL) DeleteDestination(ctx context.Context, guildID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, err := s.exec(ctx, `DELETE FROM guild_settings WHERE guild_id = ?`, guildID); err != nil {
		return fmt.Errorf("delete destination: %w", err)
	}
	return nil
}

// IsNotified checks whether an offer has already been delivered to a guild.
func (s *SQL) IsNotified(ctx context.Context, guildID, offerKey string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var count int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM sent_games WHERE guild_id = ? AND offer_key = ?`,
		guildID, offerKey,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check notified: %w", err)
	}
	return count > 0, nil
}

// RecordNotified stores a delivered offer. Duplicates are ignored.
func (s *SQL) RecordNotified(ctx context.Context, rec model.NotificationRecord) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	notified := rec.NotifiedAt
	if notified.IsZero() {
		notified = time.Now()
	}
	announced := rec.AnnouncedAt
	if announced.IsZero() {
		announced = notified
	}
	res, err := s.exec(ctx,
		`INSERT INTO sent_games (guild_id, offer_key, title, url, announced_at, notified_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (guild_id, offer_key) DO NOTHING`,
		rec.GuildID, rec.OfferKey, rec.Title, rec.URL,
		announced.UTC().Format(timeLayout), notified.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("record notified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// PurgeNotifiedBefore deletes ledger records delivered before cutoff.
func (s *SQL) PurgeNotifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.exec(ctx,
		`DELETE FROM sent_games WHERE notified_at < ?`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("purge notified: %w", err)
	}
	return res.RowsAffected()
}

// ListTrackings returns every active tracking subscription.
func (s *SQL) ListTrackings(ctx context.Context) ([]model.TrackingSubscription, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.query(ctx,
		`SELECT id, user_id, channel_id, game_id, game_name, mode, created_at
		 FROM trackings ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query trackings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTrackings(rows)
}

// ListTrackingsForUser returns the active subscriptions of one user.
func (s *SQL) ListTrackingsForUser(ctx context.Context, userID string) ([]model.TrackingSubscription, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.query(ctx,
		`SELECT id, user_id, channel_id, game_id, game_name, mode, created_at
		 FROM trackings WHERE user_id = ? ORDER BY id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query user trackings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTrackings(rows)
}

// GetTracking returns a single subscription by its ID.
func (s *SQL) GetTracking(ctx context.Context, id int64) (*model.TrackingSubscription, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.queryRow(ctx,
		`SELECT id, user_id, channel_id, game_id, game_name, mode, created_at
		 FROM trackings WHERE id = ?`, id,
	)
	return scanTracking(row)
}

// CreateTracking inserts a new subscription and populates its ID and CreatedAt.
func (s *SQL) CreateTracking(ctx context.Context, sub *model.TrackingSubscription) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.insertTracking(ctx, s.db, sub)
}

// ReplaceTrackings deletes every subscription of sub's user and inserts sub
// in one transaction. It returns the deleted subscriptions.
func (s *SQL) ReplaceTrackings(ctx context.Context, sub *model.TrackingSubscription) (replaced []model.TrackingSubscription, err error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, s.rebind(
		`SELECT id, user_id, channel_id, game_id, game_name, mode, created_at
		 FROM trackings WHERE user_id = ? ORDER BY id`), sub.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("query user trackings: %w", err)
	}
	replaced, err = scanTrackings(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM trackings WHERE user_id = ?`), sub.UserID); err != nil {
		return nil, fmt.Errorf("delete user trackings: %w", err)
	}
	if err = s.insertTracking(ctx, tx, sub); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return replaced, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQL) insertTracking(ctx context.Context, q rowQuerier, sub *model.TrackingSubscription) error {
	now := time.Now().UTC().Format(timeLayout)
	var id int64
	err := q.QueryRowContext(ctx, s.rebind(
		`INSERT INTO trackings (user_id, channel_id, game_id, game_name, mode, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		sub.UserID, sub.ChannelID, sub.GameID, sub.GameName, string(sub.Mode), now,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert tracking: %w", err)
	}
	sub.ID = id
	sub.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// DeleteTracking removes a subscription by its ID.
func (s *SQL) DeleteTracking(ctx context.Context, id int64) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, err := s.exec(ctx, `DELETE FROM trackings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete tracking: %w", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDestination(row scannable) (*model.Destination, error) {
	var d model.Destination
	var platform, pings, created, updated string
	err := row.Scan(&d.GuildID, &d.ChannelID, &platform, &pings, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan destination: %w", err)
	}
	d.Platform = model.Platform(platform)
	// Malformed ping lists degrade to no mentions.
	if err := json.Unmarshal([]byte(pings), &d.PingTargets); err != nil || len(d.PingTargets) == 0 {
		d.PingTargets = nil
	}
	d.CreatedAt, _ = time.Parse(timeLayout, created)
	d.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &d, nil
}

func scanTracking(row scannable) (*model.TrackingSubscription, error) {
	var t model.TrackingSubscription
	var mode, created string
	err := row.Scan(&t.ID, &t.UserID, &t.ChannelID, &t.GameID, &t.GameName, &mode, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tracking: %w", err)
	}
	t.Mode = model.TrackMode(mode)
	t.CreatedAt, _ = time.Parse(timeLayout, created)
	return &t, nil
}

func scanTrackings(rows *sql.Rows) ([]model.TrackingSubscription, error) {
	var out []model.TrackingSubscription
	for rows.Next() {
		t, err := scanTracking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
