package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"hetzner_bot/internal/model"
	"hetzner_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SyncOffers reconciles a fetched offer batch against the persisted set.
// Each offer is committed in its own transaction so a crash mid-batch
// leaves a consistent prefix; the final mass deactivation runs once the
// whole batch is in.
func (s *SQLite) SyncOffers(ctx context.Context, offers []model.Offer) error {
	for i := range offers {
		if err := s.syncOffer(ctx, &offers[i]); err != nil {
			return fmt.Errorf("sync offer %d: %w", offers[i].ID, err)
		}
	}

	query := `UPDATE offer SET deactivated = 1 WHERE deactivated = 0`
	args := make([]any, 0, len(offers))
	if len(offers) > 0 {
		query += ` AND id NOT IN (` + placeholders(len(offers)) + `)`
		for _, o := range offers {
			args = append(args, o.ID)
		}
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deactivate stale offers: %w", err)
	}
	return nil
}

func (s *SQLite) syncOffer(ctx context.Context, offer *model.Offer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)

	var oldPrice int
	existed := true
	err = tx.QueryRowContext(ctx, `SELECT price FROM offer WHERE id = ?`, offer.ID).Scan(&oldPrice)
	switch {
	case err == sql.ErrNoRows:
		existed = false
	case err != nil:
		return fmt.Errorf("lookup offer: %w", err)
	}

	if existed {
		_, err = tx.ExecContext(ctx,
			`UPDATE offer SET deactivated = 0, cpu = ?, ram = ?, datacenter = ?,
			        ecc = ?, inic = ?, hwr = ?, ipv4 = ?
			 WHERE id = ?`,
			offer.CPU, offer.RAM, nullString(offer.Datacenter),
			boolToInt(offer.ECC), boolToInt(offer.INic), boolToInt(offer.HWR), boolToInt(offer.IPv4),
			offer.ID,
		)
		if err != nil {
			return fmt.Errorf("update offer: %w", err)
		}
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO offer (id, deactivated, cpu, ram, datacenter, ecc, inic, hwr, ipv4, price, last_update)
			 VALUES (?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			offer.ID, offer.CPU, offer.RAM, nullString(offer.Datacenter),
			boolToInt(offer.ECC), boolToInt(offer.INic), boolToInt(offer.HWR), boolToInt(offer.IPv4),
			offer.Price, now,
		)
		if err != nil {
			return fmt.Errorf("insert offer: %w", err)
		}
	}

	if err := syncDisks(ctx, tx, offer.ID, offer.Disks); err != nil {
		return err
	}

	// A changed price means every subscriber matching this offer has to be
	// told again, this time framed as a price change instead of a new offer.
	if existed && oldPrice != offer.Price {
		if _, err := tx.ExecContext(ctx,
			`UPDATE offer SET price = ?, last_update = ? WHERE id = ?`,
			offer.Price, now, offer.ID,
		); err != nil {
			return fmt.Errorf("update price: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE offer_subscriber SET notified = 0, is_new = 0 WHERE offer_id = ?`,
			offer.ID,
		); err != nil {
			return fmt.Errorf("reset match flags: %w", err)
		}
	}

	return tx.Commit()
}

// syncDisks replaces the disk groups of an offer wholesale, but only when
// the stored set of (type, size, amount) triples actually differs.
func syncDisks(ctx context.Context, tx *sql.Tx, offerID int64, disks []model.DiskGroup) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT type, size, amount FROM offer_disk WHERE offer_id = ?`, offerID,
	)
	if err != nil {
		return fmt.Errorf("query disks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	old := make(map[model.DiskGroup]struct{})
	for rows.Next() {
		var g model.DiskGroup
		var typ string
		if err := rows.Scan(&typ, &g.Size, &g.Amount); err != nil {
			return fmt.Errorf("scan disk: %w", err)
		}
		g.Type = model.DiskType(typ)
		old[g] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate disks: %w", err)
	}

	if diskSetEqual(old, disks) {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM offer_disk WHERE offer_id = ?`, offerID); err != nil {
		return fmt.Errorf("delete disks: %w", err)
	}
	for _, g := range disks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO offer_disk (offer_id, type, size, amount) VALUES (?, ?, ?, ?)`,
			offerID, string(g.Type), g.Size, g.Amount,
		); err != nil {
			return fmt.Errorf("insert disk: %w", err)
		}
	}
	return nil
}

func diskSetEqual(old map[model.DiskGroup]struct{}, disks []model.DiskGroup) bool {
	if len(old) != len(disks) {
		return false
	}
	for _, g := range disks {
		if _, ok := old[g]; !ok {
			return false
		}
	}
	return true
}

// ListActiveOffers returns all non-deactivated offers with their disk groups.
func (s *SQLite) ListActiveOffers(ctx context.Context) ([]model.Offer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deactivated, cpu, ram, datacenter, ecc, inic, hwr, ipv4, price, last_update
		 FROM offer WHERE deactivated = 0 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query offers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var offers []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range offers {
		if offers[i].Disks, err = s.loadDisks(ctx, offers[i].ID); err != nil {
			return nil, err
		}
	}
	return offers, nil
}

// GetOffer returns a single offer with its disk groups.
func (s *SQLite) GetOffer(ctx context.Context, id int64) (*model.Offer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, deactivated, cpu, ram, datacenter, ecc, inic, hwr, ipv4, price, last_update
		 FROM offer WHERE id = ?`, id,
	)
	o, err := scanOffer(row)
	if err != nil {
		return nil, err
	}
	if o.Disks, err = s.loadDisks(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *SQLite) loadDisks(ctx context.Context, offerID int64) ([]model.DiskGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, size, amount FROM offer_disk WHERE offer_id = ? ORDER BY type, size`, offerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query disks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var disks []model.DiskGroup
	for rows.Next() {
		var g model.DiskGroup
		var typ string
		if err := rows.Scan(&typ, &g.Size, &g.Amount); err != nil {
			return nil, fmt.Errorf("scan disk: %w", err)
		}
		g.Type = model.DiskType(typ)
		disks = append(disks, g)
	}
	return disks, rows.Err()
}

// GetOrCreateSubscriber returns the subscriber for a chat, creating it with
// the default filter configuration on first contact.
func (s *SQLite) GetOrCreateSubscriber(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscriber (chat_id) VALUES (?)`, chatID,
	); err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}
	return s.getSubscriber(ctx, chatID)
}

func (s *SQLite) getSubscriber(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, active, authorized, hdd_count, hdd_size, raid, after_raid,
		        price, ram, datacenter, ecc, inic, hwr, ipv4,
		        threads, release_date, multi_rating, single_rating
		 FROM subscriber WHERE chat_id = ?`, chatID,
	)
	return scanSubscriber(row)
}

// UpdateSubscriber persists all mutable fields of a subscriber.
func (s *SQLite) UpdateSubscriber(ctx context.Context, sub *model.Subscriber) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriber SET active = ?, authorized = ?, hdd_count = ?, hdd_size = ?,
		        raid = ?, after_raid = ?, price = ?, ram = ?, datacenter = ?,
		        ecc = ?, inic = ?, hwr = ?, ipv4 = ?,
		        threads = ?, release_date = ?, multi_rating = ?, single_rating = ?
		 WHERE chat_id = ?`,
		boolToInt(sub.Active), boolToInt(sub.Authorized), sub.HDDCount, sub.HDDSize,
		string(sub.Raid), sub.AfterRaid, sub.Price, sub.RAM, nullString(sub.Datacenter),
		boolToInt(sub.ECC), boolToInt(sub.INic), boolToInt(sub.HWR), boolToInt(sub.IPv4),
		sub.Threads, sub.ReleaseDate, sub.MultiRating, sub.SingleRating,
		sub.ChatID,
	)
	if err != nil {
		return fmt.Errorf("update subscriber: %w", err)
	}
	return nil
}

// DeleteSubscriber removes a subscriber and its match relations.
func (s *SQLite) DeleteSubscriber(ctx context.Context, chatID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM offer_subscriber WHERE subscriber_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete match relations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriber WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	return tx.Commit()
}

// ListNotifiableSubscribers returns all active, authorized subscribers.
func (s *SQLite) ListNotifiableSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, active, authorized, hdd_count, hdd_size, raid, after_raid,
		        price, ram, datacenter, ecc, inic, hwr, ipv4,
		        threads, release_date, multi_rating, single_rating
		 FROM subscriber WHERE active = 1 AND authorized = 1 ORDER BY chat_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// SyncSubscriberMatches reconciles the match relation rows of one subscriber
// with the given offer id set in a single transaction.
func (s *SQLite) SyncSubscriberMatches(ctx context.Context, chatID int64, offerIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	for _, id := range offerIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO offer_subscriber (offer_id, subscriber_id, notified, is_new, created_at)
			 VALUES (?, ?, 0, 1, ?)`,
			id, chatID, now,
		); err != nil {
			return fmt.Errorf("insert match relation: %w", err)
		}
	}

	query := `DELETE FROM offer_subscriber WHERE subscriber_id = ?`
	args := []any{chatID}
	if len(offerIDs) > 0 {
		query += ` AND offer_id NOT IN (` + placeholders(len(offerIDs)) + `)`
		for _, id := range offerIDs {
			args = append(args, id)
		}
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("prune match relations: %w", err)
	}

	return tx.Commit()
}

// ListSubscriberMatches returns the subscriber's match relations with the
// full offer loaded, ordered by offer id.
func (s *SQLite) ListSubscriberMatches(ctx context.Context, chatID int64) ([]model.MatchedOffer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT o.id, o.deactivated, o.cpu, o.ram, o.datacenter, o.ecc, o.inic, o.hwr, o.ipv4,
		        o.price, o.last_update, os.notified, os.is_new
		 FROM offer_subscriber os
		 JOIN offer o ON o.id = os.offer_id
		 WHERE os.subscriber_id = ?
		 ORDER BY o.id`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []model.MatchedOffer
	for rows.Next() {
		var m model.MatchedOffer
		var deactivated, ecc, inic, hwr, ipv4, notified, isNew int
		var datacenter sql.NullString
		var lastUpdate string
		err := rows.Scan(&m.Offer.ID, &deactivated, &m.Offer.CPU, &m.Offer.RAM, &datacenter,
			&ecc, &inic, &hwr, &ipv4, &m.Offer.Price, &lastUpdate, &notified, &isNew)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		m.Offer.Deactivated = deactivated == 1
		m.Offer.ECC = ecc == 1
		m.Offer.INic = inic == 1
		m.Offer.HWR = hwr == 1
		m.Offer.IPv4 = ipv4 == 1
		m.Offer.Datacenter = datacenter.String
		m.Offer.LastUpdate, _ = time.Parse(timeLayout, lastUpdate)
		m.Notified = notified == 1
		m.IsNew = isNew == 1
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range matches {
		if matches[i].Offer.Disks, err = s.loadDisks(ctx, matches[i].Offer.ID); err != nil {
			return nil, err
		}
	}
	return matches, nil
}

// MarkNotified flags the given match relations as delivered. Delivered
// matches also lose their "new" status, so a later price change is framed
// as a change rather than a new offer.
func (s *SQLite) MarkNotified(ctx context.Context, chatID int64, offerIDs []int64) error {
	if len(offerIDs) == 0 {
		return nil
	}
	args := []any{chatID}
	for _, id := range offerIDs {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE offer_subscriber SET notified = 1, is_new = 0
		 WHERE subscriber_id = ? AND offer_id IN (`+placeholders(len(offerIDs))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

// UpsertCPU inserts or replaces benchmark reference data for a processor.
func (s *SQLite) UpsertCPU(ctx context.Context, cpu model.CPU) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cpu (name, threads, release_date, multi_rating, single_rating)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET threads = excluded.threads,
		        release_date = excluded.release_date,
		        multi_rating = excluded.multi_rating,
		        single_rating = excluded.single_rating`,
		cpu.Name, cpu.Threads, cpu.ReleaseDate, cpu.MultiRating, cpu.SingleRating,
	)
	if err != nil {
		return fmt.Errorf("upsert cpu: %w", err)
	}
	return nil
}

// ListCPUs returns all CPU reference rows keyed by processor name.
func (s *SQLite) ListCPUs(ctx context.Context) (map[string]model.CPU, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, threads, release_date, multi_rating, single_rating FROM cpu`,
	)
	if err != nil {
		return nil, fmt.Errorf("query cpus: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cpus := make(map[string]model.CPU)
	for rows.Next() {
		var c model.CPU
		if err := rows.Scan(&c.Name, &c.Threads, &c.ReleaseDate, &c.MultiRating, &c.SingleRating); err != nil {
			return nil, fmt.Errorf("scan cpu: %w", err)
		}
		cpus[c.Name] = c
	}
	return cpus, rows.Err()
}

// ListUnknownCPUNames returns the distinct processor names of active offers
// for which no benchmark reference data exists.
func (s *SQLite) ListUnknownCPUNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT cpu FROM offer
		 WHERE deactivated = 0 AND cpu NOT IN (SELECT name FROM cpu)
		 ORDER BY cpu`,
	)
	if err != nil {
		return nil, fmt.Errorf("query unknown cpus: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan cpu name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanOffer(row scannable) (*model.Offer, error) {
	var o model.Offer
	var deactivated, ecc, inic, hwr, ipv4 int
	var datacenter sql.NullString
	var lastUpdate string
	err := row.Scan(&o.ID, &deactivated, &o.CPU, &o.RAM, &datacenter,
		&ecc, &inic, &hwr, &ipv4, &o.Price, &lastUpdate)
	if err != nil {
		return nil, fmt.Errorf("scan offer: %w", err)
	}
	o.Deactivated = deactivated == 1
	o.ECC = ecc == 1
	o.INic = inic == 1
	o.HWR = hwr == 1
	o.IPv4 = ipv4 == 1
	o.Datacenter = datacenter.String
	o.LastUpdate, _ = time.Parse(timeLayout, lastUpdate)
	return &o, nil
}

func scanSubscriber(row scannable) (*model.Subscriber, error) {
	var sub model.Subscriber
	var active, authorized, ecc, inic, hwr, ipv4 int
	var raid string
	var datacenter sql.NullString
	err := row.Scan(&sub.ChatID, &active, &authorized, &sub.HDDCount, &sub.HDDSize,
		&raid, &sub.AfterRaid, &sub.Price, &sub.RAM, &datacenter,
		&ecc, &inic, &hwr, &ipv4,
		&sub.Threads, &sub.ReleaseDate, &sub.MultiRating, &sub.SingleRating)
	if err != nil {
		return nil, fmt.Errorf("scan subscriber: %w", err)
	}
	sub.Active = active == 1
	sub.Authorized = authorized == 1
	sub.Raid = model.RaidMode(raid)
	sub.Datacenter = datacenter.String
	sub.ECC = ecc == 1
	sub.INic = inic == 1
	sub.HWR = hwr == 1
	sub.IPv4 = ipv4 == 1
	return &sub, nil
}
