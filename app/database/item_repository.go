package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lysyi3m/rss-digest/app/canonical"
)

// timeLayout is fixed-width so that TEXT comparison in SQL orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ItemRepository handles database operations for seen items and their
// per-task discard and per-recipient delivery records.
type ItemRepository struct {
	db  *DB
	now func() time.Time
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db, now: time.Now}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// AddItem records the first sighting of an item. It returns false when the
// canonical identity is already stored; the stored record is left untouched.
func (r *ItemRepository) AddItem(item NewItem) (bool, error) {
	id := canonical.Canonicalize(item.ID)
	if id == "" {
		return false, fmt.Errorf("failed to add item: empty identity")
	}

	var published sql.NullString
	if item.PublishedAt != nil {
		published = sql.NullString{String: formatTime(*item.PublishedAt), Valid: true}
	}

	res, err := r.db.Exec(`
		INSERT INTO items (item_id, title, link, source, published_at, retrieved_at, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO NOTHING
	`, id, item.Title, item.Link, item.Source, published, formatTime(r.now()), item.ContentHash)
	if err != nil {
		return false, fmt.Errorf("failed to add item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected > 0, nil
}

// GetItem returns the stored record for an identity, or nil if absent.
func (r *ItemRepository) GetItem(itemID string) (*Item, error) {
	var (
		item      Item
		published sql.NullString
		retrieved string
		processed int
	)

	err := r.db.QueryRow(`
		SELECT item_id, COALESCE(title, ''), COALESCE(link, ''), COALESCE(source, ''),
		       published_at, retrieved_at, COALESCE(content_hash, ''), processed
		FROM items WHERE item_id = ?
	`, canonical.Canonicalize(itemID)).Scan(
		&item.ID, &item.Title, &item.Link, &item.Source,
		&published, &retrieved, &item.ContentHash, &processed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	if item.RetrievedAt, err = parseTime(retrieved); err != nil {
		return nil, fmt.Errorf("failed to parse retrieved_at: %w", err)
	}
	if published.Valid {
		t, err := parseTime(published.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse published_at: %w", err)
		}
		item.PublishedAt = &t
	}
	item.Processed = processed != 0

	return &item, nil
}

func (r *ItemRepository) Exists(itemID string) (bool, error) {
	return r.exists("failed to check item existence",
		`SELECT 1 FROM items WHERE item_id = ?`, canonical.Canonicalize(itemID))
}

// MarkProcessed flags an item as evaluated. Returns false if the item is unknown.
func (r *ItemRepository) MarkProcessed(itemID string) (bool, error) {
	res, err := r.db.Exec(`UPDATE items SET processed = 1 WHERE item_id = ?`, canonical.Canonicalize(itemID))
	if err != nil {
		return false, fmt.Errorf("failed to mark item processed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected > 0, nil
}

func (r *ItemRepository) IsProcessed(itemID string) (bool, error) {
	return r.exists("failed to check processed flag",
		`SELECT 1 FROM items WHERE item_id = ? AND processed = 1`, canonical.Canonicalize(itemID))
}

func (r *ItemRepository) GetProcessedIDs() ([]string, error) {
	rows, err := r.db.Query(`SELECT item_id FROM items WHERE processed = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed items: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate processed items: %w", err)
	}

	return ids, nil
}

// MarkDiscardedForTask records that a task's evaluation rejected the item.
// Repeating the call refreshes the timestamp.
func (r *ItemRepository) MarkDiscardedForTask(itemID, taskID string) error {
	_, err := r.db.Exec(`
		INSERT INTO discarded_items (item_id, task_id, discarded_at) VALUES (?, ?, ?)
		ON CONFLICT(item_id, task_id) DO UPDATE SET discarded_at = excluded.discarded_at
	`, canonical.Canonicalize(itemID), taskID, formatTime(r.now()))
	if err != nil {
		return fmt.Errorf("failed to mark item discarded: %w", err)
	}
	return nil
}

func (r *ItemRepository) IsDiscardedForTask(itemID, taskID string) (bool, error) {
	return r.exists("failed to check discard record",
		`SELECT 1 FROM discarded_items WHERE item_id = ? AND task_id = ?`,
		canonical.Canonicalize(itemID), taskID)
}

// MarkSentToRecipient records a successful delivery. Repeating the call
// refreshes the timestamp.
func (r *ItemRepository) MarkSentToRecipient(itemID, recipient, taskID string) error {
	_, err := r.db.Exec(`
		INSERT INTO sent_items (item_id, recipient, task_id, sent_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id, recipient, task_id) DO UPDATE SET sent_at = excluded.sent_at
	`, canonical.Canonicalize(itemID), normalizeRecipient(recipient), taskID, formatTime(r.now()))
	if err != nil {
		return fmt.Errorf("failed to mark item sent: %w", err)
	}
	return nil
}

// IsSentToRecipient reports a delivery of the item to the recipient by any task.
func (r *ItemRepository) IsSentToRecipient(itemID, recipient string) (bool, error) {
	return r.exists("failed to check delivery record",
		`SELECT 1 FROM sent_items WHERE item_id = ? AND recipient = ?`,
		canonical.Canonicalize(itemID), normalizeRecipient(recipient))
}

func (r *ItemRepository) IsSentForTask(itemID, taskID string) (bool, error) {
	return r.exists("failed to check task delivery record",
		`SELECT 1 FROM sent_items WHERE item_id = ? AND task_id = ?`,
		canonical.Canonicalize(itemID), taskID)
}

// IsSentToAllRecipients is true only when every listed recipient already
// received the item. An empty recipient list is never "all sent".
func (r *ItemRepository) IsSentToAllRecipients(itemID string, recipients []string) (bool, error) {
	unique := make(map[string]struct{}, len(recipients))
	for _, rcpt := range recipients {
		if rcpt = normalizeRecipient(rcpt); rcpt != "" {
			unique[rcpt] = struct{}{}
		}
	}
	if len(unique) == 0 {
		return false, nil
	}

	id := canonical.Canonicalize(itemID)
	for rcpt := range unique {
		sent, err := r.IsSentToRecipient(id, rcpt)
		if err != nil {
			return false, err
		}
		if !sent {
			return false, nil
		}
	}

	return true, nil
}

// normalizeRecipient is the stored form of an address. Addresses compare
// case-insensitively, as the task registry does.
func normalizeRecipient(recipient string) string {
	return strings.ToLower(strings.TrimSpace(recipient))
}

// PurgeOlderThan deletes items retrieved more than days ago, together with
// any discard or delivery record that is itself older than the cutoff or
// belongs to a purged item. It returns the number of items removed.
func (r *ItemRepository) PurgeOlderThan(days int) (int, error) {
	if days <= 0 {
		return 0, fmt.Errorf("failed to purge items: retention must be positive, got %d", days)
	}

	cutoff := formatTime(r.now().Add(-time.Duration(days) * 24 * time.Hour))

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM discarded_items
		WHERE discarded_at < ?
		   OR item_id IN (SELECT item_id FROM items WHERE retrieved_at < ?)
	`, cutoff, cutoff); err != nil {
		return 0, fmt.Errorf("failed to purge discard records: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM sent_items
		WHERE sent_at < ?
		   OR item_id IN (SELECT item_id FROM items WHERE retrieved_at < ?)
	`, cutoff, cutoff); err != nil {
		return 0, fmt.Errorf("failed to purge delivery records: %w", err)
	}

	res, err := tx.Exec(`DELETE FROM items WHERE retrieved_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge items: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}

	return int(removed), nil
}

func (r *ItemRepository) GetStats() (Stats, error) {
	var stats Stats
	err := r.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM items),
			(SELECT COUNT(*) FROM items WHERE processed = 1),
			(SELECT COUNT(*) FROM discarded_items),
			(SELECT COUNT(*) FROM sent_items)
	`).Scan(&stats.Items, &stats.ProcessedItems, &stats.Discards, &stats.Deliveries)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

func (r *ItemRepository) exists(errMsg, query string, args ...any) (bool, error) {
	var one int
	err := r.db.QueryRow(query+" LIMIT 1", args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", errMsg, err)
	}
	return true, nil
}
