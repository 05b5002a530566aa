package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/curator/internal/playbook"
)

// Bullet lifecycle states as stored.
const (
	StateActive   = "active"
	StateArchived = "archived"
)

// SaveSnapshot replaces the stored playbook with the given collections in a
// single transaction. The position column preserves collection order, which
// the merge and retrieval semantics depend on.
func (db *DB) SaveSnapshot(active, archived []*playbook.Bullet) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM bullets"); err != nil {
		return fmt.Errorf("clear bullets: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO bullets (id, content, bullet_type, helpful_count, harmful_count,
		                     created_at, last_used_at, usage_timeline, task_types_used,
		                     state, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare bullet insert: %w", err)
	}
	defer stmt.Close()

	for i, b := range active {
		if err := insertBullet(stmt, b, StateActive, i); err != nil {
			return err
		}
	}
	for i, b := range archived {
		if err := insertBullet(stmt, b, StateArchived, i); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func insertBullet(stmt *sql.Stmt, b *playbook.Bullet, state string, position int) error {
	timeline := make([]string, len(b.UsageTimeline))
	for i, used := range b.UsageTimeline {
		timeline[i] = used.Format(time.RFC3339Nano)
	}
	timelineJSON, err := json.Marshal(timeline)
	if err != nil {
		return fmt.Errorf("encode timeline for %s: %w", b.ID, err)
	}

	tasks := b.TaskTypesUsed
	if tasks == nil {
		tasks = []string{}
	}
	tasksJSON, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("encode task types for %s: %w", b.ID, err)
	}

	_, err = stmt.Exec(
		b.ID, b.Content, b.BulletType, b.HelpfulCount, b.HarmfulCount,
		b.CreatedAt.Format(time.RFC3339Nano), b.LastUsedAt.Format(time.RFC3339Nano),
		string(timelineJSON), string(tasksJSON), state, position,
	)
	if err != nil {
		return fmt.Errorf("insert bullet %s: %w", b.ID, err)
	}
	return nil
}

// LoadSnapshot reads the stored playbook back, active and archived bullets
// each in their saved order. Rows that no longer parse fail the whole load
// with playbook.ErrInvalidBullet rather than silently dropping history.
func (db *DB) LoadSnapshot() (active, archived []*playbook.Bullet, err error) {
	rows, err := db.Query(`
		SELECT id, content, bullet_type, helpful_count, harmful_count,
		       created_at, last_used_at, usage_timeline, task_types_used, state
		FROM bullets
		ORDER BY state, position
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("query bullets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			b                    playbook.Bullet
			createdAt, lastUsed  string
			timelineRaw, taskRaw string
			state                string
		)
		if err := rows.Scan(&b.ID, &b.Content, &b.BulletType, &b.HelpfulCount, &b.HarmfulCount,
			&createdAt, &lastUsed, &timelineRaw, &taskRaw, &state); err != nil {
			return nil, nil, fmt.Errorf("scan bullet: %w", err)
		}
		if err := hydrateBullet(&b, createdAt, lastUsed, timelineRaw, taskRaw); err != nil {
			return nil, nil, err
		}

		if state == StateArchived {
			archived = append(archived, &b)
		} else {
			active = append(active, &b)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate bullets: %w", err)
	}
	return active, archived, nil
}

// hydrateBullet parses the string columns of a bullet row into the bullet.
func hydrateBullet(b *playbook.Bullet, createdAt, lastUsed, timelineRaw, taskRaw string) error {
	if b.HelpfulCount < 0 || b.HarmfulCount < 0 {
		return fmt.Errorf("bullet %s: %w: negative counter", b.ID, playbook.ErrInvalidBullet)
	}

	var err error
	if b.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return fmt.Errorf("bullet %s: %w: bad created_at: %v", b.ID, playbook.ErrInvalidBullet, err)
	}
	if b.LastUsedAt, err = time.Parse(time.RFC3339Nano, lastUsed); err != nil {
		return fmt.Errorf("bullet %s: %w: bad last_used_at: %v", b.ID, playbook.ErrInvalidBullet, err)
	}

	var timeline []string
	if err := json.Unmarshal([]byte(timelineRaw), &timeline); err != nil {
		return fmt.Errorf("bullet %s: %w: bad usage_timeline: %v", b.ID, playbook.ErrInvalidBullet, err)
	}
	for _, raw := range timeline {
		used, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmt.Errorf("bullet %s: %w: bad timeline entry: %v", b.ID, playbook.ErrInvalidBullet, err)
		}
		b.UsageTimeline = append(b.UsageTimeline, used)
	}

	var tasks []string
	if err := json.Unmarshal([]byte(taskRaw), &tasks); err != nil {
		return fmt.Errorf("bullet %s: %w: bad task_types_used: %v", b.ID, playbook.ErrInvalidBullet, err)
	}
	if len(tasks) > 0 {
		b.TaskTypesUsed = tasks
	}
	return nil
}

// CountBullets returns how many bullets are stored in the given state.
func (db *DB) CountBullets(state string) (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM bullets WHERE state = ?", state).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bullets: %w", err)
	}
	return n, nil
}
