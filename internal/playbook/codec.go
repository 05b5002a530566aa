package playbook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidBullet is returned when a serialized bullet record is missing
// required fields or carries values that cannot be real history, such as
// negative counters or unparseable timestamps.
var ErrInvalidBullet = errors.New("invalid bullet record")

// bulletJSON is the wire form of a bullet. Exactly these nine keys, with
// timestamps as RFC 3339 strings, so records survive storage and transport
// in any JSON-speaking system.
type bulletJSON struct {
	ID            string   `json:"id"`
	Content       string   `json:"content"`
	BulletType    string   `json:"bullet_type"`
	HelpfulCount  int      `json:"helpful_count"`
	HarmfulCount  int      `json:"harmful_count"`
	CreatedAt     string   `json:"created_at"`
	LastUsedAt    string   `json:"last_used_at"`
	UsageTimeline []string `json:"usage_timeline"`
	TaskTypesUsed []string `json:"task_types_used"`
}

// MarshalJSON emits the nine-key wire form. Empty histories encode as []
// rather than null so every record has the same shape.
func (b Bullet) MarshalJSON() ([]byte, error) {
	timeline := make([]string, len(b.UsageTimeline))
	for i, used := range b.UsageTimeline {
		timeline[i] = used.Format(time.RFC3339Nano)
	}
	tasks := b.TaskTypesUsed
	if tasks == nil {
		tasks = []string{}
	}
	return json.Marshal(bulletJSON{
		ID:            b.ID,
		Content:       b.Content,
		BulletType:    b.BulletType,
		HelpfulCount:  b.HelpfulCount,
		HarmfulCount:  b.HarmfulCount,
		CreatedAt:     b.CreatedAt.Format(time.RFC3339Nano),
		LastUsedAt:    b.LastUsedAt.Format(time.RFC3339Nano),
		UsageTimeline: timeline,
		TaskTypesUsed: tasks,
	})
}

// DecodeBullet parses one bullet record strictly: all nine keys must be
// present (null counts as absent), timestamps must parse as RFC 3339, and
// counters must be non-negative. Anything else fails with ErrInvalidBullet.
// Lenient decoding for partial records, such as incoming merge deltas, goes
// through plain json.Unmarshal into Bullet instead.
func DecodeBullet(data []byte) (*Bullet, error) {
	var rec struct {
		ID            *string   `json:"id"`
		Content       *string   `json:"content"`
		BulletType    *string   `json:"bullet_type"`
		HelpfulCount  *int      `json:"helpful_count"`
		HarmfulCount  *int      `json:"harmful_count"`
		CreatedAt     *string   `json:"created_at"`
		LastUsedAt    *string   `json:"last_used_at"`
		UsageTimeline *[]string `json:"usage_timeline"`
		TaskTypesUsed *[]string `json:"task_types_used"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBullet, err)
	}

	for field, present := range map[string]bool{
		"id":              rec.ID != nil,
		"content":         rec.Content != nil,
		"bullet_type":     rec.BulletType != nil,
		"helpful_count":   rec.HelpfulCount != nil,
		"harmful_count":   rec.HarmfulCount != nil,
		"created_at":      rec.CreatedAt != nil,
		"last_used_at":    rec.LastUsedAt != nil,
		"usage_timeline":  rec.UsageTimeline != nil,
		"task_types_used": rec.TaskTypesUsed != nil,
	} {
		if !present {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidBullet, field)
		}
	}
	if *rec.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidBullet)
	}
	if *rec.HelpfulCount < 0 || *rec.HarmfulCount < 0 {
		return nil, fmt.Errorf("%w: negative counter", ErrInvalidBullet)
	}

	createdAt, err := parseStamp("created_at", *rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	lastUsedAt, err := parseStamp("last_used_at", *rec.LastUsedAt)
	if err != nil {
		return nil, err
	}

	b := &Bullet{
		ID:           *rec.ID,
		Content:      *rec.Content,
		BulletType:   *rec.BulletType,
		HelpfulCount: *rec.HelpfulCount,
		HarmfulCount: *rec.HarmfulCount,
		CreatedAt:    createdAt,
		LastUsedAt:   lastUsedAt,
	}
	for i, raw := range *rec.UsageTimeline {
		used, err := parseStamp(fmt.Sprintf("usage_timeline[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		b.UsageTimeline = append(b.UsageTimeline, used)
	}
	if len(*rec.TaskTypesUsed) > 0 {
		b.TaskTypesUsed = append(b.TaskTypesUsed, *rec.TaskTypesUsed...)
	}
	return b, nil
}

// DecodeBullets decodes a JSON array of bullet records with the same
// strictness as DecodeBullet, reporting the index of the first bad record.
func DecodeBullets(data []byte) ([]*Bullet, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBullet, err)
	}
	bullets := make([]*Bullet, 0, len(raws))
	for i, raw := range raws {
		b, err := DecodeBullet(raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		bullets = append(bullets, b)
	}
	return bullets, nil
}

func parseStamp(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad %s: %v", ErrInvalidBullet, field, err)
	}
	return t, nil
}
