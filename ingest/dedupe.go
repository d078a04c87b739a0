// Package ingest is the center-side alert intake: a gin surface backed by
// redis duplicate/rate filtering, the Postgres alert store, and a bounded
// background scoring pool.
package ingest

import (
	"context"
	"time"

	"github.com/cardeasec/cardea/alert"
	"github.com/cardeasec/cardea/config"
	"github.com/cardeasec/cardea/util"
	"github.com/redis/go-redis/v9"
)

const (
	redisOpTimeout  = time.Second
	dedupePrefix    = "dedupe:"
	throttlePrefix  = "throttle:"
	minuteKeyLayout = "200601021504"
)

// Deduper filters duplicate and over-rate alerts through redis. A duplicate
// is an alert whose (source, type, description) hash was admitted within the
// dedupe window; the rate ceiling counts admissions per wall-clock minute.
type Deduper struct {
	client *redis.Client
	cfg    *config.Config
	now    func() time.Time
}

func NewDeduper(client *redis.Client, cfg *config.Config) *Deduper {
	return &Deduper{client: client, cfg: cfg, now: time.Now}
}

// DedupeKey derives the duplicate-filter key for one alert
func DedupeKey(built alert.Alert) (string, error) {
	hash, err := util.NewFixedStringHash(built.Source, built.AlertType, built.Description)
	if err != nil {
		return "", err
	}
	return dedupePrefix + hash.Hex(), nil
}

// Admit reports whether the alert passes both filters. The duplicate check
// and the minute counter run in one transaction; the dedupe key is only set
// once the alert is actually admitted. Redis failures fail open so intake
// never drops alerts over infrastructure trouble.
func (d *Deduper) Admit(ctx context.Context, built alert.Alert) (bool, error) {
	key, err := DedupeKey(built)
	if err != nil {
		return false, err
	}

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	throttleKey := throttlePrefix + d.now().UTC().Format(minuteKeyLayout)

	pipe := d.client.TxPipeline()
	duplicate := pipe.Exists(opCtx, key)
	count := pipe.Incr(opCtx, throttleKey)
	pipe.Expire(opCtx, throttleKey, time.Minute)
	if _, err := pipe.Exec(opCtx); err != nil {
		return true, err
	}

	if duplicate.Val() > 0 {
		return false, nil
	}
	if count.Val() > int64(d.cfg.Oracle.RateLimitPerMinute) {
		return false, nil
	}

	window := time.Duration(d.cfg.Oracle.DedupeWindowSeconds) * time.Second
	if err := d.client.Set(opCtx, key, "1", window).Err(); err != nil {
		return true, err
	}
	return true, nil
}
