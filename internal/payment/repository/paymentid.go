package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bookline-app/bookline/internal/lock"
	"gorm.io/gorm"
)

const (
	idPrefix     = "PAY"
	idLockTTL    = 5 * time.Second
	idMaxRetries = 5
)

// NextID issues the next PAY-YEAR-SEQ identifier. The read of the current
// year count and the insert that follows are not atomic, so the whole
// issuance runs under a cross-process lock keyed by year. Uniqueness is
// still verified afterwards; on collision the sequence is bumped, and after
// a bounded number of retries a timestamp suffix keeps latency bounded.
func (r *repo) NextID(ctx context.Context, conn *gorm.DB, now time.Time) (string, error) {
	year := now.UTC().Year()
	key := fmt.Sprintf("paymentid:%d", year)

	token, err := lock.Acquire(ctx, r.locker, key, idLockTTL)
	if err != nil {
		return "", err
	}
	defer func() { _ = r.locker.Release(ctx, key, token) }()

	var count int64
	if err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payments WHERE id LIKE ?`,
		fmt.Sprintf("%s-%d-%%", idPrefix, year),
	).Scan(&count).Error; err != nil {
		return "", err
	}

	seq := count + 1
	for attempt := 0; attempt < idMaxRetries; attempt++ {
		candidate := fmt.Sprintf("%s-%d-%06d", idPrefix, year, seq)
		taken, err := r.idExists(ctx, conn, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		seq++
	}

	// Bounded fallback: still prefixed and year-scoped, sortable enough.
	return fmt.Sprintf("%s-%d-T%d", idPrefix, year, now.UTC().UnixNano()), nil
}

func (r *repo) idExists(ctx context.Context, conn *gorm.DB, id string) (bool, error) {
	var count int64
	if err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payments WHERE id = ?`,
		id,
	).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
