// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 対象はPurgerとして渡し、一定間隔で削除を実行する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Purger は期限切れデータを削除し、削除件数を返す。
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// CleanupJob は期限切れデータの定期削除ジョブ。
// 冪等な削除処理を前提とする。
type CleanupJob struct {
	name     string
	target   Purger
	logger   *slog.Logger
	Interval time.Duration // 実行間隔（デフォルト: 1分）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// nameはログに出力する対象名。
func NewCleanupJob(name string, target Purger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		name:     name,
		target:   target,
		logger:   logger,
		Interval: time.Minute,
	}
}

// Run は削除を1回実行する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.target.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error("cleanup job failed",
			slog.String("target", j.name),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to purge %s: %w", j.name, err)
	}

	j.logger.Debug("cleanup job completed",
		slog.String("target", j.name),
		slog.Int("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	)

	return nil
}

// Start はctxがキャンセルされるまでInterval毎にRunを実行する。
// 個々の実行エラーはログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
