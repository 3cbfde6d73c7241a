// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 保持期間を過ぎた期限切れセッションと、確認されないまま放置された
// アカウントを定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// デフォルトの保持期間
const (
	DefaultSessionRetention     = 7 * 24 * time.Hour
	DefaultUnconfirmedRetention = 7 * 24 * time.Hour
)

// SessionPurger は期限切れセッションを削除する。repository.SessionRepositoryが満たす。
type SessionPurger interface {
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}

// UserPurger は未確認アカウントを削除する。repository.UserRepositoryが満たす。
type UserPurger interface {
	DeleteUnconfirmedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Recorder は削除件数と失敗を記録する。metrics.Collectorが実装する。
type Recorder interface {
	RecordCleanupDeleted(kind string, count int64)
	RecordCleanupFailure()
}

// CleanupJob は期限切れデータの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	sessions SessionPurger
	users    UserPurger
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	SessionRetention     time.Duration // 期限切れ後にセッションを残す期間
	UnconfirmedRetention time.Duration // 未確認アカウントを残す期間
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(sessions SessionPurger, users UserPurger, recorder Recorder, logger *slog.Logger) *CleanupJob {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions:             sessions,
		users:                users,
		recorder:             recorder,
		logger:               logger,
		now:                  time.Now,
		SessionRetention:     DefaultSessionRetention,
		UnconfirmedRetention: DefaultUnconfirmedRetention,
	}
}

// Run は1回分の削除を実行する。
// セッションの削除に失敗してもアカウントの削除は試み、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()

	var firstErr error
	if err := j.purge(ctx, "sessions", j.SessionRetention, j.sessions.DeleteExpiredBefore); err != nil {
		firstErr = err
	}
	if err := j.purge(ctx, "unconfirmed_users", j.UnconfirmedRetention, j.users.DeleteUnconfirmedBefore); err != nil && firstErr == nil {
		firstErr = err
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
		slog.Bool("failed", firstErr != nil),
	)
	return firstErr
}

func (j *CleanupJob) purge(ctx context.Context, kind string, retention time.Duration, del func(context.Context, time.Time) (int64, error)) error {
	cutoff := j.now().Add(-retention)
	deleted, err := del(ctx, cutoff)
	if err != nil {
		j.recorder.RecordCleanupFailure()
		j.logger.Error("クリーンアップの実行に失敗しました",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to clean up %s: %w", kind, err)
	}

	j.recorder.RecordCleanupDeleted(kind, deleted)
	j.logger.Info("期限切れデータを削除しました",
		slog.String("kind", kind),
		slog.Int64("deleted_count", deleted),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// Start は起動直後に1回実行し、その後intervalごとにRunを繰り返す。
// ctxがキャンセルされると戻る。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *CleanupJob) runOnce(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordCleanupDeleted(string, int64) {}
func (nopRecorder) RecordCleanupFailure()              {}
