// Package sweeper 定时执行与请求无关的后台任务。每个任务只依赖当前时间和存储，重复执行不会重复处理
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/cache"
)

// Task 处理截至 now 需要处理的数据，返回处理的条数
type Task struct {
	Name string
	Run  func(ctx context.Context, now time.Time) (int64, error)
}

// Locker 用于多个副本之间避免重复执行同一任务，拿不到租约时跳过本轮
type Locker interface {
	AcquireLease(ctx context.Context, name string, ttl time.Duration) (*cache.Lease, error)
	ReleaseLease(ctx context.Context, lease *cache.Lease) error
}

type Escalator interface {
	EscalateStale(ctx context.Context, now time.Time) (int, error)
	AutoApproveEscalated(ctx context.Context, now time.Time) (int, error)
}

type PingPurger interface {
	DeletePingsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func EscalateTask(e Escalator) Task {
	return Task{
		Name: "escalate_corrections",
		Run: func(ctx context.Context, now time.Time) (int64, error) {
			n, err := e.EscalateStale(ctx, now)
			return int64(n), err
		},
	}
}

func AutoApproveTask(e Escalator) Task {
	return Task{
		Name: "auto_approve_corrections",
		Run: func(ctx context.Context, now time.Time) (int64, error) {
			n, err := e.AutoApproveEscalated(ctx, now)
			return int64(n), err
		},
	}
}

func PurgePingsTask(p PingPurger, retention time.Duration) Task {
	return Task{
		Name: "purge_location_pings",
		Run: func(ctx context.Context, now time.Time) (int64, error) {
			return p.DeletePingsBefore(ctx, now.Add(-retention))
		},
	}
}

type ShiftCompleter interface {
	CompleteEndedShifts(ctx context.Context, now time.Time, defaultGrace time.Duration) (int64, error)
}

// CompleteShiftsTask 结束已经过了计划结束时间的班次，使缺勤和忘记签退的班次也能进入审批
func CompleteShiftsTask(c ShiftCompleter, defaultGrace time.Duration) Task {
	return Task{
		Name: "complete_ended_shifts",
		Run: func(ctx context.Context, now time.Time) (int64, error) {
			return c.CompleteEndedShifts(ctx, now, defaultGrace)
		},
	}
}

type Runner struct {
	locker   Locker
	leaseTTL time.Duration
	now      func() time.Time
}

func NewRunner(locker Locker, leaseTTL time.Duration) *Runner {
	return &Runner{locker: locker, leaseTTL: leaseTTL, now: time.Now}
}

func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// RunOnce 执行一次任务。locker 为空时直接执行
func (r *Runner) RunOnce(ctx context.Context, task Task) (int64, error) {
	if r.locker != nil {
		lease, err := r.locker.AcquireLease(ctx, task.Name, r.leaseTTL)
		if err != nil {
			// 租约只是为了减少重复工作，Redis 不可用时照常执行
			slog.Warn("无法获取任务租约", "task", task.Name, "error", err)
		} else if lease == nil {
			slog.Debug("任务正在其他进程执行，跳过本轮", "task", task.Name)
			return 0, nil
		} else {
			defer func() {
				if err := r.locker.ReleaseLease(context.Background(), lease); err != nil {
					slog.Warn("无法释放任务租约", "task", task.Name, "error", err)
				}
			}()
		}
	}

	n, err := task.Run(ctx, r.now())
	if err != nil {
		return n, err
	}
	if n > 0 {
		slog.Info("后台任务执行完成", "task", task.Name, "count", n)
	}
	return n, nil
}

// Every 按固定间隔执行任务直到 ctx 被取消。启动时立即执行一次
func (r *Runner) Every(ctx context.Context, interval time.Duration, task Task) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx, task); err != nil {
			slog.Error("后台任务执行失败", "task", task.Name, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
