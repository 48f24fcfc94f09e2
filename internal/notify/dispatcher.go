package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

// Dispatcher 在事务提交之后投递通知。Dispatch 只把消息放入缓冲区，由 Run 在后台逐条投递。
// 投递失败只记录日志和计数，不会影响已经完成的业务操作，也不会重试
type Dispatcher struct {
	publisher Publisher
	timeout   time.Duration
	queue     chan domain.NotificationMessage
	failures  atomic.Int64
}

func NewDispatcher(publisher Publisher, timeout time.Duration, buffer int) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		timeout:   timeout,
		queue:     make(chan domain.NotificationMessage, buffer),
	}
}

// Dispatch 不会阻塞调用方，缓冲区已满时直接丢弃消息
func (d *Dispatcher) Dispatch(msgs ...domain.NotificationMessage) {
	for _, msg := range msgs {
		select {
		case d.queue <- msg:
		default:
			d.failures.Add(1)
			slog.Warn("通知缓冲区已满，丢弃消息", "kind", msg.Kind, "orgID", msg.OrgID, "recipientID", msg.RecipientID)
		}
	}
}

// Run 持续投递缓冲区中的消息。ctx 取消后把已经入队的消息投递完再返回
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case msg := <-d.queue:
			d.publish(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-d.queue:
					d.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) publish(msg domain.NotificationMessage) {
	// 请求的 context 在响应之后就会被取消，所以每条消息使用独立的 context
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.publisher.Publish(ctx, msg); err != nil {
		d.failures.Add(1)
		slog.Warn("通知投递失败", "kind", msg.Kind, "orgID", msg.OrgID, "recipientID", msg.RecipientID, "error", err)
	}
}

// Failures 返回投递失败和被丢弃的累计次数
func (d *Dispatcher) Failures() int64 {
	return d.failures.Load()
}
