package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
	"github.com/wneessen/go-mail"
)

var (
	// ErrUnsupportedKind 表示消息无法处理，消费者应当直接丢弃而不是重新入队
	ErrUnsupportedKind = errors.New("不支持的通知类型")
	// ErrPartialDelivery 表示部分收件人已经送达，重新入队会导致重复发送
	ErrPartialDelivery = errors.New("部分收件人发送失败")
)

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) error
}

type RecipientStore interface {
	GetRecipient(ctx context.Context, userID int64) (*domain.Recipient, error)
	ListRecipientsByRole(ctx context.Context, orgID int64, roles []domain.Role) ([]*domain.Recipient, error)
	CancelScheduledNotifications(ctx context.Context, assignmentID int64, types []string) (int64, error)
}

// Deliverer 负责把队列中的消息真正送达
type Deliverer struct {
	store  RecipientStore
	mailer Mailer
	sms    SMSSender
}

func NewDeliverer(store RecipientStore, mailer Mailer, sms SMSSender) *Deliverer {
	return &Deliverer{store: store, mailer: mailer, sms: sms}
}

func (d *Deliverer) Deliver(ctx context.Context, msg domain.NotificationMessage) error {
	switch msg.Kind {
	case domain.KindCancel:
		n, err := d.store.CancelScheduledNotifications(ctx, msg.AssignmentID, msg.ReminderTypes)
		if err != nil {
			return err
		}
		slog.Info("已撤销定时提醒", "assignmentID", msg.AssignmentID, "count", n)
		return nil
	case domain.KindNotify, domain.KindSMS:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, msg.Kind)
	}

	recipients, err := d.resolve(ctx, msg)
	if err != nil {
		return err
	}

	var (
		errs      []error
		delivered int
	)
	for _, r := range recipients {
		var err error
		switch msg.Kind {
		case domain.KindNotify:
			if r.Email == "" {
				slog.Warn("收件人没有邮箱，跳过", "userID", r.UserID)
				continue
			}
			err = d.mailer.Send(ctx, r.Email, msg.Title, msg.Body)
		case domain.KindSMS:
			if r.Phone == "" {
				slog.Warn("收件人没有手机号，跳过", "userID", r.UserID)
				continue
			}
			err = d.sms.SendSMS(ctx, r.Phone, msg.Body)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("userID %d: %w", r.UserID, err))
			continue
		}
		delivered++
	}

	if len(errs) > 0 && delivered > 0 {
		return fmt.Errorf("%w: %w", ErrPartialDelivery, errors.Join(errs...))
	}
	return errors.Join(errs...)
}

func (d *Deliverer) resolve(ctx context.Context, msg domain.NotificationMessage) ([]*domain.Recipient, error) {
	switch msg.Audience {
	case domain.AudienceOrgManagers:
		return d.store.ListRecipientsByRole(ctx, msg.OrgID, domain.ReviewerRoles)
	case domain.AudienceOrgAdmins:
		return d.store.ListRecipientsByRole(ctx, msg.OrgID, []domain.Role{domain.RoleAdmin, domain.RoleOwner})
	default:
		r, err := d.store.GetRecipient(ctx, msg.RecipientID)
		if err != nil {
			return nil, err
		}
		return []*domain.Recipient{r}, nil
	}
}

// SMTPMailer 使用 go-mail 发送纯文本邮件
type SMTPMailer struct {
	client *mail.Client
	from   string
}

func NewSMTPMailer(client *mail.Client, from string) *SMTPMailer {
	return &SMTPMailer{client: client, from: from}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	return m.client.DialAndSendWithContext(ctx, msg)
}

// SMSGateway 通过 HTTP 短信网关发送短信
type SMSGateway struct {
	client *resty.Client
	sender string
}

type smsRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

func NewSMSGateway(baseURL, apiKey, sender string, timeout time.Duration) *SMSGateway {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &SMSGateway{client: client, sender: sender}
}

func (g *SMSGateway) SendSMS(ctx context.Context, phone, message string) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(smsRequest{From: g.sender, To: phone, Text: message}).
		Post("/messages")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("短信网关返回错误: %s", resp.Status())
	}
	return nil
}
