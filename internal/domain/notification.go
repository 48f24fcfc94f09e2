package domain

type MessageKind string

const (
	KindNotify MessageKind = "notify"
	KindSMS    MessageKind = "sms"
	KindCancel MessageKind = "cancel"
)

// 收件人为整个组织的管理者时使用 AudienceOrgManagers，由 notifier 负责解析具体的人
const (
	AudienceUser        = "user"
	AudienceOrgManagers = "org_managers"
	AudienceOrgAdmins   = "org_admins"
)

// 定时提醒的类型，打卡后需要撤销
const (
	ReminderShiftStart  = "shift_start"
	ReminderLateWarning = "late_warning"
)

type NotificationMessage struct {
	Kind        MessageKind `json:"kind"`
	OrgID       int64       `json:"orgID"`
	Audience    string      `json:"audience,omitempty"`
	RecipientID int64       `json:"recipientID,omitempty"`
	Title       string      `json:"title,omitempty"`
	Body        string      `json:"body,omitempty"`

	// 仅 cancel 消息使用
	AssignmentID  int64    `json:"assignmentID,omitempty"`
	ReminderTypes []string `json:"reminderTypes,omitempty"`
}

func NotifyUser(orgID, userID int64, title, body string) NotificationMessage {
	return NotificationMessage{Kind: KindNotify, OrgID: orgID, Audience: AudienceUser, RecipientID: userID, Title: title, Body: body}
}

func NotifyManagers(orgID int64, title, body string) NotificationMessage {
	return NotificationMessage{Kind: KindNotify, OrgID: orgID, Audience: AudienceOrgManagers, Title: title, Body: body}
}

func NotifyAdmins(orgID int64, title, body string) NotificationMessage {
	return NotificationMessage{Kind: KindNotify, OrgID: orgID, Audience: AudienceOrgAdmins, Title: title, Body: body}
}

func SMSToUser(orgID, userID int64, body string) NotificationMessage {
	return NotificationMessage{Kind: KindSMS, OrgID: orgID, Audience: AudienceUser, RecipientID: userID, Body: body}
}

func CancelReminders(orgID, assignmentID int64, types ...string) NotificationMessage {
	return NotificationMessage{Kind: KindCancel, OrgID: orgID, AssignmentID: assignmentID, ReminderTypes: types}
}
