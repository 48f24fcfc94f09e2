package domain

type Role string

const (
	RoleWorker  Role = "worker"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
	RoleOwner   Role = "owner"
)

// 可以审核工时、批准班次的角色
var ReviewerRoles = []Role{RoleManager, RoleAdmin, RoleOwner}

// Actor 是经过外部认证后的调用者
type Actor struct {
	ID    int64 `json:"id"`
	OrgID int64 `json:"orgID"`
	Role  Role  `json:"role"`
}

// SystemActorID 表示由后台任务发起的操作（例如超时自动批准）
const SystemActorID int64 = 0

type Recipient struct {
	UserID   int64  `json:"userID"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}
