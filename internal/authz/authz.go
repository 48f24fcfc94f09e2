package authz

import (
	"slices"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

// RequireRole 统一的权限检查，orgID 用于确认调用者属于被操作的组织
func RequireRole(actor domain.Actor, orgID int64, roles []domain.Role) error {
	if actor.OrgID != orgID {
		return domain.ErrForbidden
	}
	if !slices.Contains(roles, actor.Role) {
		return domain.ErrForbidden.WithDetails(map[string]any{"role": actor.Role})
	}
	return nil
}
