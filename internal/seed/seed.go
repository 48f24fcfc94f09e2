// Package seed 向开发环境写入一套可以直接打卡的演示数据
package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

type Store interface {
	CreateUser(ctx context.Context, orgID int64, role domain.Role, recipient *domain.Recipient) error
	CreateVenue(ctx context.Context, venue *domain.Venue) error
	CreateShift(ctx context.Context, shift *domain.Shift) error
	CreateAssignment(ctx context.Context, a *domain.ShiftAssignment) error
	UpsertOrgSettings(ctx context.Context, settings *domain.OrgSettings) error
	ScheduleNotification(ctx context.Context, orgID, assignmentID int64, kind string, sendAt time.Time) error
}

type Member struct {
	Role      domain.Role
	Recipient domain.Recipient
}

var memberHeaders = []string{"姓名", "邮箱", "手机", "角色"}

// ReadMembers 读取成员表，表头必须包含 姓名、邮箱、手机、角色 四列，顺序不限
func ReadMembers(r io.Reader) ([]Member, error) {
	reader := csv.NewReader(r)

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}

	index := make(map[string]int, len(headers))
	for i, header := range headers {
		index[strings.TrimSpace(header)] = i
	}
	for _, h := range memberHeaders {
		if _, ok := index[h]; !ok {
			return nil, fmt.Errorf("没有找到列: %s", h)
		}
	}

	members := []Member{}
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}

		role := domain.Role(strings.TrimSpace(row[index["角色"]]))
		switch role {
		case domain.RoleWorker, domain.RoleManager, domain.RoleAdmin, domain.RoleOwner:
		default:
			return nil, fmt.Errorf("第 %d 行的角色不合法: %q", line, role)
		}

		name := strings.TrimSpace(row[index["姓名"]])
		if name == "" {
			return nil, fmt.Errorf("第 %d 行缺少姓名", line)
		}

		members = append(members, Member{
			Role: role,
			Recipient: domain.Recipient{
				FullName: name,
				Email:    strings.TrimSpace(row[index["邮箱"]]),
				Phone:    strings.TrimSpace(row[index["手机"]]),
			},
		})
	}

	return members, nil
}

type Options struct {
	OrgID                int64
	VenueName            string
	Latitude             float64
	Longitude            float64
	GeofenceRadius       int
	ShiftStart           time.Time
	ShiftLength          time.Duration
	PriceCents           int64
	ClockInBufferMinutes int
	GraceMinutes         int
}

type Result struct {
	Members     []Member
	Venue       *domain.Venue
	Shift       *domain.Shift
	Assignments []*domain.ShiftAssignment
}

// Demo 创建组织配置、场地、一个班次，并把成员表中的所有 worker 分配到这个班次
func Demo(ctx context.Context, store Store, members []Member, opts Options) (*Result, error) {
	if opts.ShiftLength <= 0 {
		return nil, errors.New("班次时长必须大于 0")
	}

	settings := &domain.OrgSettings{
		OrgID:                opts.OrgID,
		ClockInBufferMinutes: opts.ClockInBufferMinutes,
		GraceMinutes:         opts.GraceMinutes,
	}
	if err := store.UpsertOrgSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("写入组织配置失败: %w", err)
	}

	result := &Result{Members: make([]Member, 0, len(members))}
	workers := []int64{}
	for _, m := range members {
		if err := store.CreateUser(ctx, opts.OrgID, m.Role, &m.Recipient); err != nil {
			return nil, fmt.Errorf("插入成员 %s 失败: %w", m.Recipient.FullName, err)
		}
		if m.Role == domain.RoleWorker {
			workers = append(workers, m.Recipient.UserID)
		}
		result.Members = append(result.Members, m)
	}

	lat, lon := opts.Latitude, opts.Longitude
	venue := &domain.Venue{
		OrgID:          opts.OrgID,
		Name:           opts.VenueName,
		Latitude:       &lat,
		Longitude:      &lon,
		GeofenceRadius: opts.GeofenceRadius,
	}
	if err := store.CreateVenue(ctx, venue); err != nil {
		return nil, fmt.Errorf("插入场地失败: %w", err)
	}
	result.Venue = venue

	status := domain.ShiftPublished
	if len(workers) > 0 {
		status = domain.ShiftAssigned
	}
	shift := &domain.Shift{
		OrgID:      opts.OrgID,
		VenueID:    venue.ID,
		Status:     status,
		StartTime:  opts.ShiftStart,
		EndTime:    opts.ShiftStart.Add(opts.ShiftLength),
		PriceCents: opts.PriceCents,
	}
	if err := store.CreateShift(ctx, shift); err != nil {
		return nil, fmt.Errorf("插入班次失败: %w", err)
	}
	result.Shift = shift

	for _, workerID := range workers {
		rate := opts.PriceCents
		a := &domain.ShiftAssignment{
			ShiftID:            shift.ID,
			WorkerID:           workerID,
			Status:             domain.AssignmentActive,
			BudgetRateSnapshot: &rate,
		}
		if err := store.CreateAssignment(ctx, a); err != nil {
			return nil, fmt.Errorf("插入分配失败: %w", err)
		}
		result.Assignments = append(result.Assignments, a)

		// 签到后这两条提醒会被撤销
		reminders := map[string]time.Time{
			domain.ReminderShiftStart:  shift.StartTime.Add(-settings.ClockInBuffer()),
			domain.ReminderLateWarning: shift.StartTime.Add(settings.Grace()),
		}
		for kind, sendAt := range reminders {
			if err := store.ScheduleNotification(ctx, opts.OrgID, a.ID, kind, sendAt); err != nil {
				return nil, fmt.Errorf("插入定时提醒失败: %w", err)
			}
		}
	}

	return result, nil
}
