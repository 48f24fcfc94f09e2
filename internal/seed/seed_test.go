package seed

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/repository/memstore"
)

func TestReadMembers(t *testing.T) {
	f, err := os.Open("data/members.csv")
	require.NoError(t, err)
	defer f.Close()

	members, err := ReadMembers(f)
	require.NoError(t, err)
	require.Len(t, members, 5)

	assert.Equal(t, domain.RoleOwner, members[0].Role)
	assert.Equal(t, "林晓", members[0].Recipient.FullName)
	assert.Equal(t, "张浩然", members[4].Recipient.FullName)
	assert.Empty(t, members[4].Recipient.Email)
	assert.Equal(t, "+8613800000013", members[4].Recipient.Phone)
}

func TestReadMembers_ColumnOrder(t *testing.T) {
	input := "角色,手机,姓名,邮箱\nworker, +8613800000099 ,周宁,zhou@example.com\n"

	members, err := ReadMembers(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, domain.RoleWorker, members[0].Role)
	assert.Equal(t, "周宁", members[0].Recipient.FullName)
	assert.Equal(t, "+8613800000099", members[0].Recipient.Phone)
}

func TestReadMembers_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "missing column", input: "姓名,邮箱,角色\n周宁,zhou@example.com,worker\n", want: "手机"},
		{name: "bad role", input: "姓名,邮箱,手机,角色\n周宁,,+8613800000099,intern\n", want: "第 2 行"},
		{name: "missing name", input: "姓名,邮箱,手机,角色\n周宁,,,worker\n ,,,worker\n", want: "第 3 行"},
		{name: "empty file", input: "", want: "表头"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadMembers(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDemo(t *testing.T) {
	store := memstore.New()
	members := []Member{
		{Role: domain.RoleManager, Recipient: domain.Recipient{FullName: "陈默"}},
		{Role: domain.RoleWorker, Recipient: domain.Recipient{FullName: "王一帆"}},
		{Role: domain.RoleWorker, Recipient: domain.Recipient{FullName: "李思琪"}},
	}
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	result, err := Demo(context.Background(), store, members, Options{
		OrgID:                1,
		VenueName:            "东校园图书馆",
		Latitude:             23.0646,
		Longitude:            113.3925,
		GeofenceRadius:       150,
		ShiftStart:           start,
		ShiftLength:          4 * time.Hour,
		PriceCents:           3000,
		ClockInBufferMinutes: 20,
		GraceMinutes:         5,
	})
	require.NoError(t, err)

	require.Len(t, result.Members, 3)
	for _, m := range result.Members {
		assert.NotZero(t, m.Recipient.UserID)
	}

	shift := store.Shift(result.Shift.ID)
	require.NotNil(t, shift)
	assert.Equal(t, domain.ShiftAssigned, shift.Status)
	assert.Equal(t, start.Add(4*time.Hour), shift.EndTime)
	assert.Equal(t, result.Venue.ID, shift.VenueID)

	require.Len(t, result.Assignments, 2)
	for i, a := range result.Assignments {
		stored := store.Assignment(a.ID)
		require.NotNil(t, stored)
		assert.Equal(t, result.Members[i+1].Recipient.UserID, stored.WorkerID)
		assert.Equal(t, domain.AssignmentActive, stored.Status)
		assert.Equal(t, int64(3000), *stored.BudgetRateSnapshot)

		reminders := map[string]time.Time{}
		for _, r := range store.Reminders(a.ID) {
			reminders[r.Type] = r.SendAt
		}
		assert.Equal(t, map[string]time.Time{
			domain.ReminderShiftStart:  start.Add(-20 * time.Minute),
			domain.ReminderLateWarning: start.Add(5 * time.Minute),
		}, reminders)
	}
}

func TestDemo_NoWorkers(t *testing.T) {
	store := memstore.New()

	result, err := Demo(context.Background(), store, []Member{
		{Role: domain.RoleOwner, Recipient: domain.Recipient{FullName: "林晓"}},
	}, Options{OrgID: 1, ShiftStart: time.Now(), ShiftLength: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftPublished, result.Shift.Status)
	assert.Empty(t, result.Assignments)

	_, err = Demo(context.Background(), store, nil, Options{OrgID: 1, ShiftStart: time.Now()})
	assert.Error(t, err)
}
