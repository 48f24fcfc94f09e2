// Package memstore 是 repository 的内存实现，条件更新的语义与 Postgres 版本一致，供测试和本地调试使用
package memstore

import (
	"cmp"
	"context"
	"database/sql"
	"slices"
	"sync"
	"time"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/repository"
)

type member struct {
	orgID     int64
	role      domain.Role
	recipient domain.Recipient
}

type Reminder struct {
	AssignmentID int64
	Type         string
	SendAt       time.Time
	Cancelled    bool
}

type Store struct {
	mu sync.Mutex

	nextID      int64
	shifts      map[int64]*domain.Shift
	venues      map[int64]*domain.Venue
	settings    map[int64]*domain.OrgSettings
	assignments map[int64]*domain.ShiftAssignment
	corrections map[int64]*domain.TimeCorrectionRequest
	members     map[int64]*member
	pings       []*domain.WorkerLocationPing
	audits      []*domain.AuditEvent
	reminders   []*Reminder
}

func New() *Store {
	return &Store{
		shifts:      make(map[int64]*domain.Shift),
		venues:      make(map[int64]*domain.Venue),
		settings:    make(map[int64]*domain.OrgSettings),
		assignments: make(map[int64]*domain.ShiftAssignment),
		corrections: make(map[int64]*domain.TimeCorrectionRequest),
		members:     make(map[int64]*member),
	}
}

func (s *Store) id(current int64) int64 {
	if current != 0 {
		s.nextID = max(s.nextID, current)
		return current
	}
	s.nextID++
	return s.nextID
}

/*** 初始化数据 ***/

func (s *Store) AddVenue(v domain.Venue) *domain.Venue {
	s.mu.Lock()
	defer s.mu.Unlock()

	v.ID = s.id(v.ID)
	s.venues[v.ID] = &v
	cp := v
	return &cp
}

func (s *Store) AddShift(sh domain.Shift) *domain.Shift {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh.ID = s.id(sh.ID)
	if sh.Version == 0 {
		sh.Version = 1
	}
	s.shifts[sh.ID] = &sh
	cp := sh
	return &cp
}

func (s *Store) AddAssignment(a domain.ShiftAssignment) *domain.ShiftAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = s.id(a.ID)
	if a.Status == "" {
		a.Status = domain.AssignmentActive
	}
	if a.Version == 0 {
		a.Version = 1
	}
	s.assignments[a.ID] = &a
	cp := a
	return &cp
}

func (s *Store) AddMember(orgID int64, role domain.Role, r domain.Recipient) *domain.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.UserID = s.id(r.UserID)
	s.members[r.UserID] = &member{orgID: orgID, role: role, recipient: r}
	cp := r
	return &cp
}

func (s *Store) SetOrgSettings(settings domain.OrgSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[settings.OrgID] = &settings
}

func (s *Store) AddReminder(assignmentID int64, kind string, sendAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reminders = append(s.reminders, &Reminder{AssignmentID: assignmentID, Type: kind, SendAt: sendAt})
}

func (s *Store) AddPing(p domain.WorkerLocationPing) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.id(p.ID)
	s.pings = append(s.pings, &p)
}

func (s *Store) AddCorrection(c domain.TimeCorrectionRequest) *domain.TimeCorrectionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.ID = s.id(c.ID)
	s.corrections[c.ID] = &c
	cp := c
	return &cp
}

// 以下方法与 Repository 的同名方法签名一致，seed 可以直接写入内存

func (s *Store) CreateUser(_ context.Context, orgID int64, role domain.Role, recipient *domain.Recipient) error {
	recipient.UserID = s.AddMember(orgID, role, *recipient).UserID
	return nil
}

func (s *Store) CreateVenue(_ context.Context, venue *domain.Venue) error {
	venue.ID = s.AddVenue(*venue).ID
	return nil
}

func (s *Store) CreateShift(_ context.Context, shift *domain.Shift) error {
	stored := s.AddShift(*shift)
	shift.ID, shift.Version = stored.ID, stored.Version
	return nil
}

func (s *Store) CreateAssignment(_ context.Context, a *domain.ShiftAssignment) error {
	s.mu.Lock()
	for _, existing := range s.assignments {
		if existing.ShiftID == a.ShiftID && existing.WorkerID == a.WorkerID {
			s.mu.Unlock()
			return repository.ErrDuplicateAssignment
		}
	}
	s.mu.Unlock()

	stored := s.AddAssignment(*a)
	a.ID, a.Status, a.Version = stored.ID, stored.Status, stored.Version
	return nil
}

func (s *Store) UpsertOrgSettings(_ context.Context, settings *domain.OrgSettings) error {
	s.SetOrgSettings(*settings)
	return nil
}

func (s *Store) ScheduleNotification(_ context.Context, _ int64, assignmentID int64, kind string, sendAt time.Time) error {
	s.AddReminder(assignmentID, kind, sendAt)
	return nil
}

/*** 查看当前状态 ***/

func (s *Store) Assignment(id int64) *domain.ShiftAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

func (s *Store) Shift(id int64) *domain.Shift {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shifts[id]
	if !ok {
		return nil
	}
	cp := *sh
	return &cp
}

func (s *Store) Correction(id int64) *domain.TimeCorrectionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.corrections[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

func (s *Store) Pings(assignmentID int64) []domain.WorkerLocationPing {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pings []domain.WorkerLocationPing
	for _, p := range s.pings {
		if p.AssignmentID == assignmentID {
			pings = append(pings, *p)
		}
	}
	return pings
}

func (s *Store) Audits(action string) []domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var audits []domain.AuditEvent
	for _, ev := range s.audits {
		if action == "" || ev.Action == action {
			audits = append(audits, *ev)
		}
	}
	return audits
}

func (s *Store) Reminders(assignmentID int64) []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reminders []Reminder
	for _, r := range s.reminders {
		if r.AssignmentID == assignmentID {
			reminders = append(reminders, *r)
		}
	}
	return reminders
}

/*** 读取 ***/

func (s *Store) GetShift(_ context.Context, orgID, shiftID int64) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shifts[shiftID]
	if !ok || sh.OrgID != orgID {
		return nil, sql.ErrNoRows
	}
	cp := *sh
	return &cp, nil
}

func (s *Store) GetVenue(_ context.Context, venueID int64) (*domain.Venue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.venues[venueID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *v
	return &cp, nil
}

func (s *Store) GetOrgSettings(_ context.Context, orgID int64) (*domain.OrgSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, ok := s.settings[orgID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *settings
	return &cp, nil
}

func (s *Store) GetAssignment(_ context.Context, assignmentID int64) (*domain.ShiftAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[assignmentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetAssignmentByWorker(_ context.Context, shiftID, workerID int64) (*domain.ShiftAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.assignments {
		if a.ShiftID == shiftID && a.WorkerID == workerID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *Store) ListAssignmentsByShift(_ context.Context, shiftID int64) ([]*domain.ShiftAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	assignments := []*domain.ShiftAssignment{}
	for _, a := range s.assignments {
		if a.ShiftID == shiftID {
			cp := *a
			assignments = append(assignments, &cp)
		}
	}
	slices.SortFunc(assignments, func(a, b *domain.ShiftAssignment) int { return cmp.Compare(a.ID, b.ID) })
	return assignments, nil
}

func (s *Store) FindRelevantAssignment(_ context.Context, orgID, workerID int64, now time.Time, window time.Duration) (*domain.ShiftAssignment, *domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best      *domain.ShiftAssignment
		bestShift *domain.Shift
	)
	for _, a := range s.assignments {
		if a.WorkerID != workerID || (a.Status != domain.AssignmentActive && a.Status != domain.AssignmentInProgress) {
			continue
		}
		sh, ok := s.shifts[a.ShiftID]
		if !ok || sh.OrgID != orgID {
			continue
		}
		switch sh.Status {
		case domain.ShiftAssigned, domain.ShiftInProgress, domain.ShiftCompleted:
		default:
			continue
		}
		if sh.StartTime.After(now.Add(window)) || sh.EndTime.Before(now.Add(-window)) {
			continue
		}
		if best == nil || better(a, sh, best, bestShift) {
			best, bestShift = a, sh
		}
	}
	if best == nil {
		return nil, nil, sql.ErrNoRows
	}

	a, sh := *best, *bestShift
	return &a, &sh, nil
}

func better(a *domain.ShiftAssignment, sh *domain.Shift, best *domain.ShiftAssignment, bestShift *domain.Shift) bool {
	aActive := a.Status == domain.AssignmentInProgress
	bestActive := best.Status == domain.AssignmentInProgress
	if aActive != bestActive {
		return aActive
	}
	return sh.StartTime.Before(bestShift.StartTime)
}

func (s *Store) GetLastPing(_ context.Context, assignmentID int64) (*domain.LastPing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last *domain.WorkerLocationPing
	for _, p := range s.pings {
		if p.AssignmentID == assignmentID && (last == nil || !p.RecordedAt.Before(last.RecordedAt)) {
			last = p
		}
	}
	if last == nil {
		return nil, nil
	}
	return &domain.LastPing{RecordedAt: last.RecordedAt, IsOnSite: last.IsOnSite}, nil
}

func (s *Store) GetCorrection(_ context.Context, orgID, correctionID int64) (*domain.TimeCorrectionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.corrections[correctionID]
	if !ok || c.OrgID != orgID {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListCorrections(_ context.Context, assignmentID int64) ([]*domain.TimeCorrectionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	corrections := []*domain.TimeCorrectionRequest{}
	for _, c := range s.corrections {
		if c.AssignmentID == assignmentID {
			cp := *c
			corrections = append(corrections, &cp)
		}
	}
	slices.SortFunc(corrections, func(a, b *domain.TimeCorrectionRequest) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return corrections, nil
}

func (s *Store) HasOpenCorrection(_ context.Context, assignmentID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hasOpenCorrection(assignmentID), nil
}

func (s *Store) hasOpenCorrection(assignmentID int64) bool {
	for _, c := range s.corrections {
		if c.AssignmentID == assignmentID && c.IsOpen() {
			return true
		}
	}
	return false
}

func (s *Store) GetRecipient(_ context.Context, userID int64) (*domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := m.recipient
	return &cp, nil
}

func (s *Store) ListRecipientsByRole(_ context.Context, orgID int64, roles []domain.Role) ([]*domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recipients := []*domain.Recipient{}
	for _, m := range s.members {
		if m.orgID == orgID && slices.Contains(roles, m.role) {
			cp := m.recipient
			recipients = append(recipients, &cp)
		}
	}
	slices.SortFunc(recipients, func(a, b *domain.Recipient) int { return cmp.Compare(a.UserID, b.UserID) })
	return recipients, nil
}

/*** 写入 ***/

func (s *Store) ClockIn(_ context.Context, w *repository.ClockInWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[w.Assignment.ID]
	if !ok || a.ActualClockIn != nil || a.Status != domain.AssignmentActive {
		return repository.ErrNoRowsAffected
	}

	at, effective := w.At, w.EffectiveClockIn
	method := domain.MethodGeofence
	a.ActualClockIn = &at
	a.EffectiveClockIn = &effective
	a.ClockInVerified = true
	a.ClockInMethod = &method
	a.Status = domain.AssignmentInProgress
	s.setLastKnown(a, w.Ping.Latitude, w.Ping.Longitude, at)
	a.Version++

	if w.StartShift {
		s.startShift(a.ShiftID)
	}
	s.insertPing(w.Ping)
	s.insertAudit(w.Audit)
	return nil
}

func (s *Store) ClockOut(_ context.Context, w *repository.ClockOutWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[w.Assignment.ID]
	if !ok || a.ActualClockIn == nil || a.ActualClockOut != nil {
		return repository.ErrNoRowsAffected
	}

	at, effective := w.At, w.EffectiveClockOut
	method := domain.MethodGeofence
	a.ActualClockOut = &at
	a.EffectiveClockOut = &effective
	a.ClockOutVerified = true
	a.ClockOutMethod = &method
	a.Status = domain.AssignmentCompleted
	s.setLastKnown(a, w.Ping.Latitude, w.Ping.Longitude, at)
	a.Version++

	s.insertPing(w.Ping)
	s.insertAudit(w.Audit)
	return nil
}

func (s *Store) CompleteShiftIfDone(_ context.Context, shiftID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shifts[shiftID]
	if !ok || sh.Status != domain.ShiftInProgress {
		return false, nil
	}
	for _, a := range s.assignments {
		if a.ShiftID != shiftID {
			continue
		}
		switch a.Status {
		case domain.AssignmentCompleted, domain.AssignmentNoShow, domain.AssignmentCancelled:
		default:
			return false, nil
		}
	}

	sh.Status = domain.ShiftCompleted
	sh.Version++
	return true, nil
}

func (s *Store) CompleteEndedShifts(_ context.Context, now time.Time, defaultGrace time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, sh := range s.shifts {
		if sh.Status != domain.ShiftInProgress {
			continue
		}
		grace := defaultGrace
		if settings, ok := s.settings[sh.OrgID]; ok && settings.GraceMinutes >= 0 {
			grace = time.Duration(settings.GraceMinutes) * time.Minute
		}
		if now.Before(sh.EndTime.Add(grace)) {
			continue
		}
		sh.Status = domain.ShiftCompleted
		sh.Version++
		n++
	}
	return n, nil
}

func (s *Store) SaveAssignmentTimes(_ context.Context, w *repository.AssignmentTimesWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.updateAssignment(w.Assignment); err != nil {
		return err
	}
	if w.StartShift {
		s.startShift(w.Assignment.ShiftID)
	}
	s.insertAudit(w.Audit)
	return nil
}

func (s *Store) RecordPing(_ context.Context, w *repository.PingWrite) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertPing(w.Ping)

	d := w.Departure
	if d == nil {
		return false, nil
	}
	a, ok := s.assignments[d.AssignmentID]
	if !ok {
		return false, nil
	}
	s.setLastKnown(a, d.Latitude, d.Longitude, d.At)

	newlyFlagged := false
	if !a.HasReviewReason(domain.ReviewReasonLeftGeofence) {
		reason := domain.ReviewReasonLeftGeofence
		a.NeedsReview = true
		a.ReviewReason = &reason
		a.Version++
		newlyFlagged = true
	}
	s.insertAudit(d.Audit)
	return newlyFlagged, nil
}

func (s *Store) DeletePingsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.pings)
	s.pings = slices.DeleteFunc(s.pings, func(p *domain.WorkerLocationPing) bool {
		return p.RecordedAt.Before(cutoff)
	})
	return int64(before - len(s.pings)), nil
}

func (s *Store) CreateCorrection(_ context.Context, w *repository.CorrectionWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *w.Request
	if s.hasOpenCorrection(c.AssignmentID) {
		return repository.ErrDuplicatePending
	}
	c.ID = s.id(0)
	w.Request.ID = c.ID
	s.corrections[c.ID] = &c

	if a, ok := s.assignments[c.AssignmentID]; ok && !a.NeedsReview {
		reason := domain.ReviewReasonDisputed
		a.NeedsReview = true
		a.ReviewReason = &reason
		a.Version++
	}
	s.insertAudit(w.Audit)
	return nil
}

func (s *Store) ResolveCorrection(_ context.Context, w *repository.ResolveCorrectionWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.corrections[w.CorrectionID]
	if !ok || !c.IsOpen() {
		return repository.ErrNoRowsAffected
	}
	a, ok := s.assignments[w.Assignment.ID]
	if !ok || a.Version != w.Assignment.Version {
		return repository.ErrVersionConflict
	}

	reviewer, at := w.ReviewerID, w.At
	c.Status = w.Status
	c.ReviewedBy = &reviewer
	c.ReviewedAt = &at
	c.ReviewNotes = w.Notes

	if err := s.updateAssignment(w.Assignment); err != nil {
		return err
	}
	s.insertAudit(w.Audit)
	return nil
}

func (s *Store) EscalatePendingBefore(_ context.Context, cutoff, now time.Time, reason string) ([]*domain.TimeCorrectionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	escalated := []*domain.TimeCorrectionRequest{}
	for _, c := range s.corrections {
		if c.Status != domain.CorrectionPending || c.CreatedAt.After(cutoff) {
			continue
		}
		at := now
		c.Status = domain.CorrectionEscalated
		c.EscalatedAt = &at
		c.EscalationReason = reason
		s.insertAudit(&domain.AuditEvent{
			OrgID:      c.OrgID,
			Action:     domain.AuditCorrectionEscalate,
			EntityType: domain.EntityCorrection,
			EntityID:   c.ID,
			ActorID:    domain.SystemActorID,
			Before:     map[string]any{"status": domain.CorrectionPending},
			After:      map[string]any{"status": domain.CorrectionEscalated},
			Metadata:   map[string]any{"reason": reason},
		})
		cp := *c
		escalated = append(escalated, &cp)
	}
	slices.SortFunc(escalated, func(a, b *domain.TimeCorrectionRequest) int { return cmp.Compare(a.ID, b.ID) })
	return escalated, nil
}

func (s *Store) ListEscalatedBefore(_ context.Context, cutoff time.Time) ([]*domain.TimeCorrectionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stale := []*domain.TimeCorrectionRequest{}
	for _, c := range s.corrections {
		if c.Status != domain.CorrectionEscalated || c.EscalatedAt == nil || c.EscalatedAt.After(cutoff) {
			continue
		}
		if a, ok := s.assignments[c.AssignmentID]; ok {
			if sh, ok := s.shifts[a.ShiftID]; ok && (sh.Status == domain.ShiftApproved || sh.Status == domain.ShiftCancelled) {
				continue
			}
		}
		cp := *c
		stale = append(stale, &cp)
	}
	slices.SortFunc(stale, func(a, b *domain.TimeCorrectionRequest) int { return a.EscalatedAt.Compare(*b.EscalatedAt) })
	return stale, nil
}

func (s *Store) ApproveShift(_ context.Context, w *repository.ApprovalWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shifts[w.ShiftID]
	if !ok || sh.Status != domain.ShiftCompleted {
		return repository.ErrNoRowsAffected
	}
	// 先检查全部版本，保证失败时不修改任何数据
	for _, st := range w.Settlements {
		a, ok := s.assignments[st.Assignment.ID]
		if !ok || a.Version != st.Assignment.Version {
			return repository.ErrVersionConflict
		}
	}

	sh.Status = domain.ShiftApproved
	sh.Version++
	for _, st := range w.Settlements {
		a := s.assignments[st.Assignment.ID]
		cost := st.EstimatedCostCents
		a.Status = st.Status
		a.EffectiveClockIn = st.EffectiveClockIn
		a.EffectiveClockOut = st.EffectiveClockOut
		a.ClockOutMethod = st.ClockOutMethod
		a.EstimatedCostCents = &cost
		a.Version++
	}
	for _, ev := range w.Audits {
		s.insertAudit(ev)
	}
	return nil
}

func (s *Store) CancelScheduledNotifications(_ context.Context, assignmentID int64, types []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.reminders {
		if r.AssignmentID == assignmentID && !r.Cancelled && slices.Contains(types, r.Type) {
			r.Cancelled = true
			n++
		}
	}
	return n, nil
}

func (s *Store) updateAssignment(updated *domain.ShiftAssignment) error {
	a, ok := s.assignments[updated.ID]
	if !ok || a.Version != updated.Version {
		return repository.ErrVersionConflict
	}

	cp := *updated
	cp.Version++
	// 以下字段不属于打卡记录，保持库里的值
	cp.BudgetRateSnapshot = a.BudgetRateSnapshot
	cp.EstimatedCostCents = a.EstimatedCostCents
	cp.LastKnownLatitude = a.LastKnownLatitude
	cp.LastKnownLongitude = a.LastKnownLongitude
	cp.LastKnownAt = a.LastKnownAt
	s.assignments[cp.ID] = &cp
	updated.Version = cp.Version
	return nil
}

func (s *Store) setLastKnown(a *domain.ShiftAssignment, lat, lon float64, at time.Time) {
	a.LastKnownLatitude = &lat
	a.LastKnownLongitude = &lon
	a.LastKnownAt = &at
}

func (s *Store) startShift(shiftID int64) {
	if sh, ok := s.shifts[shiftID]; ok && sh.Status == domain.ShiftAssigned {
		sh.Status = domain.ShiftInProgress
		sh.Version++
	}
}

func (s *Store) insertPing(p *domain.WorkerLocationPing) {
	cp := *p
	cp.ID = s.id(0)
	p.ID = cp.ID
	s.pings = append(s.pings, &cp)
}

func (s *Store) insertAudit(ev *domain.AuditEvent) {
	if ev == nil {
		return
	}
	cp := *ev
	cp.ID = s.id(0)
	ev.ID = cp.ID
	s.audits = append(s.audits, &cp)
}
