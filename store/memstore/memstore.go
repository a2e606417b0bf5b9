// Package memstore is an in-process store.CredentialStore.
//
// A single mutex serialises every operation, which makes per-principal and
// per-tenant sequences linearizable. Records are copied on the way in and on
// the way out.
package memstore

import (
	"bytes"
	"context"
	"crypto/subtle"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/tenantauth/store"
)

type backupCode struct {
	hash   []byte
	usedAt time.Time
}

// Store implements store.CredentialStore in memory.
type Store struct {
	mu sync.Mutex

	principals  map[string]*store.Principal
	byEmail     map[string]string
	byUsername  map[string]string
	tenants     map[string]*store.Tenant
	byCode      map[string]string
	plans       map[string]*store.Plan
	byPlanName  map[string]string
	tenantPlans map[string]*store.TenantPlan
	refresh     map[string]*store.RefreshToken
	enrollments map[string]*store.SecondFactorEnrollment
	backups     map[string][]backupCode
	usage       map[string]map[store.ResourceKind]int64
}

var _ store.CredentialStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		principals:  make(map[string]*store.Principal),
		byEmail:     make(map[string]string),
		byUsername:  make(map[string]string),
		tenants:     make(map[string]*store.Tenant),
		byCode:      make(map[string]string),
		plans:       make(map[string]*store.Plan),
		byPlanName:  make(map[string]string),
		tenantPlans: make(map[string]*store.TenantPlan),
		refresh:     make(map[string]*store.RefreshToken),
		enrollments: make(map[string]*store.SecondFactorEnrollment),
		backups:     make(map[string][]backupCode),
		usage:       make(map[string]map[store.ResourceKind]int64),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func clonePrincipal(p *store.Principal) *store.Principal {
	c := *p
	c.SecondFactorSecret = bytes.Clone(p.SecondFactorSecret)
	return &c
}

func cloneTenant(t *store.Tenant) *store.Tenant {
	c := *t
	if t.Settings != nil {
		c.Settings = make(map[string]string, len(t.Settings))
		for k, v := range t.Settings {
			c.Settings[k] = v
		}
	}
	return &c
}

func cloneHashes(in [][]byte) [][]byte {
	out := make([][]byte, len(in))
	for i := range in {
		out[i] = bytes.Clone(in[i])
	}
	return out
}

// --- principals ---

func (s *Store) GetPrincipal(_ context.Context, id string) (*store.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePrincipal(p), nil
}

func (s *Store) GetPrincipalByUsername(ctx context.Context, username string) (*store.Principal, error) {
	s.mu.Lock()
	id, ok := s.byUsername[username]
	s.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetPrincipal(ctx, id)
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (*store.Principal, error) {
	s.mu.Lock()
	id, ok := s.byEmail[email]
	s.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetPrincipal(ctx, id)
}

func (s *Store) CreatePrincipal(_ context.Context, p *store.Principal, admit store.AdmitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.principals[p.ID]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.byEmail[p.Email]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.byUsername[p.Username]; ok {
		return store.ErrDuplicate
	}
	if p.TenantID != "" {
		t, ok := s.tenants[p.TenantID]
		if !ok || t.Status == store.TenantDeleted {
			return store.ErrNotFound
		}
	}
	if admit != nil {
		plan, active := s.activePlanLocked(p.TenantID)
		if err := admit(s.countPrincipalsLocked(p.TenantID), plan, active); err != nil {
			return err
		}
	}

	s.principals[p.ID] = clonePrincipal(p)
	s.byEmail[p.Email] = p.ID
	s.byUsername[p.Username] = p.ID
	return nil
}

func (s *Store) UpdatePrincipalStatus(_ context.Context, tenantID, id string, status store.PrincipalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return store.ErrNotFound
	}
	if p.TenantID != tenantID {
		return store.ErrCrossTenant
	}
	p.Status = status
	if status != store.PrincipalLocked {
		p.LockoutUntil = time.Time{}
		p.FailedLoginCount = 0
	}
	return nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return store.ErrNotFound
	}
	p.PasswordHash = hash
	return nil
}

func (s *Store) RecordLoginFailure(_ context.Context, id string, now time.Time, policy store.LockoutPolicy) (store.LoginState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return store.LoginState{}, store.ErrNotFound
	}
	return store.ApplyLoginFailure(p, now, policy), nil
}

func (s *Store) RecordLoginSuccess(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return store.ErrNotFound
	}
	store.ApplyLoginSuccess(p, now)
	return nil
}

func (s *Store) AdvanceTOTPCounter(_ context.Context, id string, counter int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if counter <= p.LastTOTPCounter {
		return false, nil
	}
	p.LastTOTPCounter = counter
	return true, nil
}

func (s *Store) CountPrincipals(_ context.Context, tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countPrincipalsLocked(tenantID), nil
}

func (s *Store) countPrincipalsLocked(tenantID string) int64 {
	var n int64
	for _, p := range s.principals {
		if tenantID != "" && p.TenantID == tenantID {
			n++
		}
	}
	return n
}

// --- second factor ---

func (s *Store) SavePendingEnrollment(_ context.Context, e *store.SecondFactorEnrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.principals[e.PrincipalID]; !ok {
		return store.ErrNotFound
	}
	c := *e
	c.Secret = bytes.Clone(e.Secret)
	c.BackupHashes = cloneHashes(e.BackupHashes)
	s.enrollments[e.PrincipalID] = &c
	return nil
}

func (s *Store) GetPendingEnrollment(_ context.Context, principalID string, now time.Time) (*store.SecondFactorEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[principalID]
	if !ok || e.Confirmed || !now.Before(e.ExpiresAt) {
		return nil, store.ErrNotFound
	}
	c := *e
	c.Secret = bytes.Clone(e.Secret)
	c.BackupHashes = cloneHashes(e.BackupHashes)
	return &c, nil
}

func (s *Store) ConfirmSecondFactor(_ context.Context, principalID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[principalID]
	if !ok || e.Confirmed || !now.Before(e.ExpiresAt) {
		return store.ErrNotFound
	}
	p, ok := s.principals[principalID]
	if !ok {
		return store.ErrNotFound
	}
	p.SecondFactorEnabled = true
	p.SecondFactorSecret = bytes.Clone(e.Secret)
	p.LastTOTPCounter = 0
	p.UpdatedAt = now
	codes := make([]backupCode, 0, len(e.BackupHashes))
	for _, h := range e.BackupHashes {
		codes = append(codes, backupCode{hash: bytes.Clone(h)})
	}
	s.backups[principalID] = codes
	delete(s.enrollments, principalID)
	return nil
}

func (s *Store) DisableSecondFactor(_ context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[principalID]
	if !ok {
		return store.ErrNotFound
	}
	p.SecondFactorEnabled = false
	p.SecondFactorSecret = nil
	p.LastTOTPCounter = 0
	delete(s.backups, principalID)
	delete(s.enrollments, principalID)
	return nil
}

func (s *Store) ReplaceBackupCodes(_ context.Context, principalID string, hashes [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.principals[principalID]; !ok {
		return store.ErrNotFound
	}
	codes := make([]backupCode, 0, len(hashes))
	for _, h := range hashes {
		codes = append(codes, backupCode{hash: bytes.Clone(h)})
	}
	s.backups[principalID] = codes
	return nil
}

func (s *Store) ConsumeBackupCode(_ context.Context, principalID string, hash []byte, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.backups[principalID]
	match := -1
	for i := range codes {
		if codes[i].usedAt.IsZero() && subtle.ConstantTimeCompare(codes[i].hash, hash) == 1 {
			match = i
		}
	}
	if match < 0 {
		return false, nil
	}
	codes[match].usedAt = now
	return true, nil
}

func (s *Store) CountUnusedBackupCodes(_ context.Context, principalID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.backups[principalID] {
		if c.usedAt.IsZero() {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteExpiredEnrollments(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.enrollments {
		if !now.Before(e.ExpiresAt) {
			delete(s.enrollments, id)
			n++
		}
	}
	return n, nil
}

// --- refresh tokens ---

func (s *Store) InsertRefreshToken(_ context.Context, t *store.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertRefreshLocked(t)
}

func (s *Store) insertRefreshLocked(t *store.RefreshToken) error {
	if _, ok := s.principals[t.PrincipalID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.refresh[t.TokenHash]; ok {
		return store.ErrDuplicate
	}
	c := *t
	s.refresh[t.TokenHash] = &c
	return nil
}

func (s *Store) GetRefreshToken(_ context.Context, hash string) (*store.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refresh[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *Store) RotateRefreshToken(_ context.Context, oldHash string, next *store.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refresh[oldHash]; !ok {
		return store.ErrNotFound
	}
	if err := s.insertRefreshLocked(next); err != nil {
		return err
	}
	delete(s.refresh, oldHash)
	return nil
}

func (s *Store) DeleteRefreshToken(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refresh, hash)
	return nil
}

func (s *Store) DeleteRefreshTokensForPrincipal(_ context.Context, principalID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, t := range s.refresh {
		if t.PrincipalID == principalID {
			delete(s.refresh, h)
			n++
		}
	}
	return n, nil
}

func (s *Store) CountActiveRefreshTokens(_ context.Context, principalID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.refresh {
		if t.PrincipalID == principalID && t.UsableAt(now) {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, t := range s.refresh {
		if !t.UsableAt(now) {
			delete(s.refresh, h)
			n++
		}
	}
	return n, nil
}

// --- tenants ---

func (s *Store) CreateTenant(_ context.Context, t *store.Tenant, admin *store.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.ID]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.byCode[t.Code]; ok {
		return store.ErrDuplicate
	}
	if admin != nil {
		if admin.TenantID != t.ID {
			return store.ErrCrossTenant
		}
		if _, ok := s.byEmail[admin.Email]; ok {
			return store.ErrDuplicate
		}
		if _, ok := s.byUsername[admin.Username]; ok {
			return store.ErrDuplicate
		}
	}
	s.tenants[t.ID] = cloneTenant(t)
	s.byCode[t.Code] = t.ID
	if admin != nil {
		s.principals[admin.ID] = clonePrincipal(admin)
		s.byEmail[admin.Email] = admin.ID
		s.byUsername[admin.Username] = admin.ID
	}
	return nil
}

func (s *Store) GetTenant(_ context.Context, id string) (*store.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTenant(t), nil
}

func (s *Store) GetTenantByCode(ctx context.Context, code string) (*store.Tenant, error) {
	s.mu.Lock()
	id, ok := s.byCode[code]
	s.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetTenant(ctx, id)
}

func (s *Store) UpdateTenantStatus(_ context.Context, id string, status store.TenantStatus, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Status = status
	t.StatusReason = reason
	t.UpdatedAt = now
	return nil
}

func (s *Store) DeleteTenant(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return store.ErrNotFound
	}
	for pid, p := range s.principals {
		if p.TenantID != id {
			continue
		}
		delete(s.byEmail, p.Email)
		delete(s.byUsername, p.Username)
		delete(s.enrollments, pid)
		delete(s.backups, pid)
		delete(s.principals, pid)
	}
	for h, rt := range s.refresh {
		if rt.TenantID == id {
			delete(s.refresh, h)
		}
	}
	for _, tp := range s.tenantPlans {
		if tp.TenantID == id && tp.Status == store.SubscriptionActive {
			tp.Status = store.SubscriptionExpired
			tp.UpdatedAt = now
		}
	}
	delete(s.usage, id)
	t.Status = store.TenantDeleted
	t.UpdatedAt = now
	return nil
}

// --- plans ---

func (s *Store) CreatePlan(_ context.Context, p *store.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[p.ID]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.byPlanName[p.Name]; ok {
		return store.ErrDuplicate
	}
	c := *p
	s.plans[p.ID] = &c
	s.byPlanName[p.Name] = p.ID
	return nil
}

func (s *Store) UpdatePlan(_ context.Context, p *store.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.plans[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	if owner, taken := s.byPlanName[p.Name]; taken && owner != p.ID {
		return store.ErrDuplicate
	}
	delete(s.byPlanName, cur.Name)
	c := *p
	s.plans[p.ID] = &c
	s.byPlanName[p.Name] = p.ID
	return nil
}

func (s *Store) GetPlan(_ context.Context, id string) (*store.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *Store) ListPlans(context.Context) ([]store.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- subscriptions ---

func (s *Store) activeRowLocked(tenantID string) *store.TenantPlan {
	for _, tp := range s.tenantPlans {
		if tp.TenantID == tenantID && tp.Status == store.SubscriptionActive {
			return tp
		}
	}
	return nil
}

func (s *Store) latestRowLocked(tenantID string) *store.TenantPlan {
	var latest *store.TenantPlan
	for _, tp := range s.tenantPlans {
		if tp.TenantID != tenantID {
			continue
		}
		if latest == nil || tp.UpdatedAt.After(latest.UpdatedAt) ||
			(tp.UpdatedAt.Equal(latest.UpdatedAt) && tp.ID > latest.ID) {
			latest = tp
		}
	}
	return latest
}

func (s *Store) activePlanLocked(tenantID string) (*store.Plan, *store.TenantPlan) {
	row := s.activeRowLocked(tenantID)
	if row == nil {
		return nil, nil
	}
	plan, ok := s.plans[row.PlanID]
	if !ok {
		return nil, nil
	}
	p := *plan
	r := *row
	return &p, &r
}

func (s *Store) GetActiveTenantPlan(_ context.Context, tenantID string) (*store.TenantPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.activeRowLocked(tenantID)
	if row == nil {
		return nil, store.ErrNotFound
	}
	c := *row
	return &c, nil
}

func (s *Store) ListTenantPlans(_ context.Context, tenantID string) ([]store.TenantPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.TenantPlan
	for _, tp := range s.tenantPlans {
		if tp.TenantID == tenantID {
			out = append(out, *tp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) MutateTenantPlan(_ context.Context, tenantID string, fn store.TenantPlanMutator) (*store.TenantPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok || t.Status == store.TenantDeleted {
		return nil, store.ErrNotFound
	}

	cur := s.activeRowLocked(tenantID)
	if cur == nil {
		cur = s.latestRowLocked(tenantID)
	}
	var in *store.TenantPlan
	if cur != nil {
		c := *cur
		in = &c
	}
	next, err := fn(in)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return in, nil
	}
	if next.TenantID != tenantID {
		return nil, store.ErrCrossTenant
	}
	if _, ok := s.plans[next.PlanID]; !ok {
		return nil, store.ErrNotFound
	}
	if next.Status == store.SubscriptionActive {
		if other := s.activeRowLocked(tenantID); other != nil && other.ID != next.ID {
			return nil, store.ErrDuplicate
		}
	}
	c := *next
	s.tenantPlans[next.ID] = &c
	out := c
	return &out, nil
}

func (s *Store) ExpireTenantPlans(_ context.Context, now time.Time) ([]store.TenantPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.TenantPlan
	for _, tp := range s.tenantPlans {
		if tp.Status == store.SubscriptionActive && !now.Before(tp.EndAt) {
			tp.Status = store.SubscriptionExpired
			tp.UpdatedAt = now
			out = append(out, *tp)
		}
	}
	return out, nil
}

func (s *Store) ReserveUsage(_ context.Context, tenantID string, kind store.ResourceKind, admit store.AdmitFunc) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok || t.Status == store.TenantDeleted {
		return 0, store.ErrNotFound
	}
	current := s.usage[tenantID][kind]
	if admit != nil {
		plan, active := s.activePlanLocked(tenantID)
		if err := admit(current, plan, active); err != nil {
			return current, err
		}
	}
	if s.usage[tenantID] == nil {
		s.usage[tenantID] = make(map[store.ResourceKind]int64)
	}
	s.usage[tenantID][kind] = current + 1
	return current + 1, nil
}

func (s *Store) ReleaseUsage(_ context.Context, tenantID string, kind store.ResourceKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usage[tenantID][kind] > 0 {
		s.usage[tenantID][kind]--
	}
	return nil
}

func (s *Store) UsageCount(_ context.Context, tenantID string, kind store.ResourceKind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[tenantID][kind], nil
}
