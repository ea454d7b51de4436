package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
)

// fakeUserRepo is an in-memory UserRepository for usecase tests.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*domain.User // by ID
	nextID int
	events []string
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*domain.User)}
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) Create(_ context.Context, user *domain.User) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return false, domain.ErrEmailTaken
		}
	}
	first := len(f.users) == 0
	if first {
		user.Role = domain.RoleSuperadmin
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	cp := *user
	f.users[user.ID] = &cp
	return first, nil
}

func (f *fakeUserRepo) Update(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.ID]; !ok {
		return domain.ErrUserNotFound
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUserRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeUserRepo) UpdateTwoFactor(_ context.Context, user *domain.User) error {
	return f.Update(context.Background(), user)
}

func (f *fakeUserRepo) SetRole(_ context.Context, id, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.Role = role
	return nil
}

func (f *fakeUserRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return domain.ErrUserNotFound
	}
	delete(f.users, id)
	return nil
}

func (f *fakeUserRepo) List(_ context.Context) ([]*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.User, 0, len(f.users))
	for _, u := range f.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeUserRepo) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

func (f *fakeUserRepo) ConsumeBackupCode(_ context.Context, userID, codeHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return false, domain.ErrUserNotFound
	}
	for i, h := range u.BackupCodeHashes {
		if h == codeHash {
			u.BackupCodeHashes = append(u.BackupCodeHashes[:i], u.BackupCodeHashes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUserRepo) RestoreBackupCode(_ context.Context, userID, codeHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	for _, h := range u.BackupCodeHashes {
		if h == codeHash {
			return nil
		}
	}
	u.BackupCodeHashes = append(u.BackupCodeHashes, codeHash)
	return nil
}

func (f *fakeUserRepo) LogSecurityEvent(_ context.Context, userID, eventType, _ string, _ map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, userID+":"+eventType)
	return nil
}

// fakeTokenRepo is an in-memory TokenRepository.
type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]string // hash -> userID
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]string)}
}

func (f *fakeTokenRepo) StoreRefreshToken(_ context.Context, userID, tokenHash string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[tokenHash] = userID
	return nil
}

func (f *fakeTokenRepo) UserIDByRefreshToken(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.tokens[tokenHash]
	if !ok {
		return "", domain.ErrTokenRevoked
	}
	return userID, nil
}

func (f *fakeTokenRepo) DeleteRefreshToken(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, tokenHash)
	return nil
}

func (f *fakeTokenRepo) RevokeAllForUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for h, uid := range f.tokens {
		if uid == userID {
			delete(f.tokens, h)
		}
	}
	return nil
}

func (f *fakeTokenRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

// fakeChallengeRepo mirrors the conditional-update semantics of the
// Postgres implementation. beforeVerify, when set, runs just before the
// verified transition so tests can interleave a concurrent state change.
type fakeChallengeRepo struct {
	mu           sync.Mutex
	challenges   map[string]*domain.TwoFactorChallenge
	beforeVerify func()
}

func newFakeChallengeRepo() *fakeChallengeRepo {
	return &fakeChallengeRepo{challenges: make(map[string]*domain.TwoFactorChallenge)}
}

func (f *fakeChallengeRepo) Create(_ context.Context, ch *domain.TwoFactorChallenge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *ch
	f.challenges[ch.ID] = &cp
	return nil
}

func (f *fakeChallengeRepo) GetByID(_ context.Context, id string) (*domain.TwoFactorChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.challenges[id]
	if !ok {
		return nil, domain.ErrChallengeNotFound
	}
	cp := *ch
	return &cp, nil
}

func (f *fakeChallengeRepo) ExpireStalePending(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.challenges {
		if ch.UserID == userID && ch.Status == domain.ChallengePending {
			ch.Status = domain.ChallengeExpired
		}
	}
	return nil
}

func (f *fakeChallengeRepo) TryIncrementAttempts(_ context.Context, id string, max int) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.challenges[id]
	if !ok {
		return 0, false, domain.ErrChallengeNotFound
	}
	if ch.Status != domain.ChallengePending || ch.Attempts >= max {
		return 0, false, nil
	}
	ch.Attempts++
	return ch.Attempts, true, nil
}

func (f *fakeChallengeRepo) MarkVerified(_ context.Context, id string, at time.Time) (bool, error) {
	if f.beforeVerify != nil {
		f.beforeVerify()
	}
	return f.transition(id, domain.ChallengeVerified, &at)
}

func (f *fakeChallengeRepo) MarkFailed(_ context.Context, id string) (bool, error) {
	return f.transition(id, domain.ChallengeFailed, nil)
}

func (f *fakeChallengeRepo) MarkExpired(_ context.Context, id string) (bool, error) {
	return f.transition(id, domain.ChallengeExpired, nil)
}

func (f *fakeChallengeRepo) transition(id string, to domain.ChallengeStatus, at *time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.challenges[id]
	if !ok {
		return false, domain.ErrChallengeNotFound
	}
	if ch.Status != domain.ChallengePending {
		return false, nil
	}
	ch.Status = to
	ch.VerifiedAt = at
	return true, nil
}

// fakeRoleRepo is an in-memory RoleRepository.
type fakeRoleRepo struct {
	mu    sync.Mutex
	roles map[string]*domain.Role
	users *fakeUserRepo
}

func newFakeRoleRepo(users *fakeUserRepo) *fakeRoleRepo {
	return &fakeRoleRepo{roles: make(map[string]*domain.Role), users: users}
}

func (f *fakeRoleRepo) GetByName(_ context.Context, name string) (*domain.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[name]
	if !ok {
		return nil, domain.ErrInvalidRole
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRoleRepo) List(_ context.Context) ([]*domain.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Role, 0, len(f.roles))
	for _, r := range f.roles {
		cp := *r
		cp.UserCount = f.countUsers(r.Name)
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeRoleRepo) Create(_ context.Context, role *domain.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.roles[role.Name]; ok {
		return domain.ErrRoleExists
	}
	cp := *role
	f.roles[role.Name] = &cp
	return nil
}

func (f *fakeRoleRepo) Update(_ context.Context, role *domain.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.roles[role.Name]
	if !ok {
		return domain.ErrInvalidRole
	}
	if existing.BuiltIn {
		return domain.ErrBuiltInRole
	}
	cp := *role
	f.roles[role.Name] = &cp
	return nil
}

func (f *fakeRoleRepo) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.roles[name]
	if !ok {
		return domain.ErrInvalidRole
	}
	if existing.BuiltIn {
		return domain.ErrBuiltInRole
	}
	if f.countUsers(name) > 0 {
		return domain.ErrRoleInUse
	}
	delete(f.roles, name)
	return nil
}

func (f *fakeRoleRepo) EnsureBuiltins(_ context.Context, roles []*domain.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range roles {
		if _, ok := f.roles[r.Name]; !ok {
			cp := *r
			f.roles[r.Name] = &cp
		}
	}
	return nil
}

func (f *fakeRoleRepo) UserCount(_ context.Context, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countUsers(name), nil
}

func (f *fakeRoleRepo) countUsers(name string) int {
	if f.users == nil {
		return 0
	}
	f.users.mu.Lock()
	defer f.users.mu.Unlock()
	n := 0
	for _, u := range f.users.users {
		if u.Role == name {
			n++
		}
	}
	return n
}

// fakeValidator is a scripted external OTP validator.
type fakeValidator struct {
	acceptCode string
	err        error
	enrollRef  string
	removed    []string
}

func (f *fakeValidator) EnrollUser(_ context.Context, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.enrollRef, nil
}

func (f *fakeValidator) VerifyCode(_ context.Context, _, code string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return code == f.acceptCode, nil
}

func (f *fakeValidator) RemoveUser(_ context.Context, ref string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, ref)
	return nil
}
