package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
	"github.com/FilipeAphrody/arcade-gateway/pkg/security"
)

func newTwoFactorFixture(t *testing.T, validator OTPValidator) (*TwoFactorUsecase, *fakeUserRepo, *fakeChallengeRepo, *domain.User) {
	t.Helper()
	users := newFakeUserRepo()
	challenges := newFakeChallengeRepo()
	svc := newTestTokens(t)

	hash, err := security.HashPassword("Sup3rSecret")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	user := &domain.User{
		Email:            "dev@example.com",
		PasswordHash:     hash,
		Role:             domain.RoleDeveloper,
		IsActive:         true,
		TwoFactorEnabled: true,
		TwoFactorMethod:  domain.TwoFactorMethodExternal,
		ExternalOTPRef:   "kc-1",
	}
	if _, err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	// The fake repo promotes the first user; put the role back.
	user.Role = domain.RoleDeveloper
	if err := users.Update(context.Background(), user); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	uc := NewTwoFactorUsecase(users, challenges, svc, validator, 3)
	return uc, users, challenges, user
}

func startChallenge(t *testing.T, uc *TwoFactorUsecase, user *domain.User) *domain.ChallengeResponse {
	t.Helper()
	ch, err := uc.StartChallenge(context.Background(), user, "127.0.0.1", "test")
	if err != nil {
		t.Fatalf("StartChallenge() error: %v", err)
	}
	return ch
}

func TestStartChallengeExpiresPreviousPending(t *testing.T) {
	uc, _, challenges, user := newTwoFactorFixture(t, &fakeValidator{acceptCode: "123456"})
	ctx := context.Background()

	first := startChallenge(t, uc, user)
	second := startChallenge(t, uc, user)

	old, err := challenges.GetByID(ctx, first.ChallengeID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if old.Status != domain.ChallengeExpired {
		t.Errorf("previous challenge status = %q, want expired", old.Status)
	}

	current, _ := challenges.GetByID(ctx, second.ChallengeID)
	if current.Status != domain.ChallengePending {
		t.Errorf("current challenge status = %q, want pending", current.Status)
	}
}

func TestSubmitCodeSuccess(t *testing.T) {
	uc, _, challenges, user := newTwoFactorFixture(t, &fakeValidator{acceptCode: "123456"})
	ctx := context.Background()

	ch := startChallenge(t, uc, user)
	userID, err := uc.SubmitCode(ctx, ch.ChallengeToken, "123456", "127.0.0.1")
	if err != nil {
		t.Fatalf("SubmitCode() error: %v", err)
	}
	if userID != user.ID {
		t.Errorf("userID = %q, want %q", userID, user.ID)
	}

	stored, _ := challenges.GetByID(ctx, ch.ChallengeID)
	if stored.Status != domain.ChallengeVerified {
		t.Errorf("status = %q, want verified", stored.Status)
	}
	if stored.VerifiedAt == nil {
		t.Error("VerifiedAt not set")
	}
}

func TestSubmitCodeTerminalChallengeIsIdempotentlyRejected(t *testing.T) {
	uc, _, _, user := newTwoFactorFixture(t, &fakeValidator{acceptCode: "123456"})
	ctx := context.Background()

	ch := startChallenge(t, uc, user)
	if _, err := uc.SubmitCode(ctx, ch.ChallengeToken, "123456", "127.0.0.1"); err != nil {
		t.Fatalf("SubmitCode() error: %v", err)
	}

	// Replaying the same valid code must not mint a second success.
	_, err := uc.SubmitCode(ctx, ch.ChallengeToken, "123456", "127.0.0.1")
	if !errors.Is(err, domain.ErrChallengeAlreadyProcessed) {
		t.Fatalf("replay error = %v, want ErrChallengeAlreadyProcessed", err)
	}
}

func TestSubmitCodeWrongCodeCountsAttempts(t *testing.T) {
	uc, _, challenges, user := newTwoFactorFixture(t, &fakeValidator{acceptCode: "123456"})
	ctx := context.Background()

	ch := startChallenge(t, uc, user)

	for i := 1; i < 3; i++ {
		_, err := uc.SubmitCode(ctx, ch.ChallengeToken, "000000", "127.0.0.1")
		if !errors.Is(err, domain.ErrInvalidCode) {
			t.Fatalf("attempt %d error = %v, want ErrInvalidCode", i, err)
		}
		stored, _ := challenges.GetByID(ctx, ch.ChallengeID)
		if stored.Attempts != i {
			t.Fatalf("attempts = %d after submission %d", stored.Attempts, i)
		}
	}

	// Third wrong attempt hits the cap and finishes the challenge.
	_, err := uc.SubmitCode(ctx, ch.ChallengeToken, "000000", "127.0.0.1")
	if !errors.Is(err, domain.ErrTooManyAttempts) {
		t.Fatalf("final attempt error = %v, want ErrTooManyAttempts", err)
	}

	stored, _ := challenges.GetByID(ctx, ch.ChallengeID)
	if stored.Status != domain.ChallengeFailed {
		t.Errorf("status = %q, want failed", stored.Status)
	}

	// The right code arrives too late. A failed challenge keeps answering
	// with the attempt-cap error, not a generic conflict.
	_, err = uc.SubmitCode(ctx, ch.ChallengeToken, "123456", "127.0.0.1")
	if !errors.Is(err, domain.ErrTooManyAttempts) {
		t.Fatalf("post-failure error = %v, want ErrTooManyAttempts", err)
	}
}

func TestSubmitCodeFailedChallengeKeepsRejectingWithAttemptCap(t *testing.T) {
	uc, _, challenges, user := newTwoFactorFixture(t, &fakeValidator{acceptCode: "123456"})
	ctx := context.Background()

	ch := startChallenge(t, uc, user)
	for i := 0; i < 3; i++ {
		_, _ = uc.SubmitCode(ctx, ch.ChallengeToken, "000000", "127.0.0.1")
	}
	stored, _ := challenges.GetByID(ctx, ch.ChallengeID)
	if stored.Status != domain.ChallengeFailed {
		t.Fatalf("status = %q, want failed", stored.Status)
	}

	// Every further submission, right or wrong, gets the same answer.
	for _, code := range []string{"123456", "000000", "123456"} {
		if _, err := uc.SubmitCode(ctx, ch.ChallengeToken, code, "127.0.0.1"); !errors.Is(err, domain.ErrTooManyAttempts) {
			t.Fatalf("submission of %q error = %v, want ErrTooManyAttempts", code, err)
		}
	}
}

func TestSubmitCodeExpiredChallenge(t *testing.T) {
	uc, _, challenges, user := newTwoFactorFixture(t, &fakeValidator{acceptCode: "123456"})
	ctx := context.Background()

	ch := startChallenge(t, uc, user)

	// Age the stored challenge past its deadline.
	challenges.mu.Lock()
	challenges.challenges[ch.ChallengeID].ExpiresAt = time.Now().Add(-time.Minute)
	challenges.mu.Unlock()

	_, err := uc.SubmitCode(ctx, ch.ChallengeToken, "123456", "127.0.0.1")
	if !errors.Is(err, domain.ErrChallengeExpired) {
		t.Fatalf("SubmitCode() error = %v, want ErrChallengeExpired", err)
	}

	stored, _ := challenges.GetByID(ctx, ch.ChallengeID)
	if stored.Status != domain.ChallengeExpired {
		t.Errorf("status = %q, want expired", stored.Status)
	}
}

func TestSubmitCodeValidatorUnreachable(t *testing.T) {
	validator := &fakeValidator{err: domain.ErrUpstreamUnavailable}
	uc, _, challenges, user := newTwoFactorFixture(t, validator)
	ctx := context.Background()

	ch := startChallenge(t, uc, user)
	_, err := uc.SubmitCode(ctx, ch.ChallengeToken, "123456", "127.0.0.1")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("SubmitCode() error = %v, want ErrUpstreamUnavailable", err)
	}

	// The challenge survives: an unreachable validator is not a failure
	// verdict on the code.
	stored, _ := challenges.GetByID(ctx, ch.ChallengeID)
	if stored.Status != domain.ChallengePending {
		t.Errorf("status = %q, want pending", stored.Status)
	}
}

func TestSubmitCodeBackupCodePath(t *testing.T) {
	uc, users, _, user := newTwoFactorFixture(t, &fakeValidator{acceptCode: "123456"})
	ctx := context.Background()

	codes, hashes, err := security.GenerateBackupCodes(2)
	if err != nil {
		t.Fatalf("GenerateBackupCodes() error: %v", err)
	}
	user.BackupCodeHashes = hashes
	if err := users.Update(ctx, user); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	ch := startChallenge(t, uc, user)
	if _, err := uc.SubmitCode(ctx, ch.ChallengeToken, codes[0], "127.0.0.1"); err != nil {
		t.Fatalf("SubmitCode(backup code) error: %v", err)
	}

	// The same backup code must not work twice.
	ch2 := startChallenge(t, uc, user)
	_, err = uc.SubmitCode(ctx, ch2.ChallengeToken, codes[0], "127.0.0.1")
	if !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("reused backup code error = %v, want ErrInvalidCode", err)
	}
}

func TestSubmitCodeRestoresBackupCodeWhenVerifyLosesRace(t *testing.T) {
	uc, users, challenges, user := newTwoFactorFixture(t, &fakeValidator{acceptCode: "123456"})
	ctx := context.Background()

	codes, hashes, err := security.GenerateBackupCodes(1)
	if err != nil {
		t.Fatalf("GenerateBackupCodes() error: %v", err)
	}
	user.BackupCodeHashes = hashes
	if err := users.Update(ctx, user); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	ch := startChallenge(t, uc, user)

	// A concurrent submission finishes the challenge between the code
	// check and the verified transition.
	challenges.beforeVerify = func() {
		challenges.mu.Lock()
		challenges.challenges[ch.ChallengeID].Status = domain.ChallengeFailed
		challenges.mu.Unlock()
	}

	_, err = uc.SubmitCode(ctx, ch.ChallengeToken, codes[0], "127.0.0.1")
	if !errors.Is(err, domain.ErrTooManyAttempts) {
		t.Fatalf("SubmitCode() error = %v, want ErrTooManyAttempts", err)
	}

	// The code bought nothing, so it must still be spendable.
	updated, _ := users.GetByID(ctx, user.ID)
	if len(updated.BackupCodeHashes) != 1 || updated.BackupCodeHashes[0] != hashes[0] {
		t.Fatalf("backup code not restored: %v", updated.BackupCodeHashes)
	}

	challenges.beforeVerify = nil
	ch2 := startChallenge(t, uc, user)
	if _, err := uc.SubmitCode(ctx, ch2.ChallengeToken, codes[0], "127.0.0.1"); err != nil {
		t.Fatalf("SubmitCode(restored code) error: %v", err)
	}
}

func TestSubmitCodeTamperedToken(t *testing.T) {
	uc, _, _, user := newTwoFactorFixture(t, &fakeValidator{acceptCode: "123456"})
	ctx := context.Background()

	startChallenge(t, uc, user)
	_, err := uc.SubmitCode(ctx, "not-a-token", "123456", "127.0.0.1")
	if err == nil {
		t.Fatal("SubmitCode() accepted a garbage token")
	}
}

func TestSetupAndConfirmTOTP(t *testing.T) {
	users := newFakeUserRepo()
	challenges := newFakeChallengeRepo()
	svc := newTestTokens(t)
	uc := NewTwoFactorUsecase(users, challenges, svc, nil, 3)
	ctx := context.Background()

	hash, _ := security.HashPassword("Sup3rSecret")
	user := &domain.User{Email: "dev@example.com", PasswordHash: hash, Role: domain.RoleDeveloper, IsActive: true}
	if _, err := users.Create(ctx, user); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	result, err := uc.Setup(ctx, user.ID, domain.TwoFactorMethodTOTP)
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if result.Secret == "" || result.ProvisioningURI == "" {
		t.Fatalf("Setup() result = %+v, missing secret or URI", result)
	}

	// Wrong code first: enrollment must not complete.
	if _, err := uc.Confirm(ctx, user.ID, "000000"); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("Confirm(wrong code) error = %v, want ErrInvalidCode", err)
	}

	code := totpCodeForSecret(t, result.Secret)
	backupCodes, err := uc.Confirm(ctx, user.ID, code)
	if err != nil {
		t.Fatalf("Confirm() error: %v", err)
	}
	if len(backupCodes) != backupCodeCount {
		t.Errorf("got %d backup codes, want %d", len(backupCodes), backupCodeCount)
	}

	status, err := uc.Status(ctx, user.ID)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if !status.Enabled || status.Method != domain.TwoFactorMethodTOTP {
		t.Errorf("status = %+v, want enabled totp", status)
	}
	if status.BackupCodesRemaining != backupCodeCount {
		t.Errorf("BackupCodesRemaining = %d, want %d", status.BackupCodesRemaining, backupCodeCount)
	}

	// Re-enrollment of an enabled account is refused.
	if _, err := uc.Setup(ctx, user.ID, domain.TwoFactorMethodTOTP); !errors.Is(err, domain.ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("second Setup() error = %v, want ErrTwoFactorAlreadyEnabled", err)
	}
}

func TestDisableTwoFactor(t *testing.T) {
	validator := &fakeValidator{acceptCode: "123456"}
	uc, users, _, user := newTwoFactorFixture(t, validator)
	ctx := context.Background()

	if err := uc.Disable(ctx, user.ID, "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("Disable(wrong password) error = %v, want ErrInvalidCredentials", err)
	}

	if err := uc.Disable(ctx, user.ID, "Sup3rSecret"); err != nil {
		t.Fatalf("Disable() error: %v", err)
	}
	if len(validator.removed) != 1 || validator.removed[0] != "kc-1" {
		t.Errorf("external credential not removed: %v", validator.removed)
	}

	updated, _ := users.GetByID(ctx, user.ID)
	if updated.TwoFactorEnabled || updated.TwoFactorMethod != "" || len(updated.BackupCodeHashes) != 0 {
		t.Errorf("two-factor state not cleared: %+v", updated)
	}

	if err := uc.Disable(ctx, user.ID, "Sup3rSecret"); !errors.Is(err, domain.ErrTwoFactorNotEnabled) {
		t.Fatalf("second Disable() error = %v, want ErrTwoFactorNotEnabled", err)
	}
}

func totpCodeForSecret(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode() error: %v", err)
	}
	return code
}

func TestRegenerateBackupCodesInvalidatesOldSet(t *testing.T) {
	uc, users, _, user := newTwoFactorFixture(t, &fakeValidator{acceptCode: "123456"})
	ctx := context.Background()

	_, hashes, _ := security.GenerateBackupCodes(2)
	user.BackupCodeHashes = hashes
	if err := users.Update(ctx, user); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	codes, err := uc.RegenerateBackupCodes(ctx, user.ID, "Sup3rSecret")
	if err != nil {
		t.Fatalf("RegenerateBackupCodes() error: %v", err)
	}
	if len(codes) != backupCodeCount {
		t.Errorf("got %d codes, want %d", len(codes), backupCodeCount)
	}

	updated, _ := users.GetByID(ctx, user.ID)
	for _, old := range hashes {
		for _, current := range updated.BackupCodeHashes {
			if old == current {
				t.Fatal("old backup code survived regeneration")
			}
		}
	}
}
