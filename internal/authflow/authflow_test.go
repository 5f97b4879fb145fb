package authflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fieldsync/syncserver/internal/auth"
	"github.com/fieldsync/syncserver/internal/authstore"
)

// memCollection is an in-memory stand-in for a docstore.Collection, keyed
// by (ownerID, id), used so authflow tests don't need a database.
type memCollection struct {
	rows map[string]Record
}

func newMemCollection() *memCollection { return &memCollection{rows: map[string]Record{}} }

func memKey(ownerID, id string) string { return ownerID + "/" + id }

func (m *memCollection) Get(_ context.Context, ownerID, id string) (Record, error) {
	r, ok := m.rows[memKey(ownerID, id)]
	if !ok {
		return nil, errors.New("not found")
	}
	return r, nil
}

func (m *memCollection) FindOneByField(_ context.Context, field string, value any) (Record, error) {
	for _, r := range m.rows {
		if r[field] == value {
			return r, nil
		}
	}
	return nil, errors.New("not found")
}

func (m *memCollection) Put(_ context.Context, ownerID, id string, rec Record) error {
	m.rows[memKey(ownerID, id)] = rec
	return nil
}

func (m *memCollection) Delete(_ context.Context, ownerID, id string) error {
	delete(m.rows, memKey(ownerID, id))
	return nil
}

// memAuthStore is an in-memory stand-in for authstore.Store.
type memAuthStore struct {
	byID    map[string]*authstore.User
	byEmail map[string]*authstore.User
	nextID  int
}

func newMemAuthStore() *memAuthStore {
	return &memAuthStore{byID: map[string]*authstore.User{}, byEmail: map[string]*authstore.User{}}
}

func (s *memAuthStore) CreateUser(_ context.Context, email, plaintextPassword, role string) (*authstore.User, error) {
	if _, exists := s.byEmail[email]; exists {
		return nil, authstore.ErrEmailExists
	}
	s.nextID++
	id := "auth-" + string(rune('a'+s.nextID))
	u := &authstore.User{ID: id, Email: email, PasswordHash: "hash:" + plaintextPassword, Role: role}
	s.byID[id] = u
	s.byEmail[email] = u
	return u, nil
}

func (s *memAuthStore) GetUser(_ context.Context, id string) (*authstore.User, error) {
	u, ok := s.byID[id]
	if !ok {
		return nil, authstore.ErrNotFound
	}
	return u, nil
}

func (s *memAuthStore) GetUserByEmail(_ context.Context, email string) (*authstore.User, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return nil, authstore.ErrNotFound
	}
	return u, nil
}

func (s *memAuthStore) VerifyPassword(_ context.Context, email, plaintext string) (*authstore.User, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return nil, authstore.ErrNotFound
	}
	if u.PasswordHash != "hash:"+plaintext {
		return nil, authstore.ErrInvalidCredentials
	}
	return u, nil
}

func (s *memAuthStore) SetPassword(_ context.Context, id, newPlaintext string) error {
	u, ok := s.byID[id]
	if !ok {
		return authstore.ErrNotFound
	}
	u.PasswordHash = "hash:" + newPlaintext
	return nil
}

type memMailer struct {
	lastTo  string
	lastOTP int
}

func (m *memMailer) SendOTP(_ context.Context, to string, otp int) error {
	m.lastTo, m.lastOTP = to, otp
	return nil
}

func testFlow() (*Flow, *memAuthStore, *memCollection, *memCollection, *memMailer) {
	authStore := newMemAuthStore()
	profiles := newMemCollection()
	otps := newMemCollection()
	mail := &memMailer{}
	fixedNow := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f := &Flow{
		Auth:     authStore,
		Profiles: profiles,
		OTPs:     otps,
		Mailer:   mail,
		JWT:      auth.JWTCfg{HS256Secret: "test-secret"},
		Now:      func() time.Time { return fixedNow },
	}
	return f, authStore, profiles, otps, mail
}

func TestRegister_CreatesAuthUserAndProfile(t *testing.T) {
	f, _, profiles, _, _ := testFlow()
	ctx := context.Background()

	res, err := f.Register(ctx, "Ana@X.io", "Ana", "secret1", "volunteer")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if res.Email != "ana@x.io" {
		t.Errorf("expected normalized email, got %q", res.Email)
	}
	profile, err := profiles.Get(ctx, res.UID, res.UID)
	if err != nil {
		t.Fatalf("expected profile to be written: %v", err)
	}
	if profile["email"] != "ana@x.io" {
		t.Errorf("unexpected profile email: %v", profile["email"])
	}
}

func TestRegister_DuplicateEmailRejected(t *testing.T) {
	f, _, _, _, _ := testFlow()
	ctx := context.Background()

	if _, err := f.Register(ctx, "ana@x.io", "Ana", "secret1", "volunteer"); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	_, err := f.Register(ctx, "ana@x.io", "Ana2", "secret2", "volunteer")
	if err == nil {
		t.Fatal("expected duplicate email rejection")
	}
	flowErr, ok := err.(*Error)
	if !ok || flowErr.Kind != KindEmailExists {
		t.Fatalf("expected KindEmailExists, got %v", err)
	}
}

func TestLogin_Success(t *testing.T) {
	f, _, _, _, _ := testFlow()
	ctx := context.Background()

	if _, err := f.Register(ctx, "ana@x.io", "Ana", "secret1", "coordinator"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	tok, err := f.Login(ctx, "ana@x.io", "secret1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	claims, err := auth.ValidateToken(tok, f.JWT)
	if err != nil {
		t.Fatalf("token should validate: %v", err)
	}
	if claims.Email != "ana@x.io" || claims.Role != "coordinator" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestLogin_WrongPasswordRejected(t *testing.T) {
	f, _, _, _, _ := testFlow()
	ctx := context.Background()

	if _, err := f.Register(ctx, "ana@x.io", "Ana", "secret1", "volunteer"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, err := f.Login(ctx, "ana@x.io", "wrong")
	if err == nil {
		t.Fatal("expected invalid credentials error")
	}
	flowErr, ok := err.(*Error)
	if !ok || flowErr.Kind != KindInvalidCredentials {
		t.Fatalf("expected KindInvalidCredentials, got %v", err)
	}
}

func TestForgotPassword_NoProfileReturnsNotFound(t *testing.T) {
	f, _, _, _, _ := testFlow()
	err := f.ForgotPassword(context.Background(), "ghost@x.io")
	if err == nil {
		t.Fatal("expected not-found error")
	}
	flowErr, ok := err.(*Error)
	if !ok || flowErr.Kind != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestForgotPasswordThenVerifyOTP_RoundTrip(t *testing.T) {
	f, _, _, _, mail := testFlow()
	ctx := context.Background()

	if _, err := f.Register(ctx, "ana@x.io", "Ana", "secret1", "volunteer"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := f.ForgotPassword(ctx, "ana@x.io"); err != nil {
		t.Fatalf("forgot-password failed: %v", err)
	}
	if mail.lastTo != "ana@x.io" {
		t.Fatalf("expected mail dispatched to ana@x.io, got %q", mail.lastTo)
	}

	if err := f.VerifyOTP(ctx, "ana@x.io", mail.lastOTP); err != nil {
		t.Fatalf("expected correct otp to verify, got %v", err)
	}
	if err := f.VerifyOTP(ctx, "ana@x.io", mail.lastOTP+1); err == nil {
		t.Fatal("expected mismatched otp to be rejected")
	}
}

func TestVerifyOTP_ExpiredRejected(t *testing.T) {
	authStore := newMemAuthStore()
	profiles := newMemCollection()
	otps := newMemCollection()
	mail := &memMailer{}
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	cur := start
	f := &Flow{
		Auth: authStore, Profiles: profiles, OTPs: otps, Mailer: mail,
		JWT: auth.JWTCfg{HS256Secret: "test-secret"},
		Now: func() time.Time { return cur },
	}
	ctx := context.Background()

	if _, err := f.Register(ctx, "ana@x.io", "Ana", "secret1", "volunteer"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := f.ForgotPassword(ctx, "ana@x.io"); err != nil {
		t.Fatalf("forgot-password failed: %v", err)
	}

	cur = start.Add(OTPTTL + time.Second)
	if err := f.VerifyOTP(ctx, "ana@x.io", mail.lastOTP); err == nil {
		t.Fatal("expected expired otp to be rejected")
	}
}

func TestResetPassword_DirectPath(t *testing.T) {
	f, authStore, _, otps, mail := testFlow()
	ctx := context.Background()

	reg, err := f.Register(ctx, "ana@x.io", "Ana", "secret1", "volunteer")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := f.ForgotPassword(ctx, "ana@x.io"); err != nil {
		t.Fatalf("forgot-password failed: %v", err)
	}
	_ = mail.lastOTP

	if err := f.ResetPassword(ctx, "ana@x.io", "newpass1", "newpass1"); err != nil {
		t.Fatalf("reset-password failed: %v", err)
	}

	if _, err := authStore.VerifyPassword(ctx, "ana@x.io", "newpass1"); err != nil {
		t.Fatalf("expected new password to verify: %v", err)
	}
	if _, err := otps.Get(ctx, "ana@x.io", "ana@x.io"); err == nil {
		t.Fatal("expected otp row deleted after reset")
	}
	if reg.UID == "" {
		t.Fatal("sanity: uid should be set")
	}
}

func TestResetPassword_UIDMismatchMigratesProfile(t *testing.T) {
	f, authStore, profiles, _, _ := testFlow()
	ctx := context.Background()

	// DocStore has a profile at uid "d1"; AuthStore has the same email at "a1".
	if err := profiles.Put(ctx, "d1", "d1", Record{
		"user_id": "d1", "name": "Ana", "email": "ana@x.io", "role": "volunteer",
		"updated_at": "2024-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("seed profile failed: %v", err)
	}
	authStore.byID["a1"] = &authstore.User{ID: "a1", Email: "ana@x.io", PasswordHash: "hash:old", Role: "volunteer"}
	authStore.byEmail["ana@x.io"] = authStore.byID["a1"]

	if err := f.ResetPassword(ctx, "ana@x.io", "newpass1", "newpass1"); err != nil {
		t.Fatalf("reset-password failed: %v", err)
	}

	if _, err := profiles.Get(ctx, "d1", "d1"); err == nil {
		t.Fatal("expected old profile key 'd1' to be gone")
	}
	migrated, err := profiles.Get(ctx, "a1", "a1")
	if err != nil {
		t.Fatalf("expected profile re-keyed under 'a1': %v", err)
	}
	if migrated["user_id"] != "a1" {
		t.Errorf("expected migrated profile user_id=a1, got %v", migrated["user_id"])
	}
	if _, err := authStore.VerifyPassword(ctx, "ana@x.io", "newpass1"); err != nil {
		t.Fatalf("expected password updated on auth record: %v", err)
	}
}

func TestResetPassword_NoAuthRecordCreatesOne(t *testing.T) {
	f, authStore, profiles, _, _ := testFlow()
	ctx := context.Background()

	// DocStore has a profile, but no AuthStore record exists at all.
	if err := profiles.Put(ctx, "d1", "d1", Record{
		"user_id": "d1", "name": "Ana", "email": "ana@x.io", "role": "coordinator",
		"updated_at": "2024-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("seed profile failed: %v", err)
	}

	if err := f.ResetPassword(ctx, "ana@x.io", "newpass1", "newpass1"); err != nil {
		t.Fatalf("reset-password failed: %v", err)
	}

	u, err := authStore.GetUserByEmail(ctx, "ana@x.io")
	if err != nil {
		t.Fatalf("expected a freshly created auth record: %v", err)
	}
	if _, err := profiles.Get(ctx, u.ID, u.ID); err != nil {
		t.Fatalf("expected profile re-keyed under new uid: %v", err)
	}
	if _, err := profiles.Get(ctx, "d1", "d1"); err == nil {
		t.Fatal("expected old profile key 'd1' to be gone")
	}
}

func TestResetPassword_NoProfileReturnsNotFound(t *testing.T) {
	f, _, _, _, _ := testFlow()
	err := f.ResetPassword(context.Background(), "ghost@x.io", "secret1", "secret1")
	if err == nil {
		t.Fatal("expected not-found error")
	}
	flowErr, ok := err.(*Error)
	if !ok || flowErr.Kind != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestResetPassword_MismatchedConfirmationRejected(t *testing.T) {
	f, _, profiles, _, _ := testFlow()
	ctx := context.Background()
	if err := profiles.Put(ctx, "d1", "d1", Record{"user_id": "d1", "email": "ana@x.io"}); err != nil {
		t.Fatalf("seed profile failed: %v", err)
	}

	err := f.ResetPassword(ctx, "ana@x.io", "secret1", "secret2")
	if err == nil {
		t.Fatal("expected mismatched confirmation to be rejected")
	}
	flowErr, ok := err.(*Error)
	if !ok || flowErr.Kind != KindValidation {
		t.Fatalf("expected KindValidation, got %v", err)
	}
}
