// Package authflow implements the registration/login/password-reset state
// machine, including the AuthStore/DocStore UID-reconciliation repair. It is
// a second, independent state machine from the syncengine's sync/resolve-
// conflict pair — different stores, different invariant ("after success,
// the profile and the auth record share the same uid and the same
// password").
package authflow

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/fieldsync/syncserver/internal/auth"
	"github.com/fieldsync/syncserver/internal/authstore"
	"github.com/fieldsync/syncserver/internal/mailer"
	"github.com/rs/zerolog/log"
)

// Record is a decoded JSON profile/OTP payload.
type Record = map[string]any

// Collection is the subset of docstore.Collection's behavior this package
// depends on, defined locally so tests can substitute in-memory fakes.
type Collection interface {
	Get(ctx context.Context, ownerID, id string) (Record, error)
	FindOneByField(ctx context.Context, field string, value any) (Record, error)
	Put(ctx context.Context, ownerID, id string, rec Record) error
	Delete(ctx context.Context, ownerID, id string) error
}

// AuthStore is the subset of authstore.Store's behavior this package
// depends on.
type AuthStore interface {
	CreateUser(ctx context.Context, email, plaintextPassword, role string) (*authstore.User, error)
	GetUser(ctx context.Context, id string) (*authstore.User, error)
	GetUserByEmail(ctx context.Context, email string) (*authstore.User, error)
	VerifyPassword(ctx context.Context, email, plaintext string) (*authstore.User, error)
	SetPassword(ctx context.Context, id, newPlaintext string) error
}

// OTPTTL is the lifetime of a forgot-password OTP.
const OTPTTL = 10 * time.Minute

// Flow wires the two identity stores, the mail transport, and JWT minting
// into the register/login/forgot-password/verify-otp/reset-password
// operations.
type Flow struct {
	Auth     AuthStore
	Profiles Collection // the "user" DocStore collection
	OTPs     Collection // the password_reset_otp collection, keyed by email
	Mailer   mailer.Mailer
	JWT      auth.JWTCfg
	Now      func() time.Time
}

func (f *Flow) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now().UTC()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterResult is the success outcome of Register.
type RegisterResult struct {
	UID   string
	Email string
	Role  string
}

// Register creates an auth credential and profile for a new email.
func (f *Flow) Register(ctx context.Context, email, name, password, role string) (*RegisterResult, error) {
	email = normalizeEmail(email)
	if !authstore.ValidEmail(email) {
		return nil, validationErr("email: invalid format")
	}
	if strings.TrimSpace(name) == "" {
		return nil, validationErr("name: required")
	}
	if len(password) < 6 {
		return nil, validationErr("password: must be at least 6 characters")
	}
	if role == "" {
		role = "volunteer"
	}

	authUser, err := f.Auth.CreateUser(ctx, email, password, role)
	if err != nil {
		if errors.Is(err, authstore.ErrEmailExists) {
			return nil, emailExistsErr("email already registered")
		}
		log.Error().Err(err).Str("email", email).Msg("authflow register failed")
		return nil, transientErr("registration failed")
	}

	profile := Record{
		"user_id":    authUser.ID,
		"name":       name,
		"email":      email,
		"role":       role,
		"updated_at": formatTime(f.now()),
	}
	if err := f.Profiles.Put(ctx, authUser.ID, authUser.ID, profile); err != nil {
		return nil, transientErr("profile write failed")
	}

	return &RegisterResult{UID: authUser.ID, Email: email, Role: role}, nil
}

// Login verifies credentials and mints a bearer token carrying
// {uid, email, role}.
func (f *Flow) Login(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)

	u, err := f.Auth.VerifyPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, authstore.ErrNotFound) || errors.Is(err, authstore.ErrInvalidCredentials) {
			return "", invalidCredsErr("invalid email or password")
		}
		log.Error().Err(err).Str("email", email).Msg("authflow login failed")
		return "", transientErr("login failed")
	}

	role := u.Role
	if role == "" {
		role = "user"
	}

	tok, err := auth.Mint(f.JWT, u.ID, u.Email, role)
	if err != nil {
		return "", transientErr("token mint failed")
	}
	return tok, nil
}

// ForgotPassword issues and emails a fresh OTP for a password reset.
func (f *Flow) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if !authstore.ValidEmail(email) {
		return validationErr("email: invalid format")
	}

	if _, err := f.Profiles.FindOneByField(ctx, "email", email); err != nil {
		return notFoundErr("no profile for that email")
	}

	otp, err := randomOTP()
	if err != nil {
		return transientErr("otp generation failed")
	}

	rec := Record{
		"email":      email,
		"otp":        otp,
		"expires_at": formatTime(f.now().Add(OTPTTL)),
	}
	if err := f.OTPs.Put(ctx, email, email, rec); err != nil {
		return transientErr("otp write failed")
	}

	if err := f.Mailer.SendOTP(ctx, email, otp); err != nil {
		return transientErr("otp dispatch failed")
	}
	return nil
}

// VerifyOTP checks a submitted OTP against the stored, unexpired one.
func (f *Flow) VerifyOTP(ctx context.Context, email string, otp int) error {
	email = normalizeEmail(email)

	rec, err := f.OTPs.Get(ctx, email, email)
	if err != nil {
		return validationErr("no pending reset for that email")
	}

	stored, ok := toInt(rec["otp"])
	if !ok || stored != otp {
		return validationErr("otp does not match")
	}

	expiresAt, ok := parseTime(rec["expires_at"])
	if !ok || f.now().After(expiresAt) {
		return validationErr("otp expired")
	}
	return nil
}

// ResetPassword sets a new password after OTP verification, including
// the UID-reconciliation repair path.
func (f *Flow) ResetPassword(ctx context.Context, email, password, confirm string) error {
	email = normalizeEmail(email)
	if !authstore.ValidEmail(email) {
		return validationErr("email: invalid format")
	}
	if len(password) < 6 {
		return validationErr("password: must be at least 6 characters")
	}
	if password != confirm {
		return validationErr("password and confirmation do not match")
	}

	profile, err := f.Profiles.FindOneByField(ctx, "email", email)
	if err != nil {
		return notFoundErr("no profile for that email")
	}
	uid, _ := profile["user_id"].(string)

	uid, err = f.reconcileUID(ctx, profile, uid, email, password)
	if err != nil {
		return err
	}

	if err := f.Auth.SetPassword(ctx, uid, password); err != nil {
		log.Error().Err(err).Str("uid", uid).Msg("authflow reset-password: set password failed")
		return transientErr("password update failed")
	}

	profile["user_id"] = uid
	profile["updated_at"] = formatTime(f.now())
	if err := f.Profiles.Put(ctx, uid, uid, profile); err != nil {
		return transientErr("profile update failed")
	}

	if err := f.OTPs.Delete(ctx, email, email); err != nil {
		log.Warn().Err(err).Str("email", email).Msg("authflow reset-password: otp cleanup failed")
	}
	return nil
}

// reconcileUID locates the AuthStore record for the profile's uid, repairing
// any divergence between the two stores by re-keying the profile.
func (f *Flow) reconcileUID(ctx context.Context, profile Record, uid, email, password string) (string, error) {
	if _, err := f.Auth.GetUser(ctx, uid); err == nil {
		return uid, nil
	} else if !errors.Is(err, authstore.ErrNotFound) {
		return "", transientErr("auth lookup failed")
	}

	if byEmail, err := f.Auth.GetUserByEmail(ctx, email); err == nil {
		return f.rekeyProfile(ctx, profile, uid, byEmail.ID)
	} else if !errors.Is(err, authstore.ErrNotFound) {
		return "", transientErr("auth lookup failed")
	}

	role, _ := profile["role"].(string)
	created, err := f.Auth.CreateUser(ctx, email, password, role)
	if err != nil {
		return "", transientErr("auth recreate failed")
	}
	return f.rekeyProfile(ctx, profile, uid, created.ID)
}

func (f *Flow) rekeyProfile(ctx context.Context, profile Record, oldUID, newUID string) (string, error) {
	if oldUID != newUID {
		if err := f.Profiles.Delete(ctx, oldUID, oldUID); err != nil {
			return "", transientErr("profile re-key delete failed")
		}
	}
	profile["user_id"] = newUID
	if err := f.Profiles.Put(ctx, newUID, newUID, profile); err != nil {
		return "", transientErr("profile re-key write failed")
	}
	return newUID, nil
}

func randomOTP() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()) + 100000, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
