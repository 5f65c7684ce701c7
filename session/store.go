package session

import (
	"context"
	"errors"
	"sync"

	"github.com/kontoapp/konto/client"
	"github.com/sirupsen/logrus"
)

// ErrOperationPending is returned when the same named operation is already in
// flight. The duplicate performs no backend call; first request wins.
var ErrOperationPending = errors.New("operation already in flight")

// Named operations, one in-flight flag each. Forms read these through
// Pending as their busy indicator.
const (
	OpBootstrap            = "bootstrap"
	OpLogin                = "login"
	OpLogout               = "logout"
	OpRegister             = "register"
	OpRequestPasswordReset = "requestPasswordReset"
	OpSetPassword          = "setPassword"
	OpChangePassword       = "changePassword"
	OpConfirmEmail         = "confirmEmail"
)

// Backend is the token exchange collaborator plus the account operations the
// store mediates. Implemented by client.Backend.
type Backend interface {
	ExchangeCredentials(ctx context.Context, email string, password string) error
	CurrentIdentity(ctx context.Context) (client.Account, error)
	RevokeCredentials(ctx context.Context) error
	OnCredentialsInvalidated(cb func())

	Register(ctx context.Context, name string, email string, password string) error
	RequestPasswordReset(ctx context.Context, email string) error
	SetPassword(ctx context.Context, key string, password string) error
	ChangePassword(ctx context.Context, oldPassword string, newPassword string) error
	ConfirmEmail(ctx context.Context, key string) error
}

type Options struct {
	Backend Backend

	// Notify surfaces one-shot notifications. Optional.
	Notify func(Notice)
	// Navigate performs a client-side route change. Optional.
	Navigate func(path string)
	// HardNavigate performs a full reload navigation, discarding all
	// in-memory state. Used by logout and forced invalidation. Optional.
	HardNavigate func(path string)
}

// Store is the single authoritative session state. Created once at boot,
// mutated exclusively through its operations.
type Store struct {
	backend      Backend
	notify       func(Notice)
	navigate     func(path string)
	hardNavigate func(path string)

	mutex        sync.Mutex
	status       Status
	identity     *client.Account
	lastError    Outcome
	confirmEmail ConfirmEmailState
	inflight     map[string]bool
	listeners    []func()
}

func New(opts Options) *Store {
	s := &Store{
		backend:      opts.Backend,
		notify:       opts.Notify,
		navigate:     opts.Navigate,
		hardNavigate: opts.HardNavigate,
		status:       StatusResolving,
		inflight:     map[string]bool{},
	}
	if s.notify == nil {
		s.notify = func(Notice) {}
	}
	if s.navigate == nil {
		s.navigate = func(string) {}
	}
	if s.hardNavigate == nil {
		s.hardNavigate = func(string) {}
	}
	// forced invalidation behaves like logout, whatever else is in flight
	s.backend.OnCredentialsInvalidated(func() {
		s.becomeAnonymous()
		s.hardNavigate(LoginRoute.Path)
	})
	return s
}

// OnChange registers an observer called after every state transition. The
// route guard re-evaluates through this.
func (s *Store) OnChange(cb func()) {
	s.mutex.Lock()
	s.listeners = append(s.listeners, cb)
	s.mutex.Unlock()
}

func (s *Store) Status() Status {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.status
}

// Identity is non-nil exactly when Status is Authenticated.
func (s *Store) Identity() *client.Account {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.identity == nil {
		return nil
	}
	identity := *s.identity
	return &identity
}

// LastError is the classified outcome of the most recent failed operation,
// cleared when the next attempt starts.
func (s *Store) LastError() Outcome {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastError
}

func (s *Store) ConfirmEmailState() ConfirmEmailState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.confirmEmail
}

// Pending reports whether the named operation is in flight.
func (s *Store) Pending(operation string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.inflight[operation]
}

// Bootstrap resolves the initial session state from whatever credentials the
// backend already holds. Failures settle to Anonymous silently; the user is
// never shown an error for not being logged in at startup.
func (s *Store) Bootstrap(ctx context.Context) {
	if !s.begin(OpBootstrap) {
		return
	}
	defer s.end(OpBootstrap)
	if s.Status() != StatusResolving {
		return
	}

	account, err := s.backend.CurrentIdentity(ctx)
	if err != nil {
		logrus.WithError(err).Debugln("Session bootstrap resolved anonymous.")
		s.becomeAnonymous()
		return
	}
	s.becomeAuthenticated(account)
}

func (s *Store) Login(ctx context.Context, email string, password string) error {
	if !s.begin(OpLogin) {
		return ErrOperationPending
	}
	defer s.end(OpLogin)
	s.clearError()

	err := s.backend.ExchangeCredentials(ctx, email, password)
	var account client.Account
	if err == nil {
		account, err = s.backend.CurrentIdentity(ctx)
	}
	if err != nil {
		outcome := classifyLogin(err)
		logrus.WithError(err).WithField("outcome", outcome).Infoln("Login failed.")
		s.fail(outcome)
		s.becomeAnonymous()
		s.notify(Notice{Message: loginMessage(outcome)})
		return nil
	}

	s.becomeAuthenticated(account)
	s.navigate(DashboardRoute.Path)
	return nil
}

// Logout revokes credentials best-effort and always ends Anonymous with a
// hard navigation, so no stale in-memory state survives.
func (s *Store) Logout(ctx context.Context) error {
	if !s.begin(OpLogout) {
		return ErrOperationPending
	}
	defer s.end(OpLogout)

	if err := s.backend.RevokeCredentials(ctx); err != nil {
		logrus.WithError(err).Warningln("Could not revoke credentials.")
	}
	s.becomeAnonymous()
	s.hardNavigate(LoginRoute.Path)
	return nil
}

// Register creates an account. It never authenticates; the user still has to
// confirm the email and log in.
func (s *Store) Register(ctx context.Context, name string, email string, password string) error {
	if !s.begin(OpRegister) {
		return ErrOperationPending
	}
	defer s.end(OpRegister)
	s.clearError()

	if err := s.backend.Register(ctx, name, email, password); err != nil {
		outcome := classifyRegister(err)
		logrus.WithError(err).WithField("outcome", outcome).Infoln("Registration failed.")
		s.fail(outcome)
		s.notify(Notice{Message: registerMessage(outcome)})
		return nil
	}

	s.notify(Notice{Success: true, Message: msgRegisterSuccess})
	s.navigate(LoginRoute.Path)
	return nil
}

func (s *Store) RequestPasswordReset(ctx context.Context, email string) error {
	if !s.begin(OpRequestPasswordReset) {
		return ErrOperationPending
	}
	defer s.end(OpRequestPasswordReset)
	s.clearError()

	if err := s.backend.RequestPasswordReset(ctx, email); err != nil {
		logrus.WithError(err).Infoln("Password reset request failed.")
		s.fail(OutcomeUnknown)
		s.notify(Notice{Message: msgUnknown})
		return nil
	}

	s.notify(Notice{Success: true, Message: msgResetRequestSuccess})
	s.navigate(LoginRoute.Path)
	return nil
}

func (s *Store) SetPassword(ctx context.Context, key string, password string) error {
	if !s.begin(OpSetPassword) {
		return ErrOperationPending
	}
	defer s.end(OpSetPassword)
	s.clearError()

	if err := s.backend.SetPassword(ctx, key, password); err != nil {
		outcome := classifySetPassword(err)
		logrus.WithError(err).WithField("outcome", outcome).Infoln("Set password failed.")
		s.fail(outcome)
		s.notify(Notice{Message: setPasswordMessage(outcome)})
		return nil
	}

	s.notify(Notice{Success: true, Message: msgSetPasswordSuccess})
	s.navigate(LoginRoute.Path)
	return nil
}

func (s *Store) ChangePassword(ctx context.Context, oldPassword string, newPassword string) error {
	if !s.begin(OpChangePassword) {
		return ErrOperationPending
	}
	defer s.end(OpChangePassword)
	s.clearError()

	if err := s.backend.ChangePassword(ctx, oldPassword, newPassword); err != nil {
		outcome := classifyChangePassword(err)
		logrus.WithError(err).WithField("outcome", outcome).Infoln("Change password failed.")
		s.fail(outcome)
		s.notify(Notice{Message: changePasswordMessage(outcome)})
		return nil
	}

	s.notify(Notice{Success: true, Message: msgChangePasswordOk})
	return nil
}

// ConfirmEmail drives the persistent confirmation page message instead of a
// one-shot notification.
func (s *Store) ConfirmEmail(ctx context.Context, key string) error {
	if !s.begin(OpConfirmEmail) {
		return ErrOperationPending
	}
	defer s.end(OpConfirmEmail)
	s.setConfirmEmail(ConfirmEmailPending)
	s.clearError()

	err := s.backend.ConfirmEmail(ctx, key)
	if err == nil {
		s.setConfirmEmail(ConfirmEmailSuccess)
		return nil
	}

	outcome := classifyConfirmEmail(err)
	logrus.WithError(err).WithField("outcome", outcome).Infoln("Email confirmation failed.")
	s.fail(outcome)
	switch outcome {
	case OutcomeAlreadyConfirmed:
		s.setConfirmEmail(ConfirmEmailAlreadyConfirmed)
	case OutcomeInvalidOrExpiredToken:
		s.setConfirmEmail(ConfirmEmailExpired)
	default:
		s.setConfirmEmail(ConfirmEmailFailed)
	}
	return nil
}

func (s *Store) begin(operation string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.inflight[operation] {
		return false
	}
	s.inflight[operation] = true
	return true
}

func (s *Store) end(operation string) {
	s.mutex.Lock()
	delete(s.inflight, operation)
	s.mutex.Unlock()
}

func (s *Store) becomeAuthenticated(account client.Account) {
	s.mutex.Lock()
	s.status = StatusAuthenticated
	s.identity = &account
	s.lastError = OutcomeNone
	s.mutex.Unlock()
	s.changed()
}

func (s *Store) becomeAnonymous() {
	s.mutex.Lock()
	s.status = StatusAnonymous
	s.identity = nil
	s.mutex.Unlock()
	s.changed()
}

func (s *Store) clearError() {
	s.mutex.Lock()
	s.lastError = OutcomeNone
	s.mutex.Unlock()
}

func (s *Store) fail(outcome Outcome) {
	s.mutex.Lock()
	s.lastError = outcome
	s.mutex.Unlock()
}

func (s *Store) setConfirmEmail(state ConfirmEmailState) {
	s.mutex.Lock()
	s.confirmEmail = state
	s.mutex.Unlock()
	s.changed()
}

func (s *Store) changed() {
	s.mutex.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.mutex.Unlock()
	for _, cb := range listeners {
		cb()
	}
}
