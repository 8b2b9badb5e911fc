package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	apperrors "github.com/stockmeta/internal/errors"
	"github.com/stockmeta/internal/auth"
	"github.com/stockmeta/internal/logging"
	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/storage"
	"github.com/stockmeta/internal/types"
)

// UserService handles registration, login and account administration.
type UserService struct {
	users  UserStore
	txs    TransactionStore
	promos *PromoService
	audit  AuditStore
}

// NewUserService creates a new user service
func NewUserService(users UserStore, txs TransactionStore, promos *PromoService, audit AuditStore) *UserService {
	return &UserService{
		users:  users,
		txs:    txs,
		promos: promos,
		audit:  audit,
	}
}

// RegisterRequest carries a new account registration
type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"fullName"`
	HardwareID string `json:"hardwareId"`
	AppVersion string `json:"appVersion"`
}

// Register creates an account and applies any active welcome bonus
func (s *UserService) Register(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperrors.NewInvalidParameterError("email", "a valid email is required")
	}
	if len(req.Password) < 8 {
		return nil, apperrors.NewInvalidParameterError("password", "must be at least 8 characters")
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.NewStoreError("check email", err)
	}
	if exists {
		return nil, apperrors.NewInvalidParameterError("email", "email is already registered")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to hash password", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     req.FullName,
		Status:       types.StatusActive,
		HardwareID:   req.HardwareID,
		AppVersion:   req.AppVersion,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperrors.NewStoreError("create user", err)
	}

	s.applyWelcomeBonus(ctx, user)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"userId": user.ID,
		"email":  user.Email,
	}).Info("User registered")

	return user, nil
}

// applyWelcomeBonus grants the registration bonus, if one is active. Failure
// to grant never fails the registration.
func (s *UserService) applyWelcomeBonus(ctx context.Context, user *models.User) {
	if s.promos == nil {
		return
	}

	promo, bonus, err := s.promos.WelcomeBonus(ctx)
	if err != nil || promo == nil || bonus <= 0 {
		if err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Failed to look up welcome bonus")
		}
		return
	}

	balance, err := s.users.AddCredits(ctx, user.ID, bonus)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to grant welcome bonus")
		return
	}
	user.Credits = balance

	if err := s.txs.Create(ctx, &models.Transaction{
		UserID:       user.ID,
		Type:         types.TxTopup,
		Amount:       bonus,
		BalanceAfter: balance,
		Description:  "Welcome bonus: " + promo.Name,
	}); err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to append welcome bonus ledger entry")
	}

	if s.audit != nil {
		_ = s.audit.Insert(ctx, &models.AuditEvent{
			EventType: "welcome_bonus_granted",
			UserID:    user.ID,
			Severity:  models.SeverityInfo,
			Details: map[string]string{
				"promoId": promo.ID,
				"bonus":   strconv.FormatInt(bonus, 10),
			},
		})
	}
}

// LoginRequest carries a login attempt
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	HardwareID string `json:"hardwareId"`
	AppVersion string `json:"appVersion"`
}

// Login verifies credentials and rebinds the device. A hardware ID change is
// allowed but recorded, so shared accounts show up in the audit stream
// instead of locking the owner out.
func (s *UserService) Login(ctx context.Context, req *LoginRequest) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NewUnauthorizedError("invalid email or password")
		}
		return nil, apperrors.NewStoreError("get user", err)
	}

	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		return nil, apperrors.NewUnauthorizedError("invalid email or password")
	}

	if user.Disabled() {
		return nil, apperrors.NewAccountDisabledError(user.Status)
	}

	if req.HardwareID != "" && user.HardwareID != "" && user.HardwareID != req.HardwareID {
		if s.audit != nil {
			_ = s.audit.Insert(ctx, &models.AuditEvent{
				EventType: "device_rebind",
				UserID:    user.ID,
				Severity:  models.SeverityWarning,
				Details: map[string]string{
					"previousHardwareId": user.HardwareID,
					"newHardwareId":      req.HardwareID,
				},
			})
		}
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"userId": user.ID,
		}).Warn("Login from new device, rebinding")
	}

	if err := s.users.RecordLogin(ctx, user.ID, req.HardwareID, req.AppVersion); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to record login")
	}
	user.HardwareID = req.HardwareID
	user.AppVersion = req.AppVersion

	return user, nil
}

// Get returns a user by ID
func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("user", userID)
		}
		return nil, apperrors.NewStoreError("get user", err)
	}
	return user, nil
}

// List returns a page of users for the admin console
func (s *UserService) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.NewStoreError("list users", err)
	}
	return users, nil
}

// SetStatus changes an account's standing. Open jobs are unaffected; a
// suspended user's in-flight job still finalizes and refunds normally.
func (s *UserService) SetStatus(ctx context.Context, userID string, status types.UserStatus) error {
	switch status {
	case types.StatusActive, types.StatusSuspended, types.StatusBanned:
	default:
		return apperrors.NewInvalidParameterError("status", "unknown account status")
	}

	if err := s.users.UpdateStatus(ctx, userID, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NewNotFoundError("user", userID)
		}
		return apperrors.NewStoreError("update user status", err)
	}

	if s.audit != nil {
		_ = s.audit.Insert(ctx, &models.AuditEvent{
			EventType: "account_status_changed",
			UserID:    userID,
			Severity:  models.SeverityWarning,
			Details:   map[string]string{"status": string(status)},
		})
	}

	return nil
}

// Grant credits an account manually (admin compensation, support goodwill).
// The grant is recorded as a TOPUP ledger entry so statements stay complete.
func (s *UserService) Grant(ctx context.Context, userID string, amount int64, reason string) (*models.User, error) {
	if amount <= 0 {
		return nil, apperrors.NewInvalidParameterError("amount", "grant must be positive")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("user", userID)
		}
		return nil, apperrors.NewStoreError("get user", err)
	}

	balance, err := s.users.AddCredits(ctx, userID, amount)
	if err != nil {
		return nil, apperrors.NewStoreError("grant credits", err)
	}

	description := "Manual credit grant"
	if reason != "" {
		description = "Manual credit grant: " + reason
	}
	if err := s.txs.Create(ctx, &models.Transaction{
		UserID:       userID,
		Type:         types.TxTopup,
		Amount:       amount,
		BalanceAfter: balance,
		Description:  description,
	}); err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to append ledger entry for grant")
	}

	if s.audit != nil {
		_ = s.audit.Insert(ctx, &models.AuditEvent{
			EventType: "credits_granted",
			UserID:    userID,
			Severity:  models.SeverityWarning,
			Details: map[string]string{
				"amount": strconv.FormatInt(amount, 10),
				"reason": reason,
			},
		})
	}

	user.Credits = balance
	return user, nil
}
