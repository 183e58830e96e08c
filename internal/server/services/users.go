package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/ssjbox/ssjbox/internal/common"
	"github.com/ssjbox/ssjbox/internal/cryptox"
	"github.com/ssjbox/ssjbox/internal/logging"
	"github.com/ssjbox/ssjbox/internal/server/models"
	"github.com/ssjbox/ssjbox/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// dummyPasswordHash is compared against when the account does not exist, so
// unknown usernames cost the same as wrong passwords.
var dummyPasswordHash = []byte("$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW")

// Profile is the decrypted PII of an account, assembled on demand and never
// persisted in the clear.
type Profile struct {
	Prefix    string
	FirstName string
	LastName  string
	Position  string
	CitizenID string
	Email     string
	Phone     string
}

// RegisterRequest carries a new account application. All PII travels in the
// clear only inside this struct; it is encrypted before it reaches a
// repository.
type RegisterRequest struct {
	UserName string
	Password string
	HospCode string
	Profile  Profile
}

// UserService manages accounts: registration with field encryption,
// credential checks and approval state.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cipher      *cryptox.FieldCipher
	logger      logging.Logger
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cipher *cryptox.FieldCipher, logger logging.Logger) *UserService {
	return &UserService{db: db, repomanager: m, cipher: cipher, logger: logger}
}

// Register validates the application, encrypts the PII fields and creates a
// pending account. Duplicate usernames or PII return
// common.ErrorAlreadyExists; the caller decides how much of that to reveal.
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	repo := s.repomanager.Users(s.db)

	cidHash := s.cipher.HashForLookup(req.Profile.CitizenID)
	emailHash := s.cipher.HashForLookup(strings.ToLower(req.Profile.Email))
	exists, err := repo.ExistsByLookupHashes(ctx, cidHash, emailHash)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if exists {
		return nil, common.ErrorAlreadyExists
	}

	pwHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		ID:             uuid.NewString(),
		UserName:       req.UserName,
		PasswordHash:   string(pwHash),
		Status:         models.UserStatusPending,
		Role:           "member",
		HospCode:       req.HospCode,
		SessionTimeout: 1800,
		CitizenIDHash:  cidHash,
		EmailHash:      emailHash,
	}
	if err := s.encryptProfile(user, req.Profile); err != nil {
		return nil, err
	}

	created, err := repo.Create(ctx, user)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "account registered", "user", created.UserName, "hospcode", created.HospCode)
	return created, nil
}

func (s *UserService) encryptProfile(u *models.User, p Profile) error {
	var err error
	enc := func(v string) []byte {
		if err != nil {
			return nil
		}
		var blob []byte
		blob, err = s.cipher.EncryptString(v)
		return blob
	}
	u.EncPrefix = enc(p.Prefix)
	u.EncFirstName = enc(p.FirstName)
	u.EncLastName = enc(p.LastName)
	u.EncPosition = enc(p.Position)
	u.EncCitizenID = enc(p.CitizenID)
	u.EncEmail = enc(p.Email)
	u.EncPhone = enc(p.Phone)
	if err != nil {
		return fmt.Errorf("encrypt profile: %w", err)
	}
	return nil
}

// DecryptProfile reassembles the clear PII of a user. Decryption fails
// closed: a single damaged field makes the whole profile unavailable.
func (s *UserService) DecryptProfile(u *models.User) (*Profile, error) {
	var err error
	dec := func(blob []byte) string {
		if err != nil {
			return ""
		}
		var v string
		v, err = s.cipher.DecryptString(blob)
		return v
	}
	p := &Profile{
		Prefix:    dec(u.EncPrefix),
		FirstName: dec(u.EncFirstName),
		LastName:  dec(u.EncLastName),
		Position:  dec(u.EncPosition),
		CitizenID: dec(u.EncCitizenID),
		Email:     dec(u.EncEmail),
		Phone:     dec(u.EncPhone),
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Authenticate checks credentials and account state. It returns
// common.ErrorUnauthorized for a bad username or password without revealing
// which, and pending/disabled errors only after the password matched.
func (s *UserService) Authenticate(ctx context.Context, userName, password string) (*models.User, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByUserName(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, common.ErrorUnauthorized
	}

	switch user.Status {
	case models.UserStatusActive:
	case models.UserStatusPending:
		return nil, common.ErrorAccountPending
	case models.UserStatusDisabled:
		return nil, common.ErrorAccountDisabled
	default:
		return nil, common.ErrorUnauthorized
	}

	if err := repo.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn(ctx, "last login update failed", "user", user.ID, "error", err.Error())
	}
	return user, nil
}

// Get returns an account by id.
func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	return s.repomanager.Users(s.db).GetByID(ctx, userID)
}

// Approve activates a pending account.
func (s *UserService) Approve(ctx context.Context, userID string) error {
	return s.setStatus(ctx, userID, models.UserStatusActive)
}

// Disable blocks an account from logging in.
func (s *UserService) Disable(ctx context.Context, userID string) error {
	return s.setStatus(ctx, userID, models.UserStatusDisabled)
}

func (s *UserService) setStatus(ctx context.Context, userID, status string) error {
	if _, err := s.repomanager.Users(s.db).GetByID(ctx, userID); err != nil {
		return err
	}
	if err := s.repomanager.Users(s.db).SetStatus(ctx, userID, status); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

func validateRegistration(req RegisterRequest) error {
	if l := len(req.UserName); l < 4 || l > 32 {
		return fmt.Errorf("username must be 4-32 characters: %w", common.ErrorInvalidInput)
	}
	for _, r := range req.UserName {
		ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '.'
		if !ok {
			return fmt.Errorf("username contains invalid characters: %w", common.ErrorInvalidInput)
		}
	}
	if len(req.Password) < 8 {
		return fmt.Errorf("password too short: %w", common.ErrorInvalidInput)
	}
	if req.Profile.FirstName == "" || req.Profile.LastName == "" {
		return fmt.Errorf("name is required: %w", common.ErrorInvalidInput)
	}
	if !ValidCitizenID(req.Profile.CitizenID) {
		return fmt.Errorf("invalid citizen id: %w", common.ErrorInvalidInput)
	}
	if _, err := mail.ParseAddress(req.Profile.Email); err != nil {
		return fmt.Errorf("invalid email: %w", common.ErrorInvalidInput)
	}
	if l := len(req.HospCode); l != 5 {
		return fmt.Errorf("hospcode must be 5 digits: %w", common.ErrorInvalidInput)
	}
	for _, r := range req.HospCode {
		if r < '0' || r > '9' {
			return fmt.Errorf("hospcode must be 5 digits: %w", common.ErrorInvalidInput)
		}
	}
	return nil
}

// ValidCitizenID checks a 13-digit Thai citizen id using the mod-11 check
// digit: sum of the first 12 digits weighted 13..2, check = (11 - sum mod
// 11) mod 10.
func ValidCitizenID(cid string) bool {
	if len(cid) != 13 {
		return false
	}
	sum := 0
	for i := 0; i < 12; i++ {
		d := cid[i]
		if d < '0' || d > '9' {
			return false
		}
		sum += int(d-'0') * (13 - i)
	}
	last := cid[12]
	if last < '0' || last > '9' {
		return false
	}
	check := (11 - sum%11) % 10
	return int(last-'0') == check
}
