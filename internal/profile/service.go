// Package profile manages the account profile of a signed-in principal.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/projectkepler/kepler/internal/store"
	"github.com/projectkepler/kepler/pkg/models"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,30}$`)

// Service reads and updates profiles. Every call is scoped to one owner.
type Service struct {
	store    store.ProfileStore
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a new Service.
func NewService(st store.ProfileStore) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return &Service{
		store:    st,
		validate: v,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Update is a partial profile change. Nil fields are left as they are. An
// empty string clears username, dateOfBirth or gender.
type Update struct {
	Email       *string
	DisplayName *string
	Username    *string
	Bio         *string
	Address     *string
	DateOfBirth *string
	Gender      *string
}

type fields struct {
	Email       string `json:"email"       validate:"omitempty,email,max=254"`
	DisplayName string `json:"displayName" validate:"max=100"`
	Username    string `json:"username"    validate:"omitempty,username"`
	Bio         string `json:"bio"         validate:"max=500"`
	Address     string `json:"address"     validate:"max=200"`
	DateOfBirth string `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	Gender      string `json:"gender"      validate:"omitempty,oneof=male female other"`
}

// Get returns ownerID's profile, creating an empty one on first access.
func (s *Service) Get(ctx context.Context, ownerID string) (*models.Profile, error) {
	if ownerID == "" {
		return nil, models.ErrUnauthenticated
	}
	p, err := s.store.GetProfile(ctx, ownerID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("getting profile: %w", err)
	}

	now := s.now()
	if err := s.store.CreateProfile(ctx, &models.Profile{OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}); err != nil {
		return nil, fmt.Errorf("creating profile: %w", err)
	}
	p, err = s.store.GetProfile(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	slog.Info("profile created", "owner_id", ownerID)
	return p, nil
}

// Update applies u to ownerID's profile and returns the result.
func (s *Service) Update(ctx context.Context, ownerID string, u Update) (*models.Profile, error) {
	p, err := s.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	f := fields{
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Username:    deref(p.Username),
		Bio:         p.Bio,
		Address:     p.Address,
		DateOfBirth: deref(p.DateOfBirth),
		Gender:      deref(p.Gender),
	}
	apply(&f.Email, u.Email)
	apply(&f.DisplayName, u.DisplayName)
	apply(&f.Username, u.Username)
	apply(&f.Bio, u.Bio)
	apply(&f.Address, u.Address)
	apply(&f.DateOfBirth, u.DateOfBirth)
	apply(&f.Gender, u.Gender)
	f.Gender = strings.ToLower(f.Gender)

	if err := s.validate.Struct(f); err != nil {
		return nil, validationError(err)
	}
	if f.DateOfBirth != "" {
		dob, _ := time.Parse(time.DateOnly, f.DateOfBirth)
		if !dob.Before(s.now()) {
			return nil, fmt.Errorf("%w: dateOfBirth must be in the past", models.ErrInvalidInput)
		}
	}

	if f.Username != "" && !strings.EqualFold(f.Username, deref(p.Username)) {
		taken, err := s.store.UsernameTaken(ctx, f.Username, ownerID)
		if err != nil {
			return nil, fmt.Errorf("checking username: %w", err)
		}
		if taken {
			return nil, fmt.Errorf("%w: username is already taken", models.ErrConflict)
		}
	}

	p.Email = f.Email
	p.DisplayName = f.DisplayName
	p.Username = nonEmpty(f.Username)
	p.Bio = f.Bio
	p.Address = f.Address
	p.DateOfBirth = nonEmpty(f.DateOfBirth)
	p.Gender = nonEmpty(f.Gender)
	p.UpdatedAt = s.now()

	if err := s.store.UpdateProfile(ctx, p); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateKey):
			return nil, fmt.Errorf("%w: username is already taken", models.ErrConflict)
		case errors.Is(err, store.ErrNotFound):
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("updating profile: %w", err)
	}

	slog.Info("profile updated", "owner_id", ownerID)
	return p, nil
}

// UsernameAvailable reports whether username is free for ownerID to claim.
func (s *Service) UsernameAvailable(ctx context.Context, ownerID, username string) (bool, error) {
	if ownerID == "" {
		return false, models.ErrUnauthenticated
	}
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return false, fmt.Errorf("%w: username must be 3-30 letters, digits or underscores", models.ErrInvalidInput)
	}
	taken, err := s.store.UsernameTaken(ctx, username, ownerID)
	if err != nil {
		return false, fmt.Errorf("checking username: %w", err)
	}
	return !taken, nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "email":
		return fmt.Errorf("%w: email must be a valid address", models.ErrInvalidInput)
	case "max":
		return fmt.Errorf("%w: %s must be at most %s characters", models.ErrInvalidInput, fe.Field(), fe.Param())
	case "username":
		return fmt.Errorf("%w: username must be 3-30 letters, digits or underscores", models.ErrInvalidInput)
	case "datetime":
		return fmt.Errorf("%w: dateOfBirth must be formatted YYYY-MM-DD", models.ErrInvalidInput)
	case "oneof":
		return fmt.Errorf("%w: %s must be one of %s", models.ErrInvalidInput, fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%w: %s is invalid", models.ErrInvalidInput, fe.Field())
	}
}

func apply(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
