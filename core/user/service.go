package user

import (
	"context"
	"errors"
	"time"

	"github.com/darasahq/darasa/core"
)

var (
	// errors
	ErrNotFound       = errors.New("user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		// GetUsersByID returns the found users keyed by ID; unknown IDs are simply absent.
		GetUsersByID(ctx context.Context, ids []string) (map[string]User, error)
		GetUserByUsernameOrEmail(ctx context.Context, username string) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		// SearchUsers does a case-insensitive match on one of User.Name, User.Username or User.Email;
		// only active users are returned.
		SearchUsers(ctx context.Context, query string, excludedIDs []string) ([]User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
	}

	ServiceInterface interface {
		Create(ctx context.Context, nu NewUser) (User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (User, error)
		GetProfile(ctx context.Context, id string) (Profile, error)
		GetProfiles(ctx context.Context, ids []string) (map[string]Profile, error)
		Search(ctx context.Context, requesterID, query string) ([]Profile, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error
	}

	service struct {
		repo Repository
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository) *service {
	return &service{repo: repo}
}

func (svc *service) CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, exclUsers); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		IsActive:  true,
		Roles:     nu.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *service) GetProfile(ctx context.Context, id string) (Profile, error) {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return usr.Profile(), nil
}

func (svc *service) GetProfiles(ctx context.Context, ids []string) (map[string]Profile, error) {
	users, err := svc.repo.GetUsersByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	profiles := make(map[string]Profile, len(users))
	for id, usr := range users {
		profiles[id] = usr.Profile()
	}
	return profiles, nil
}

func (svc *service) Search(ctx context.Context, requesterID, query string) ([]Profile, error) {
	query = core.CleanString(query)
	if query == "" {
		return []Profile{}, nil
	}
	users, err := svc.repo.SearchUsers(ctx, query, []string{requesterID})
	if err != nil {
		return nil, err
	}
	profiles := make([]Profile, 0, len(users))
	for _, usr := range users {
		profiles = append(profiles, usr.Profile())
	}
	return profiles, nil
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	return svc.repo.SetLastLogin(ctx, usr)
}
