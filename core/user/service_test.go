package user_test

import (
	"context"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/user"
	dummydb "github.com/darasahq/darasa/storage/database/dummy"
	testutil "github.com/darasahq/darasa/tests"
)

func setup(t *testing.T) (user.ServiceInterface, user.Repository, *validator.Validate) {
	t.Helper()

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}
	repo := dummydb.NewUserRepository(db)
	svc := user.NewService(repo)

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	return svc, repo, validate
}

func newUser(uname string) user.NewUser {
	return user.NewUser{
		Name:            "Jane Doe",
		Username:        uname,
		Email:           uname + "@test.cd",
		Password:        "V3ry$ecret!",
		PasswordConfirm: "V3ry$ecret!",
		Roles:           []string{user.RoleStudent},
	}
}

func TestNewUser_Validate(t *testing.T) {
	svc, _, validate := setup(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(nu *user.NewUser)
		wantErr bool
	}{
		{name: "valid", mutate: func(nu *user.NewUser) {}},
		{name: "missing name", mutate: func(nu *user.NewUser) { nu.Name = "" }, wantErr: true},
		{name: "short username", mutate: func(nu *user.NewUser) { nu.Username = "jd" }, wantErr: true},
		{name: "bad email", mutate: func(nu *user.NewUser) { nu.Email = "not-an-email" }, wantErr: true},
		{name: "password mismatch", mutate: func(nu *user.NewUser) { nu.PasswordConfirm = "other" }, wantErr: true},
		{name: "unknown role", mutate: func(nu *user.NewUser) { nu.Roles = []string{"janitor:"} }, wantErr: true},
		{
			name: "password too short",
			mutate: func(nu *user.NewUser) {
				nu.Password = "aB1$"
				nu.PasswordConfirm = "aB1$"
			},
			wantErr: true,
		},
		{
			name: "password with whitespace",
			mutate: func(nu *user.NewUser) {
				nu.Password = "aB1$ aB1$"
				nu.PasswordConfirm = "aB1$ aB1$"
			},
			wantErr: true,
		},
		{
			name: "all-numeric password",
			mutate: func(nu *user.NewUser) {
				nu.Password = "12345678"
				nu.PasswordConfirm = "12345678"
			},
			wantErr: true,
		},
		{
			name: "password missing complexity",
			mutate: func(nu *user.NewUser) {
				nu.Password = "alllowercase1"
				nu.PasswordConfirm = "alllowercase1"
			},
			wantErr: true,
		},
		{
			name: "password similar to email",
			mutate: func(nu *user.NewUser) {
				nu.Email = "v3ry.secret@test.cd"
				nu.Password = "V3ry.$ecret@test.cd"
				nu.PasswordConfirm = "V3ry.$ecret@test.cd"
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nu := newUser("janedoe")
			tt.mutate(&nu)
			err := nu.Validate(ctx, validate, svc)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewUser_Validate_uniqueness(t *testing.T) {
	svc, repo, validate := setup(t)
	ctx := context.Background()

	testutil.CreateUser(t, repo, "Taken", "takenuser", "taken@test.cd", "", nil, true)

	t.Run("duplicate username", func(t *testing.T) {
		nu := newUser("takenuser")
		nu.Email = "fresh@test.cd"
		err := nu.Validate(ctx, validate, svc)
		vErr, ok := errors.Cause(err).(*core.ValidationError)
		if !ok {
			t.Fatalf("Validate() error = %v, want ValidationError", err)
		}
		if len(vErr.Fields) != 1 || vErr.Fields[0].Field != "username" {
			t.Errorf("Fields = %v, want username error", vErr.Fields)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		nu := newUser("freshuser")
		nu.Email = "taken@test.cd"
		err := nu.Validate(ctx, validate, svc)
		vErr, ok := errors.Cause(err).(*core.ValidationError)
		if !ok {
			t.Fatalf("Validate() error = %v, want ValidationError", err)
		}
		if len(vErr.Fields) != 1 || vErr.Fields[0].Field != "email" {
			t.Errorf("Fields = %v, want email error", vErr.Fields)
		}
	})
}

func TestService_Create(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	usr, err := svc.Create(ctx, newUser("janedoe"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if usr.ID == "" {
		t.Error("empty ID")
	}
	if !usr.IsActive {
		t.Error("IsActive = false, want true")
	}
	if err = usr.CheckPassword("V3ry$ecret!"); err != nil {
		t.Errorf("CheckPassword() failed: %v", err)
	}
	if !usr.IsStudent() || usr.IsAdmin() {
		t.Errorf("Roles = %v", usr.Roles)
	}
}

func TestService_GetProfiles(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	jane := testutil.CreateUser(t, repo, "Jane", "janedoe", "jane@test.cd", "", nil, true)

	profiles, err := svc.GetProfiles(ctx, []string{jane.ID, "no-such-id"})
	if err != nil {
		t.Fatalf("GetProfiles() failed: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("len(profiles) = %d, want 1", len(profiles))
	}
	if got := profiles[jane.ID]; got != jane.Profile() {
		t.Errorf("profile = %+v, want %+v", got, jane.Profile())
	}
}

func TestService_SetLastLogin(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, repo, "Jane", "janedoe", "jane@test.cd", "", nil, true)
	if !usr.LastLogin.IsZero() {
		t.Fatal("fresh user already has LastLogin")
	}

	if _, err := svc.SetLastLogin(ctx, usr); err != nil {
		t.Fatalf("SetLastLogin() failed: %v", err)
	}
	stored, err := repo.GetUserByID(ctx, usr.ID)
	if err != nil {
		t.Fatalf("GetUserByID() failed: %v", err)
	}
	if stored.LastLogin.IsZero() {
		t.Error("LastLogin not set")
	}
}
