package httpapi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"kasirinaja/dinein/internal/domain"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errInvalidToken       = errors.New("invalid or expired token")
)

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

// AuthManager issues bearer tokens for staff accounts kept in a UserStore.
// Accounts are cached and reloaded before every login so staff created on
// another instance can sign in.
type AuthManager struct {
	secret     []byte
	tokenTTL   time.Duration
	managerPIN []byte
	users      UserStore

	mu    sync.RWMutex
	staff map[string]domain.UserAccount
}

type staffClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

var staffRoles = map[string]bool{
	domain.RoleCashier: true,
	domain.RoleWaiter:  true,
	domain.RoleKitchen: true,
	domain.RoleManager: true,
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	a := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		staff:    make(map[string]domain.UserAccount),
	}
	// An empty PIN leaves managerPIN nil and every PIN check fails.
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		if hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost); err == nil {
			a.managerPIN = hash
		}
	}
	a.refresh(context.Background())
	return a
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	loadCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	a.refresh(loadCtx)
	cancel()

	account, ok := a.lookup(req.Username)
	if !ok || !matchesHash([]byte(account.Password), req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   account.Username,
			Issuer:    "dinein",
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: account.Role,
	}).SignedString(a.secret)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken returns the actor named by a valid HS256 token.
func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	claims := &staffClaims{}
	token, err := jwtlib.ParseWithClaims(raw, claims, func(*jwtlib.Token) (any, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer("dinein"))
	if err != nil || !token.Valid || claims.Subject == "" {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	return matchesHash(a.managerPIN, strings.TrimSpace(pin))
}

// CreateStaff adds an account with a bcrypt-hashed password. Role defaults
// to cashier.
func (a *AuthManager) CreateStaff(ctx context.Context, req domain.StaffCreateRequest) (domain.StaffUser, error) {
	username := normalizeUsername(req.Username)
	switch {
	case len(username) < 4:
		return domain.StaffUser{}, errors.New("username must be at least 4 characters")
	case strings.ContainsAny(username, " \t\r\n"):
		return domain.StaffUser{}, errors.New("username must not contain spaces")
	case len(strings.TrimSpace(req.Password)) < 6:
		return domain.StaffUser{}, errors.New("password must be at least 6 characters")
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleCashier
	}
	if !staffRoles[role] {
		return domain.StaffUser{}, fmt.Errorf("unknown role %q", req.Role)
	}

	a.refresh(ctx)
	if _, exists := a.lookup(username); exists {
		return domain.StaffUser{}, errors.New("username already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.StaffUser{}, errors.New("failed to hash password")
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		Role:      role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if a.users != nil {
		if err := a.users.CreateUser(ctx, account); err != nil {
			return domain.StaffUser{}, err
		}
	}

	a.mu.Lock()
	a.staff[username] = account
	a.mu.Unlock()
	return staffView(account), nil
}

func (a *AuthManager) ListStaff(ctx context.Context) []domain.StaffUser {
	a.refresh(ctx)
	a.mu.RLock()
	result := make([]domain.StaffUser, 0, len(a.staff))
	for _, account := range a.staff {
		result = append(result, staffView(account))
	}
	a.mu.RUnlock()
	slices.SortFunc(result, func(x, y domain.StaffUser) int {
		return strings.Compare(x.Username, y.Username)
	})
	return result
}

// refresh replaces cached accounts with what the store holds. A failed or
// empty read keeps the cache.
func (a *AuthManager) refresh(ctx context.Context) {
	if a.users == nil {
		return
	}
	accounts, err := a.users.ListUsers(ctx)
	if err != nil || len(accounts) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, account := range accounts {
		if username := normalizeUsername(account.Username); username != "" {
			account.Username = username
			a.staff[username] = account
		}
	}
}

func (a *AuthManager) lookup(username string) (domain.UserAccount, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	account, ok := a.staff[normalizeUsername(username)]
	return account, ok
}

func staffView(account domain.UserAccount) domain.StaffUser {
	return domain.StaffUser{
		Username:  account.Username,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// matchesHash only accepts bcrypt hashes; a plain-text value never matches.
func matchesHash(hash []byte, input string) bool {
	if len(hash) == 0 || strings.TrimSpace(input) == "" {
		return false
	}
	if _, err := bcrypt.Cost(hash); err != nil {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(input)) == nil
}
