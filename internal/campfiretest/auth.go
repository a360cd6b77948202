package campfiretest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const contextKeyAccount = "account"

var errUnknownAccount = errors.New("unknown account")

// claims are carried by OAuth bearer tokens.
type claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

type jwtConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

func generateToken(cfg jwtConfig, userID int64, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   fmt.Sprint(userID),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	return token.SignedString(cfg.Secret)
}

func validateToken(cfg jwtConfig, tokenString string) (*claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	}, jwt.WithIssuer(cfg.Issuer))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	parsed, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return parsed, nil
}

// AddUser creates an account with a fresh API token. The password is stored
// as a bcrypt hash and accepted for basic-auth login.
func (s *Server) AddUser(name, email, password string) (Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	account := &Account{
		ID:           s.allocID(),
		Name:         name,
		Email:        email,
		Token:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		CreatedAt:    s.now(),
		passwordHash: string(hash),
	}
	s.accounts[account.ID] = account
	return *account, nil
}

// SetAdmin flips the admin flag of an account.
func (s *Server) SetAdmin(userID int64, admin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.accounts[userID]; ok {
		account.Admin = admin
	}
}

// IssueOAuthToken returns a signed bearer token for userID.
func (s *Server) IssueOAuthToken(userID int64) (string, error) {
	s.mu.Lock()
	_, ok := s.accounts[userID]
	s.mu.Unlock()
	if !ok {
		return "", errUnknownAccount
	}
	return generateToken(s.jwt, userID, s.now())
}

// authenticate accepts a bearer token, basic auth with an API token as the
// username, or basic auth with a name or email and password.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := s.accountFor(c.Request)
		if err != nil {
			s.log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("authentication failed")
			c.String(http.StatusUnauthorized, "HTTP Basic: Access denied.\n")
			c.Abort()
			return
		}
		c.Set(contextKeyAccount, account)
		c.Next()
	}
}

func (s *Server) accountFor(r *http.Request) (Account, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Account{}, errors.New("missing authorization header")
	}

	if scheme, token, ok := strings.Cut(header, " "); ok && scheme == "Bearer" {
		parsed, err := validateToken(s.jwt, token)
		if err != nil {
			return Account{}, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		account, ok := s.accounts[parsed.UserID]
		if !ok {
			return Account{}, errUnknownAccount
		}
		return *account, nil
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		return Account{}, errors.New("invalid authorization header format")
	}

	s.mu.Lock()
	var byLogin *Account
	for _, account := range s.accounts {
		if account.Token == username {
			found := *account
			s.mu.Unlock()
			return found, nil
		}
		if account.Name == username || account.Email == username {
			byLogin = account
		}
	}
	var candidate Account
	if byLogin != nil {
		candidate = *byLogin
	}
	s.mu.Unlock()

	if byLogin == nil {
		return Account{}, errUnknownAccount
	}
	if err := bcrypt.CompareHashAndPassword([]byte(candidate.passwordHash), []byte(password)); err != nil {
		return Account{}, fmt.Errorf("compare password: %w", err)
	}
	return candidate, nil
}

func currentAccount(c *gin.Context) Account {
	value, _ := c.Get(contextKeyAccount)
	account, _ := value.(Account)
	return account
}
