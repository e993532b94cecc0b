// Package service contains the identity service: joining the chat with a
// codeword and issuing the session token carried by the chat cookie.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	pkgcrypto "github.com/Tyrowin/roomchat/internal/crypto"
	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/model"
	"github.com/Tyrowin/roomchat/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

const (
	minUsername = 2
	maxUsername = 20
	maxCodeword = 100
)

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N} _.\-]+$`)

// JoinRequest is a join attempt. A request with UUID is a returning user;
// without it a new identity is created. SessionUser is the identity already
// proven by the caller's session cookie, uuid.Nil if none.
type JoinRequest struct {
	UUID        string
	Username    string
	Codeword    string
	SessionUser uuid.UUID
}

// IdentityService defines join and session token operations.
type IdentityService interface {
	// Join creates or re-authenticates a user.
	Join(ctx context.Context, req JoinRequest) (*model.User, error)
	// IssueToken signs a session token for userID.
	IssueToken(userID uuid.UUID) (string, time.Time, error)
	// Authenticate resolves a session token to its user.
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

type IdentityServiceImpl struct {
	users   repository.UserRepository
	signKey []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewIdentityService constructs IdentityService with required dependencies.
func NewIdentityService(users repository.UserRepository, signKey []byte, ttl time.Duration) *IdentityServiceImpl {
	return &IdentityServiceImpl{users: users, signKey: signKey, ttl: ttl, now: time.Now}
}

// ValidateUsername checks the display-name rules.
func ValidateUsername(name string) error {
	n := utf8.RuneCountInString(name)
	if n < minUsername || n > maxUsername {
		return fmt.Errorf("%w: username must be %d-%d characters", errs.ErrInvalidInput, minUsername, maxUsername)
	}
	if !usernamePattern.MatchString(name) {
		return fmt.Errorf("%w: username may contain letters, digits, spaces and _ - .", errs.ErrInvalidInput)
	}
	return nil
}

// Join authenticates a returning user or registers a new one.
func (s *IdentityServiceImpl) Join(ctx context.Context, req JoinRequest) (*model.User, error) {
	codeword := strings.TrimSpace(req.Codeword)
	if utf8.RuneCountInString(codeword) > maxCodeword {
		return nil, fmt.Errorf("%w: codeword too long", errs.ErrInvalidInput)
	}

	if req.UUID != "" {
		return s.rejoin(ctx, req.UUID, codeword, req.SessionUser)
	}
	if codeword == "" {
		return nil, fmt.Errorf("%w: codeword is required", errs.ErrInvalidInput)
	}
	return s.register(ctx, strings.TrimSpace(req.Username), codeword)
}

func (s *IdentityServiceImpl) rejoin(ctx context.Context, rawID, codeword string, sessionUser uuid.UUID) (*model.User, error) {
	id, err := uuid.FromString(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed user id", errs.ErrInvalidInput)
	}
	u, err := s.users.GetByUUID(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		// unknown ids are reported like wrong codewords
		return nil, errs.ErrUnauthenticated
	}
	if err != nil {
		return nil, errs.Persistence("load user", err)
	}

	switch {
	case codeword != "":
		if !pkgcrypto.VerifyCodeword([]byte(codeword), u.CodewordSalt, u.CodewordHash) {
			return nil, errs.ErrUnauthenticated
		}
	case sessionUser != u.UUID:
		return nil, errs.ErrUnauthenticated
	}
	return u, nil
}

func (s *IdentityServiceImpl) register(ctx context.Context, username, codeword string) (*model.User, error) {
	if username == "" {
		b, err := pkgcrypto.RandBytes(4)
		if err != nil {
			return nil, err
		}
		username = fmt.Sprintf("User_%x", b)
	}
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	salt, err := pkgcrypto.RandBytes(pkgcrypto.SaltLen)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		UUID:         uid,
		Username:     username,
		CodewordHash: pkgcrypto.HashCodeword([]byte(codeword), salt),
		CodewordSalt: salt,
		LastSeen:     s.now(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: username %q is taken", errs.ErrAlreadyExists, username)
		}
		return nil, errs.Persistence("create user", err)
	}
	return u, nil
}

// IssueToken creates a signed HS256 JWT for the given subject.
func (s *IdentityServiceImpl) IssueToken(userID uuid.UUID) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

// Authenticate verifies token and loads its subject.
func (s *IdentityServiceImpl) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, errs.ErrUnauthenticated
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.signKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, errs.ErrUnauthenticated
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return nil, errs.ErrUnauthenticated
	}
	u, err := s.users.GetByUUID(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrUnauthenticated
	}
	if err != nil {
		return nil, errs.Persistence("load user", err)
	}
	return u, nil
}
