package identity

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/tuanvm/timeright/internal/domain"
	"github.com/tuanvm/timeright/internal/errors"
)

const defaultTokenTTL = 30 * time.Minute

type Config struct {
	DB     *pgxpool.Pool
	Clock  clockwork.Clock
	Secret string
	// TokenTTL is the access token lifetime. Defaults to 30 minutes.
	TokenTTL time.Duration
}

// Service issues and verifies the user identities the game trusts. Every
// other component receives a user id that already passed Verify.
type Service struct {
	db       *pgxpool.Pool
	clock    clockwork.Clock
	secret   []byte
	tokenTTL time.Duration
}

func NewService(c Config) *Service {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = defaultTokenTTL
	}

	return &Service{
		db:       c.DB,
		clock:    c.Clock,
		secret:   []byte(c.Secret),
		tokenTTL: c.TokenTTL,
	}
}

type RegisterRequest struct {
	Username string
	Password string
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*domain.User, error) {
	if req.Username == "" || req.Password == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("username and password are required"))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate user ID: %w", err)
	}

	const stmt = `INSERT INTO users (user_id, username, password_hash) VALUES ($1, $2, $3);`

	_, err = s.db.Exec(ctx, stmt, id, req.Username, string(hash))

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("username taken: %s", req.Username),
			errors.WithCause(err))
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &domain.User{UserID: id.String(), Username: req.Username}, nil
}

type LoginRequest struct {
	Username string
	Password string
}

type LoginResponse struct {
	User        domain.User
	AccessToken string
	ExpireTime  time.Time
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	const stmt = `SELECT user_id, username, password_hash FROM users WHERE username = $1;`

	var (
		u    domain.User
		hash string
	)
	err := s.db.QueryRow(ctx, stmt, req.Username).Scan(&u.UserID, &u.Username, &hash)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid username or password"))
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid username or password"))
	}

	now := s.clock.Now()
	exp := now.Add(s.tokenTTL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  u.UserID,
		"name": u.Username,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &LoginResponse{
		User:        u,
		AccessToken: signed,
		ExpireTime:  exp,
	}, nil
}

// Verify parses an access token and returns the user it identifies.
func (s *Service) Verify(_ context.Context, token string) (*domain.User, error) {
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil || !parsed.Valid {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid access token"),
			errors.WithCause(err))
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid access token"))
	}

	sub, _ := claims["sub"].(string)
	name, _ := claims["name"].(string)
	if sub == "" {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid access token"))
	}

	return &domain.User{UserID: sub, Username: name}, nil
}
