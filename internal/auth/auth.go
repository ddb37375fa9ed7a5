// Package auth implements the authenticator: registering users, exchanging
// credentials for access tokens and resolving bearer tokens to user ids.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hanpama/modelgate/internal/executor"
	"github.com/hanpama/modelgate/internal/ir"
)

// Default token lifetime.
const DefaultTokenTTL = 30 * 24 * time.Hour

type Options struct {
	TokenTTL   time.Duration
	BcryptCost int
	Now        func() time.Time
}

type Option func(*Options)

func WithTokenTTL(d time.Duration) Option   { return func(o *Options) { o.TokenTTL = d } }
func WithBcryptCost(n int) Option           { return func(o *Options) { o.BcryptCost = n } }
func WithClock(now func() time.Time) Option { return func(o *Options) { o.Now = now } }

// Service runs authentication against the user and token models of a
// definition.
type Service struct {
	store executor.Store
	user  *ir.ModelDef
	token *ir.ModelDef
	opt   Options
}

// ErrNoAuthenticator is returned by New for definitions without an
// authenticator.
var ErrNoAuthenticator = errors.New("definition declares no authenticator")

func New(def *ir.Definition, store executor.Store, opts ...Option) (*Service, error) {
	if def.Authenticator == nil {
		return nil, ErrNoAuthenticator
	}
	o := Options{TokenTTL: DefaultTokenTTL, Now: time.Now}
	for _, f := range opts {
		f(&o)
	}
	return &Service{
		store: store,
		user:  def.Model(def.Authenticator.UserModel),
		token: def.Model(def.Authenticator.TokenModel),
		opt:   o,
	}, nil
}

// Field names of the authenticator models.
const (
	fieldName         = "name"
	fieldUsername     = "username"
	fieldPasswordHash = "passwordHash"
	fieldToken        = "token"
	fieldExpiryDate   = "expiryDate"
	fieldAuthUserID   = "authUser_id"
)

func errInvalidCredentials() error {
	return executor.NewError(executor.CodeUnauthenticated, "invalid username or password")
}

func errInvalidToken() error {
	return executor.NewError(executor.CodeUnauthenticated, "invalid or expired token")
}

// inTx runs fn in a transaction committed when fn succeeds.
func (s *Service) inTx(ctx context.Context, fn func(tx executor.Tx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) lookup(ctx context.Context, tx executor.Tx, model *ir.ModelDef, field string, value any) (executor.Row, error) {
	rows, err := tx.Select(ctx, model, &executor.Where{Field: field, Values: []any{value}})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Credentials is the body of login requests.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// credentialsFieldset validates register bodies.
var credentialsFieldset = &ir.FieldsetRecord{Properties: []*ir.FieldsetProperty{
	{Name: fieldName, Def: &ir.FieldsetField{Type: ir.TypeString, Required: true}},
	{Name: fieldUsername, Def: &ir.FieldsetField{Type: ir.TypeString, Required: true}},
	{Name: "password", Def: &ir.FieldsetField{Type: ir.TypeString, Required: true}},
}}

// Register creates a user. A taken username is reported as a validation
// error on the username field.
func (s *Service) Register(ctx context.Context, body any) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx executor.Tx) error {
		m, _ := body.(map[string]any)
		markers := executor.Markers{}
		if username, ok := m[fieldUsername].(string); ok {
			existing, err := s.lookup(ctx, tx, s.user, fieldUsername, username)
			if err != nil {
				return err
			}
			if existing != nil {
				markers[fieldUsername] = executor.CodeAlreadyExists
			}
		}
		tree, err := executor.Validate(ctx, credentialsFieldset, body, markers, nil)
		if err != nil {
			return err
		}
		if tree != nil {
			return &executor.Error{Code: executor.CodeValidation, Message: "validation failed", Data: tree}
		}
		hash, err := executor.HashSecret(m["password"].(string), s.opt.BcryptCost)
		if err != nil {
			return err
		}
		row, err := tx.Insert(ctx, s.user, executor.Row{
			fieldName:         m[fieldName],
			fieldUsername:     m[fieldUsername],
			fieldPasswordHash: hash,
		})
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		id = row["id"].(int64)
		return nil
	})
	return id, err
}

// Login checks the credentials and issues a new access token.
func (s *Service) Login(ctx context.Context, c Credentials) (string, error) {
	var token string
	err := s.inTx(ctx, func(tx executor.Tx) error {
		user, err := s.lookup(ctx, tx, s.user, fieldUsername, c.Username)
		if err != nil {
			return err
		}
		if user == nil {
			return errInvalidCredentials()
		}
		hash, _ := user[fieldPasswordHash].(string)
		if !executor.CompareSecret(c.Password, hash) {
			return errInvalidCredentials()
		}
		token, err = executor.NewToken(32)
		if err != nil {
			return err
		}
		_, err = tx.Insert(ctx, s.token, executor.Row{
			fieldToken:      token,
			fieldExpiryDate: s.opt.Now().Add(s.opt.TokenTTL).Unix(),
			fieldAuthUserID: user["id"],
		})
		if err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
		return nil
	})
	return token, err
}

// Logout revokes token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.inTx(ctx, func(tx executor.Tx) error {
		row, err := s.lookup(ctx, tx, s.token, fieldToken, token)
		if err != nil {
			return err
		}
		if row == nil {
			return errInvalidToken()
		}
		return tx.Delete(ctx, s.token, row["id"].(int64))
	})
}

// Authenticate resolves a bearer token to the id of its user. It returns
// nil for unknown and expired tokens.
func (s *Service) Authenticate(ctx context.Context, token string) (*int64, error) {
	var id *int64
	err := s.inTx(ctx, func(tx executor.Tx) error {
		row, err := s.lookup(ctx, tx, s.token, fieldToken, token)
		if err != nil || row == nil {
			return err
		}
		if exp, _ := row[fieldExpiryDate].(int64); exp < s.opt.Now().Unix() {
			return nil
		}
		uid := row[fieldAuthUserID].(int64)
		id = &uid
		return nil
	})
	return id, err
}
