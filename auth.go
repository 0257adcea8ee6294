package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/asdine/storm"
	"github.com/dgrijalva/jwt-go"
	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"
)

const TOKEN_LIFESPAN = 8 * time.Hour

type ctxKey int

const ctxToken ctxKey = iota

//---
// Structs
//

// Operator is a local account allowed to drive the diagnostics API.
type Operator struct {
	ID           int    `storm:"increment"` // pk
	Email        string `storm:"unique"`
	Name         string
	PasswordHash string
	Admin        bool
}

// Sets Operator.PasswordHash from the provided plain text
func (o *Operator) SetPassword(pass []byte) (err error) {
	hash, err := bcrypt.GenerateFromPassword(pass, bcrypt.DefaultCost)
	if err != nil {
		return
	}
	o.PasswordHash = string(hash)
	return
}

// Compares Operator.PasswordHash with the provided plain text.
// Returns the bcrypt error unmodified for downstream processing.
func (o *Operator) VerifyPassword(pass []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(o.PasswordHash), pass)
}

//---
// Payloads
//---

type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (l *LoginPayload) Bind(r *http.Request) error {
	return nil
}

type TokenPayload struct {
	SignedToken string `json:"token"`
}

//---
// Helper functions
//

// Produce a signed token identifying the operator by email
func newToken(sub string) (ts string, err error) {
	now := time.Now().UTC()
	claims := jwt.StandardClaims{
		Issuer:    ENV.JWT_ISSUER,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(TOKEN_LIFESPAN).Unix(),
		Subject:   sub,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(ENV.JWT_SECRET))
}

//---
// Views
//---

// Login verifies an operator's password and hands out a fresh token
func Login(w http.ResponseWriter, r *http.Request) {
	data := &LoginPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	var op Operator
	if err := ENV.DB.One("Email", data.Email, &op); err != nil {
		if err == storm.ErrNotFound {
			render.Render(w, r, ErrNotFound(errors.New("unknown operator")))
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	if err := op.VerifyPassword([]byte(data.Password)); err != nil {
		if err == bcrypt.ErrMismatchedHashAndPassword {
			render.Render(w, r, ErrPermissionDenied(errors.New("invalid password")))
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	tokenString, err := newToken(op.Email)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, TokenPayload{tokenString})
}

// TokenRefresh reissues a token for an already authenticated client
func TokenRefresh(w http.ResponseWriter, r *http.Request) {
	token := r.Context().Value(ctxToken).(*jwt.Token)
	claims := token.Claims.(*jwt.StandardClaims)

	tokenString, err := newToken(claims.Subject)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, TokenPayload{tokenString})
}

//---
// Authentication middleware
//---

var ERR_TOKEN_MISSING = errors.New("bearer token not provided")

// RequireAuth rejects requests that do not carry a valid token.
// The token is read from the Authorization header, or from the
// "jwt" query parameter for websocket clients.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var tokenStr string

		bearer := r.Header.Get("Authorization")
		if len(bearer) > 7 && strings.ToUpper(bearer[0:6]) == "BEARER" {
			tokenStr = bearer[7:]
		}

		if tokenStr == "" {
			tokenStr = r.URL.Query().Get("jwt")
		}

		if tokenStr == "" {
			render.Render(w, r, ErrUnauthorized(ERR_TOKEN_MISSING))
			return
		}

		token, err := jwt.ParseWithClaims(tokenStr,
			&jwt.StandardClaims{},
			func(*jwt.Token) (interface{}, error) { return []byte(ENV.JWT_SECRET), nil })

		if err != nil {
			msg := errors.New("invalid token")
			if jwterr, ok := err.(*jwt.ValidationError); ok &&
				jwterr.Errors&jwt.ValidationErrorExpired != 0 {
				msg = errors.New("token has expired")
			}

			render.Render(w, r, ErrUnauthorized(msg))
			return
		}

		if !token.Valid {
			render.Render(w, r, ErrUnauthorized(errors.New("invalid token")))
			return
		}

		ctx := context.WithValue(r.Context(), ctxToken, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
