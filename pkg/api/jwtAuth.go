package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"edgehost/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

const (
	issuer = "edgehost"
	// ScopeManage allows every endpoint management route.
	ScopeManage = "endpoints:manage"
)

// SessionClaims are the claims of an edgehost management session token.
type SessionClaims struct {
	Username string `json:"username"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// JwtAuth handles operator authentication and the management session tokens.
type JwtAuth struct {
	jwtSecret     []byte
	adminUsername string
	adminPassHash []byte
	session       time.Duration
}

// Auth creates a JwtAuth from the security section of cfg. Sessions default to 24 hours.
func Auth(cfg *config.Config) *JwtAuth {
	hours := cfg.SessionDurationHours
	if hours <= 0 {
		hours = 24
	}
	return &JwtAuth{
		jwtSecret:     []byte(cfg.JWTSecret),
		adminUsername: cfg.AdminUser,
		adminPassHash: []byte(cfg.AdminHash),
		session:       time.Duration(hours) * time.Hour,
	}
}

// LoginRequest represents the login payload
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the issued session token.
type LoginResponse struct {
	Token     string    `json:"token"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginHandler checks the operator credentials and issues a management session token.
func (jwtAuth *JwtAuth) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	// Same answer for unknown user and wrong password
	if req.Username != jwtAuth.adminUsername ||
		bcrypt.CompareHashAndPassword(jwtAuth.adminPassHash, []byte(req.Password)) != nil {
		respondError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expires, err := jwtAuth.issue(req.Username, time.Now())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to sign token")
		return
	}
	c.JSON(http.StatusOK, LoginResponse{Token: token, Scope: ScopeManage, ExpiresAt: expires})
}

func (jwtAuth *JwtAuth) issue(username string, now time.Time) (string, time.Time, error) {
	expires := now.Add(jwtAuth.session)
	claims := SessionClaims{
		Username: username,
		Scope:    ScopeManage,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtAuth.jwtSecret)
	return signed, expires, err
}

// JWTMiddleware admits requests carrying a valid edgehost session token with the manage scope.
func (jwtAuth *JwtAuth) JWTMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respondError(c, http.StatusUnauthorized, "authorization header required")
			return
		}

		scheme, tokenString, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "bearer") {
			respondError(c, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := jwtAuth.parse(tokenString)
		if err != nil {
			respondError(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if claims.Scope != ScopeManage {
			respondError(c, http.StatusUnauthorized, "token does not grant endpoint management")
			return
		}

		c.Set("username", claims.Username)
		c.Set("scope", claims.Scope)
		c.Next()
	}
}

func (jwtAuth *JwtAuth) parse(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtAuth.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || !claims.VerifyIssuer(issuer, true) {
		return nil, errors.New("token not issued by this host")
	}
	return claims, nil
}

// SecurityHeaders returns a middleware that sets security headers
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}
