package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"draftreview/internal/model"
	"draftreview/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	// ServiceKeyHeader carries the delivery service's shared key.
	ServiceKeyHeader = "X-Service-Key"
	// DeliveryActorID identifies the delivery service in review logs.
	DeliveryActorID = "delivery-service"

	actorIDKey   = "userID"
	actorRoleKey = "userRole"
)

var errMissingToken = errors.New("authorization is missing")

// Auth turns request credentials into a model.Actor. End users present an
// HS256 JWT whose sub and role claims name the actor; the delivery service
// presents a shared key checked against a bcrypt hash.
type Auth struct {
	secret          []byte
	deliveryKeyHash []byte
}

func NewAuth(secret []byte, deliveryKeyHash string) *Auth {
	return &Auth{secret: secret, deliveryKeyHash: []byte(deliveryKeyHash)}
}

// IssueToken signs a token for actor.
func (a *Auth) IssueToken(actor model.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  actor.ID,
		"role": actor.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken validates tokenString and returns the actor it names.
func (a *Auth) ParseToken(tokenString string) (model.Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil {
		return model.Actor{}, err
	}
	if !token.Valid {
		return model.Actor{}, jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return model.Actor{}, jwt.ErrTokenInvalidClaims
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" || role == "" {
		return model.Actor{}, errors.New("token has no subject or role")
	}
	return model.Actor{ID: sub, Role: role}, nil
}

// VerifyServiceKey reports whether key matches the configured delivery key.
func (a *Auth) VerifyServiceKey(key string) bool {
	if key == "" || len(a.deliveryKeyHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.deliveryKeyHash, []byte(key)) == nil
}

// RequireRole authenticates the request and checks the actor's role is in
// allowedRoles. With no roles listed any authenticated actor passes.
func (a *Auth) RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := a.authenticate(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid credentials: "+err.Error()))
			return
		}

		if len(allowedRoles) > 0 {
			roleAllowed := false
			for _, role := range allowedRoles {
				if actor.Role == role {
					roleAllowed = true
					break
				}
			}
			if !roleAllowed {
				c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient permissions"))
				return
			}
		}

		c.Set(actorIDKey, actor.ID)
		c.Set(actorRoleKey, actor.Role)
		c.Next()
	}
}

func (a *Auth) authenticate(c *gin.Context) (model.Actor, error) {
	if key := c.GetHeader(ServiceKeyHeader); key != "" {
		if !a.VerifyServiceKey(key) {
			return model.Actor{}, errors.New("service key rejected")
		}
		return model.Actor{ID: DeliveryActorID, Role: model.RoleDelivery}, nil
	}

	// Try cookie first, fallback to Authorization header
	tokenString, cookieErr := c.Cookie("access_token")
	if cookieErr != nil || tokenString == "" {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			return model.Actor{}, errMissingToken
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return model.Actor{}, errors.New("expected 'Bearer <token>'")
		}
		tokenString = parts[1]
	}
	return a.ParseToken(tokenString)
}

// ActorFrom returns the actor RequireRole stored on the context.
func ActorFrom(c *gin.Context) model.Actor {
	return model.Actor{ID: c.GetString(actorIDKey), Role: c.GetString(actorRoleKey)}
}
