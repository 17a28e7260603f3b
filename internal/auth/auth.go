package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"chitchat/internal/config"
	"chitchat/internal/db"
	"chitchat/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"
)

type Claims struct {
	Email string `json:"id"`
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// GenerateToken 签发会话 token，主体是用户邮箱。
func GenerateToken(email, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken 验证签名和过期时间，返回 claims。
func ParseToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// Middleware 校验 Bearer token 并把用户记录挂到上下文。
func Middleware(cfg config.Config, store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization error, please login"})
			return
		}
		tokenStr := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(authz, "Bearer"), "bearer"))
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization error, please login"})
			return
		}
		claims, err := ParseToken(tokenStr, cfg.JWTSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization error: Session expired. Please login again"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		var user models.User
		if err := store.Users.FindOne(ctx, bson.M{"email": claims.Email}).Decode(&user); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "User not found"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.Set("email", user.Email)
		c.Set("name", user.Name)
		c.Next()
	}
}

func GetEmail(c *gin.Context) string {
	if v, ok := c.Get("email"); ok {
		if email, ok2 := v.(string); ok2 {
			return email
		}
	}
	return ""
}

func GetName(c *gin.Context) string {
	if v, ok := c.Get("name"); ok {
		if name, ok2 := v.(string); ok2 {
			return name
		}
	}
	return ""
}
