package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	// Aptos address regex: 0x followed by up to 64 hex characters
	aptosAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{1,64}$`)
)

// BasicAuth returns a middleware that implements HTTP Basic Authentication
func BasicAuth() gin.HandlerFunc {
	username := os.Getenv("AUTH_USERNAME")
	password := os.Getenv("AUTH_PASSWORD")

	return func(c *gin.Context) {
		// Skip auth if credentials not configured
		if username == "" || password == "" {
			c.Next()
			return
		}

		user, pass, hasAuth := c.Request.BasicAuth()
		if !hasAuth {
			c.Header("WWW-Authenticate", `Basic realm="Aptos Mirror"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		// Use constant-time comparison to prevent timing attacks
		usernameMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passwordMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1

		if !usernameMatch || !passwordMatch {
			c.Header("WWW-Authenticate", `Basic realm="Aptos Mirror"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		c.Next()
	}
}

// ValidateAddress validates that the address parameter is a valid Aptos
// account address
func ValidateAddress() gin.HandlerFunc {
	return func(c *gin.Context) {
		address := c.Param("address")
		if address == "" {
			c.Next()
			return
		}

		// Normalize to lowercase
		address = strings.ToLower(strings.TrimSpace(address))

		if !aptosAddressRegex.MatchString(address) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "Invalid address format. Must be a valid Aptos address (0x + hex characters)",
			})
			return
		}

		// Store normalized address for later use
		c.Set("validatedAddress", address)
		c.Next()
	}
}

// ValidateQueryParams validates common query parameters
func ValidateQueryParams() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Validate limit parameter
		if limitStr := c.Query("limit"); limitStr != "" {
			limit, err := strconv.Atoi(limitStr)
			if err != nil || limit < 1 || limit > 10000 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "Invalid limit parameter. Must be a positive integer between 1 and 10000",
				})
				return
			}
		}

		// Validate leader filter
		if leader := c.Query("leader"); leader != "" {
			if !IsValidAptosAddress(leader) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "Invalid leader parameter. Must be a valid Aptos address",
				})
				return
			}
		}

		c.Next()
	}
}

// IsValidAptosAddress checks if a string is a valid Aptos account address
func IsValidAptosAddress(addr string) bool {
	return aptosAddressRegex.MatchString(strings.ToLower(strings.TrimSpace(addr)))
}
