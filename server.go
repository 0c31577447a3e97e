package main

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gridwave.io/gsm/stkgw/gateway"
)

// Server exposes the HTTP submission API for outgoing messages and
// credit requests
type Server struct {
	Logger      *slog.Logger
	Submissions *gateway.Submissions
	Token       string
}

// Router builds the gin engine with all submission routes registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/message/:token", s.handleMessage)
	r.POST("/credit-request/:token", s.handleCreditRequest)

	return r
}

func (s *Server) authorized(c *gin.Context) bool {
	if c.Param("token") != s.Token || s.Token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid token"})
		return false
	}
	return true
}

// requestParams reads the named parameters, accepting both form-encoded and
// JSON bodies. Missing parameters are answered with a 400 naming them in
// order; the second return is false when that happened.
func requestParams(c *gin.Context, names ...string) (map[string]string, bool) {
	var body map[string]any
	if c.ContentType() == "application/json" {
		if err := c.ShouldBindJSON(&body); err != nil {
			body = nil
		}
	}

	values := make(map[string]string, len(names))
	var missing []string
	for _, name := range names {
		v := c.PostForm(name)
		if v == "" {
			if raw, ok := body[name].(string); ok {
				v = raw
			}
		}
		if v == "" {
			missing = append(missing, name)
		}
		values[name] = v
	}
	if len(missing) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "The following parameter(s) are required: " + strings.Join(missing, ", "),
		})
		return nil, false
	}
	return values, true
}

// handleMessage queues an outgoing message for the next delivery cycle
func (s *Server) handleMessage(c *gin.Context) {
	if !s.authorized(c) {
		return
	}

	params, ok := requestParams(c, "from", "to", "body")
	if !ok {
		return
	}

	from := params["from"]
	to := params["to"]
	body := params["body"]

	id, err := s.Submissions.AddMessage(c.Request.Context(), from, to, body)
	if err != nil {
		if errors.Is(err, gateway.ErrUnknownNumber) {
			c.JSON(http.StatusNotFound, gin.H{"message": "Unknown local number"})
			return
		}
		s.Logger.Error("Failed to queue message", "error", err, "from", from)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal error"})
		return
	}

	s.Logger.Info("Message queued", "id", id, "from", from, "to", to)
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// handleCreditRequest queues a credit balance query for the given number
func (s *Server) handleCreditRequest(c *gin.Context) {
	if !s.authorized(c) {
		return
	}

	params, ok := requestParams(c, "number", "callback_url")
	if !ok {
		return
	}

	number := params["number"]
	callbackURL := params["callback_url"]

	id, err := s.Submissions.CreateCreditRequest(c.Request.Context(), number, callbackURL)
	if err != nil {
		if errors.Is(err, gateway.ErrUnknownNumber) {
			c.JSON(http.StatusNotFound, gin.H{"message": "Unknown local number"})
			return
		}
		s.Logger.Error("Failed to queue credit request", "error", err, "number", number)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal error"})
		return
	}

	s.Logger.Info("Credit request queued", "id", id, "number", number)
	c.JSON(http.StatusOK, gin.H{"id": id})
}
