package callsystem

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SignatureHeader carries the Twilio request signature.
const SignatureHeader = "X-Twilio-Signature"

// RegisterRoutes mounts the voice webhook (GET and POST) and the status
// callback on r.
func (p *Provider) RegisterRoutes(r gin.IRoutes, voicePath, statusPath string) {
	r.GET(voicePath, p.VoiceHandler)
	r.POST(voicePath, p.VoiceHandler)
	r.POST(statusPath, p.StatusHandler)
}

// VoiceHandler answers the Twilio voice webhook with Media Streams TwiML.
func (p *Provider) VoiceHandler(c *gin.Context) {
	params, ok := p.verify(c)
	if !ok {
		return
	}

	_, doc, err := p.HandleIncomingWebhook(
		params["CallSid"],
		params["From"],
		params["To"],
		mapDirection(params["Direction"]),
	)
	if err != nil {
		status := http.StatusInternalServerError
		p.logger.Error("voice webhook failed", zap.Error(err))
		if errors.Is(err, ErrNoStreamURL) {
			c.JSON(status, gin.H{"error": "PUBLIC_BASE_URL must be set to build the media stream url"})
			return
		}
		c.JSON(status, gin.H{"error": "cannot handle call"})
		return
	}

	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, doc)
}

// StatusHandler applies a Twilio call status callback.
func (p *Provider) StatusHandler(c *gin.Context) {
	params, ok := p.verify(c)
	if !ok {
		return
	}

	p.HandleStatusCallback(params["CallSid"], params["CallStatus"])
	c.Status(http.StatusNoContent)
}

// verify collects the request parameters and checks the Twilio signature.
// On failure it has already written the response.
func (p *Provider) verify(c *gin.Context) (map[string]string, bool) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form body"})
		return nil, false
	}

	// Twilio signs POST bodies. For GET the parameters are part of the URL.
	signed := map[string]string{}
	for k, v := range c.Request.PostForm {
		if len(v) > 0 {
			signed[k] = v[0]
		}
	}

	err := p.ValidateSignature(c.Request.URL.RequestURI(), signed, c.GetHeader(SignatureHeader))
	if err != nil {
		p.logger.Warn("rejected twilio webhook",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return nil, false
	}

	params := map[string]string{}
	for k, v := range c.Request.Form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params, true
}

// HealthHandler reports liveness.
func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
