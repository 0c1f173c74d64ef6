package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/unclebandit/cartrecovery/internal/clock"
)

const (
	DefaultGraphAuthority = "https://login.microsoftonline.com"
	DefaultGraphBaseURL   = "https://graph.microsoft.com/v1.0"
	graphScope            = "https://graph.microsoft.com/.default"
)

// GraphConfig holds the app registration used for client-credential auth.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string // mailbox the mail is sent from
	Authority    string
	BaseURL      string
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphMessage struct {
	Subject      string      `json:"subject"`
	Body         graphBody   `json:"body"`
	ToRecipients []recipient `json:"toRecipients"`
	CcRecipients []recipient `json:"ccRecipients,omitempty"`
	Importance   string      `json:"importance"`
}

type sendMailRequest struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

// GraphMailer sends mail through Microsoft Graph sendMail.
type GraphMailer struct {
	auth   *resty.Client
	api    *resty.Client
	cfg    GraphConfig
	clock  clock.Clock
	logger *zap.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewGraphMailer(cfg GraphConfig, clk clock.Clock, logger *zap.Logger) *GraphMailer {
	if cfg.Authority == "" {
		cfg.Authority = DefaultGraphAuthority
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGraphBaseURL
	}
	return &GraphMailer{
		auth: resty.New().
			SetBaseURL(cfg.Authority).
			SetTimeout(10 * time.Second),
		api: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(20*time.Second).
			SetHeader("Content-Type", "application/json"),
		cfg:    cfg,
		clock:  clk,
		logger: logger,
	}
}

func (g *GraphMailer) Send(ctx context.Context, m Message) (string, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return "", err
	}

	msg := graphMessage{
		Subject:      m.Subject,
		Body:         graphBody{ContentType: "HTML", Content: m.HTMLBody},
		ToRecipients: []recipient{{EmailAddress: emailAddress{Address: m.To, Name: m.ToName}}},
		Importance:   m.Priority,
	}
	if msg.Importance == "" {
		msg.Importance = "normal"
	}
	if m.CC != "" {
		msg.CcRecipients = []recipient{{EmailAddress: emailAddress{Address: m.CC, Name: m.CCName}}}
	}

	resp, err := g.api.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(sendMailRequest{Message: msg, SaveToSentItems: true}).
		Post("/users/" + url.PathEscape(g.cfg.Sender) + "/sendMail")
	if err != nil {
		return "", fmt.Errorf("graph sendMail: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		g.invalidateToken()
	}
	if resp.IsError() {
		g.logger.Error("graph sendMail returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("to", m.To),
		)
		return "", fmt.Errorf("graph sendMail: status %d: %s", resp.StatusCode(), resp.String())
	}

	messageID := resp.Header().Get("request-id")
	if messageID == "" {
		messageID = resp.Header().Get("x-ms-ags-diagnostic")
	}
	if messageID == "" {
		messageID = "graph-sent"
	}
	return messageID, nil
}

func (g *GraphMailer) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" && g.clock.Now().Before(g.expiresAt) {
		return g.token, nil
	}

	var tok tokenResponse
	resp, err := g.auth.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     g.cfg.ClientID,
			"client_secret": g.cfg.ClientSecret,
			"scope":         graphScope,
			"grant_type":    "client_credentials",
		}).
		SetResult(&tok).
		Post("/" + url.PathEscape(g.cfg.TenantID) + "/oauth2/v2.0/token")
	if err != nil {
		return "", fmt.Errorf("graph token: %w", err)
	}
	if resp.IsError() || tok.AccessToken == "" {
		return "", fmt.Errorf("graph token: status %d", resp.StatusCode())
	}

	g.token = tok.AccessToken
	// refresh a minute early
	g.expiresAt = g.clock.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return g.token, nil
}

func (g *GraphMailer) invalidateToken() {
	g.mu.Lock()
	g.token = ""
	g.mu.Unlock()
}
