package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/foxseedlab/botledger/internal/alert"
)

const (
	colorWarning  = 0xF1C40F
	colorCritical = 0xE74C3C
)

var ErrInvalidWebhookURL = errors.New("discord webhook URL must look like https://discord.com/api/webhooks/{id}/{token}")

// WebhookAlerter posts operator alerts to a Discord channel webhook. It needs
// no bot token or gateway connection.
type WebhookAlerter struct {
	session   *discordgo.Session
	webhookID string
	token     string
	username  string
}

func NewWebhookAlerter(webhookURL, username string) (*WebhookAlerter, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, err
	}
	s.Client = &http.Client{Timeout: 10 * time.Second}
	return &WebhookAlerter{
		session:   s,
		webhookID: id,
		token:     token,
		username:  username,
	}, nil
}

func parseWebhookURL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", ErrInvalidWebhookURL
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", ErrInvalidWebhookURL
}

func (a *WebhookAlerter) Alert(ctx context.Context, al alert.Alert) error {
	embed := &discordgo.MessageEmbed{
		Title:       al.Title,
		Description: al.Detail,
		Color:       colorWarning,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Severity", Value: string(al.Severity), Inline: true},
		},
	}
	if al.Severity == alert.SeverityCritical {
		embed.Color = colorCritical
	}
	if al.BotID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Bot", Value: al.BotID, Inline: true})
	}

	_, err := a.session.WebhookExecute(a.webhookID, a.token, false, &discordgo.WebhookParams{
		Username: a.username,
		Embeds:   []*discordgo.MessageEmbed{embed},
	}, discordgo.WithContext(ctx))
	if isRESTNotFound(err) {
		return fmt.Errorf("discord alert webhook no longer exists: %w", err)
	}
	return err
}

func isRESTNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == http.StatusNotFound
}
