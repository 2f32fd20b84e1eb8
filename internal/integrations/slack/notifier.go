package slackbot

import (
	"context"
	"fmt"
	"log"

	"github.com/slack-go/slack"

	"pixelwatch/internal/detect"
	"pixelwatch/internal/domain"
	"pixelwatch/internal/httpx"
)

// NewAPI builds a Slack client that shares the external HTTP timeout.
func NewAPI(botToken, appToken string, opts ...slack.Option) *slack.Client {
	base := []slack.Option{slack.OptionHTTPClient(httpx.Client())}
	if appToken != "" {
		base = append(base, slack.OptionAppLevelToken(appToken))
	}
	return slack.New(botToken, append(base, opts...)...)
}

// Notifier posts alerts and digests into one channel.
type Notifier struct {
	api       *slack.Client
	channelID string
}

func NewNotifier(api *slack.Client, channelID string) *Notifier {
	return &Notifier{api: api, channelID: channelID}
}

// PostAlert posts an alert with feedback buttons and returns the message ts.
func (n *Notifier) PostAlert(ctx context.Context, t domain.Ticket, res domain.DetectionResult, similar []detect.SimilarTicket) (string, error) {
	_, ts, err := n.api.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(AlertText(t, res), false),
		slack.MsgOptionBlocks(AlertBlocks(t, res, similar)...),
	)
	if err != nil {
		return "", fmt.Errorf("post alert %s: %w", t.ID, err)
	}
	log.Printf("slack alert posted ticket=%s level=%s ts=%s", t.ID, res.AlertLevel, ts)
	return ts, nil
}

func (n *Notifier) PostDigest(ctx context.Context, alerts []domain.Alert) error {
	text := DigestText(alerts)
	if text == "" {
		return nil
	}
	if _, _, err := n.api.PostMessageContext(ctx, n.channelID, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("post digest: %w", err)
	}
	log.Printf("slack digest posted alerts=%d", len(alerts))
	return nil
}

func (n *Notifier) PostText(ctx context.Context, text string) error {
	if _, _, err := n.api.PostMessageContext(ctx, n.channelID, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}
