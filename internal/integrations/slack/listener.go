package slackbot

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"pixelwatch/internal/domain"
	"pixelwatch/internal/engine"
)

// FeedbackEngine is the part of the engine the listener drives.
type FeedbackEngine interface {
	SubmitFeedback(ctx context.Context, fb engine.Feedback) (domain.FeedbackRecord, error)
	RetrainIfDue(ctx context.Context) (engine.RetrainResult, bool, error)
}

// Listener records feedback from alert buttons and the /pixel-feedback
// slash command.
type Listener struct {
	api *slack.Client
	eng FeedbackEngine
}

func NewListener(api *slack.Client, eng FeedbackEngine) *Listener {
	return &Listener{api: api, eng: eng}
}

// Run connects over Socket Mode and blocks until ctx is done or the
// connection fails.
func (l *Listener) Run(ctx context.Context) error {
	client := socketmode.New(l.api)

	go func() {
		for evt := range client.Events {
			switch evt.Type {
			case socketmode.EventTypeSlashCommand:
				client.Ack(*evt.Request)
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				log.Printf("Slash command received: %s from user=%s channel=%s", cmd.Command, cmd.UserID, cmd.ChannelID)
				go l.handleSlashCommand(ctx, cmd)
			case socketmode.EventTypeInteractive:
				client.Ack(*evt.Request)
				callback, ok := evt.Data.(slack.InteractionCallback)
				if !ok {
					continue
				}
				go l.handleInteraction(ctx, callback)
			}
		}
	}()

	log.Println("Slack feedback listener connected via Socket Mode")
	return client.RunContext(ctx)
}

func (l *Listener) handleInteraction(ctx context.Context, cb slack.InteractionCallback) {
	if cb.Type != slack.InteractionTypeBlockActions || len(cb.ActionCallback.BlockActions) == 0 {
		return
	}
	act := cb.ActionCallback.BlockActions[0]
	channelID := cb.Channel.ID
	if channelID == "" {
		channelID = cb.Container.ChannelID
	}
	userID := cb.User.ID

	var label domain.Label
	switch act.ActionID {
	case actionFeedbackTruePositive:
		label = domain.LabelTruePositive
	case actionFeedbackFalsePositive:
		label = domain.LabelFalsePositive
	default:
		return
	}
	ticketID := strings.TrimSpace(act.Value)
	if ticketID == "" {
		postEphemeralTo(l.api, channelID, userID, "Invalid ticket id.")
		return
	}
	l.record(ctx, channelID, userID, ticketID, label)
}

func (l *Listener) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	switch cmd.Command {
	case "/pixel-feedback":
		ticketID, label, err := parseFeedbackCommand(cmd.Text)
		if err != nil {
			postEphemeralTo(l.api, cmd.ChannelID, cmd.UserID, err.Error())
			return
		}
		l.record(ctx, cmd.ChannelID, cmd.UserID, ticketID, label)
	}
}

func (l *Listener) record(ctx context.Context, channelID, userID, ticketID string, label domain.Label) {
	rec, err := l.eng.SubmitFeedback(ctx, engine.Feedback{TicketID: ticketID, Label: label, RecordedBy: userID})
	if err != nil {
		log.Printf("slack feedback error ticket=%s user=%s: %v", ticketID, userID, err)
		postEphemeralTo(l.api, channelID, userID, fmt.Sprintf("Could not record feedback for %s: %v", ticketID, err))
		return
	}
	postEphemeralTo(l.api, channelID, userID, fmt.Sprintf("Recorded %s for %s. Thanks!", rec.Label, rec.TicketID))

	res, ran, err := l.eng.RetrainIfDue(ctx)
	if err != nil {
		log.Printf("slack feedback retrain error: %v", err)
		return
	}
	if ran && res.Trained {
		log.Printf("slack feedback retrain version=%d samples=%d", res.ModelVersion, res.SampleCount)
	}
}

// parseFeedbackCommand parses "<ticket> <label>", e.g. "PS-9074 fp".
func parseFeedbackCommand(text string) (string, domain.Label, error) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return "", "", fmt.Errorf("usage: /pixel-feedback <ticket> <tp|fp|fn|tn>")
	}
	label, err := domain.ParseLabel(fields[1])
	if err != nil {
		return "", "", fmt.Errorf("unknown label %q, use tp, fp, fn or tn", fields[1])
	}
	return strings.ToUpper(fields[0]), label, nil
}

func postEphemeralTo(api *slack.Client, channelID, userID, text string) {
	if channelID == "" || userID == "" {
		return
	}
	if _, err := api.PostEphemeral(channelID, userID, slack.MsgOptionText(text, false)); err != nil {
		log.Printf("post ephemeral error channel=%s user=%s: %v", channelID, userID, err)
	}
}
