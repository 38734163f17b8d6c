package main

import (
	"log"

	"github.com/slack-go/slack"
)

// Notifier delivers operational notices (language-pair graduation, terminal
// layer failures). Delivery failures are never fatal.
type Notifier interface {
	Notify(text string)
}

type slackNotifier struct {
	api       *slack.Client
	channelID string
}

func NewNotifier(cfg Config) Notifier {
	if cfg.SlackBotToken == "" || cfg.NotifyChannelID == "" {
		log.Println("Slack notifications disabled (no token or channel configured)")
		return noopNotifier{}
	}
	return &slackNotifier{api: slack.New(cfg.SlackBotToken), channelID: cfg.NotifyChannelID}
}

func (n *slackNotifier) Notify(text string) {
	_, _, err := n.api.PostMessage(n.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("Error sending Slack notification: %v", err)
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(string) {}
