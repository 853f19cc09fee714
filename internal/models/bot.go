package models

import (
	"fmt"
	"time"
)

type RetrainFrequency string

// Bot carries the retrain policy of a chat bot. Only the columns the
// scheduler reads are mapped.
type Bot struct {
	ID               int64
	TenantID         int64
	Name             string
	RetrainFrequency RetrainFrequency
	RetrainTime      string
	LastRetrainedAt  *time.Time
}

// IsDue reports whether enough time has passed since the last retrain.
// A bot that was never retrained is always due, one with frequency none never is.
func (b *Bot) IsDue(now time.Time) bool {
	minElapsed, ok := retrainIntervals[b.RetrainFrequency]
	if !ok {
		return false
	}
	if b.LastRetrainedAt == nil {
		return true
	}
	return now.Sub(*b.LastRetrainedAt) >= minElapsed
}

// RetrainSlot formats the UTC hour of t the way bots store their retrain time.
func RetrainSlot(t time.Time) string {
	return fmt.Sprintf("%02d:00", t.UTC().Hour())
}

// BotRetrain summarizes one bot's retrain attempt.
type BotRetrain struct {
	BotID   int64 `json:"botId"`
	Pages   int   `json:"pages"`
	Updated int   `json:"updated"`
	Failed  int   `json:"failed"`
}

type RetrainSummary struct {
	RunID   string       `json:"runId"`
	Slot    string       `json:"slot"`
	Checked int          `json:"checked"`
	NotDue  int          `json:"notDue"`
	// due bots without website pages, left unmarked
	NoPages int `json:"noPages"`
	// due bots whose documents could not be listed, left unmarked
	ListFailed int          `json:"listFailed"`
	Bots       []BotRetrain `json:"bots"`
}
