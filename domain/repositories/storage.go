package repositories

import "github.com/satriahrh/echomind/domain/entities"

// ConversationContext is the per-session rolling utterance history shared by
// the audio pipeline (writer) and the insight engine (reader)
type ConversationContext interface {
	Append(sessionID string, u entities.Utterance)
	Read(sessionID string) []entities.Utterance
	Clear(sessionID string)
}
