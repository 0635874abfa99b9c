// Package events defines the websocket wire vocabulary. Inbound frames and
// outbound events are closed sets of concrete types; routing switches on the
// concrete type rather than on the raw tag string.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Kind string

const (
	KindChatMessage     Kind = "chat_message"
	KindTyping          Kind = "typing"
	KindTypingIndicator Kind = "typing_indicator"
	KindMessageReaction Kind = "message_reaction"
	KindMessageEdit     Kind = "message_edit"
	KindMessageEdited   Kind = "message_edited"
	KindMessageDelete   Kind = "message_delete"
	KindMessageDeleted  Kind = "message_deleted"
	KindDirectMessage   Kind = "direct_message"
	KindMessageRead     Kind = "message_read"
	KindMessagesRead    Kind = "messages_read"
	KindError           Kind = "error"
)

// ErrMalformed is returned for frames that are not decodable.
var ErrMalformed = errors.New("malformed frame")

// Inbound is a decoded client frame.
type Inbound interface {
	Kind() Kind
	inbound()
}

type ChatMessageFrame struct {
	Content string `json:"content"`
	ReplyTo *int64 `json:"reply_to"`
}

type TypingFrame struct {
	IsTyping bool `json:"is_typing"`
}

type ReactionFrame struct {
	MessageID    int64  `json:"message_id"`
	ReactionType string `json:"reaction_type"`
	Action       string `json:"action"` // "add" (default) or "remove"
}

type EditFrame struct {
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
}

type DeleteFrame struct {
	MessageID int64 `json:"message_id"`
}

type DirectMessageFrame struct {
	Content string `json:"content"`
}

type ReadFrame struct {
	MessageIDs []int64 `json:"message_ids"`
}

func (ChatMessageFrame) Kind() Kind   { return KindChatMessage }
func (TypingFrame) Kind() Kind        { return KindTyping }
func (ReactionFrame) Kind() Kind      { return KindMessageReaction }
func (EditFrame) Kind() Kind          { return KindMessageEdit }
func (DeleteFrame) Kind() Kind        { return KindMessageDelete }
func (DirectMessageFrame) Kind() Kind { return KindDirectMessage }
func (ReadFrame) Kind() Kind          { return KindMessageRead }

func (ChatMessageFrame) inbound()   {}
func (TypingFrame) inbound()        {}
func (ReactionFrame) inbound()      {}
func (EditFrame) inbound()          {}
func (DeleteFrame) inbound()        {}
func (DirectMessageFrame) inbound() {}
func (ReadFrame) inbound()          {}

type envelope struct {
	Type Kind `json:"type"`
}

// Decode parses one client frame. Unknown tags decode to (nil, nil) so the
// caller can ignore them; undecodable payloads return ErrMalformed.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var frame Inbound
	switch env.Type {
	case KindChatMessage:
		frame = decodeInto[ChatMessageFrame](data)
	case KindTyping:
		frame = decodeInto[TypingFrame](data)
	case KindMessageReaction:
		frame = decodeInto[ReactionFrame](data)
	case KindMessageEdit:
		frame = decodeInto[EditFrame](data)
	case KindMessageDelete:
		frame = decodeInto[DeleteFrame](data)
	case KindDirectMessage:
		frame = decodeInto[DirectMessageFrame](data)
	case KindMessageRead:
		frame = decodeInto[ReadFrame](data)
	default:
		return nil, nil
	}
	if frame == nil {
		return nil, fmt.Errorf("%w: bad %s payload", ErrMalformed, env.Type)
	}
	return frame, nil
}

func decodeInto[T Inbound](data []byte) Inbound {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}
