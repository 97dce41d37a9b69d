// Package envelope decodes decrypted WeCom callback payloads into typed
// message envelopes.
package envelope

import (
	"encoding/xml"
	"fmt"
)

// Kind is the message-kind discriminator. Unrecognized values map to
// KindUnknown so the pipeline stays tolerant of platform additions.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVoice    Kind = "voice"
	KindVideo    Kind = "video"
	KindFile     Kind = "file"
	KindLocation Kind = "location"
	KindEvent    Kind = "event"
	KindUnknown  Kind = "unknown"
)

func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindText, KindImage, KindVoice, KindVideo, KindFile, KindLocation, KindEvent:
		return Kind(s)
	default:
		return KindUnknown
	}
}

// Envelope is one decoded inbound message. Kind determines which of the
// optional attribute structs is populated; the common header is always set.
type Envelope struct {
	RecipientID string // receiving agent-side identity (ToUserName)
	SenderID    string // customer identity (FromUserName)
	Kind        Kind
	Body        string // present only for KindText
	Media       *MediaInfo
	Location    *LocationInfo
	Event       *EventInfo
	MsgID       string
	AgentID     string
	CreatedAt   int64 // source-supplied epoch seconds
}

type MediaInfo struct {
	MediaID      string
	PicURL       string
	Format       string
	ThumbMediaID string
	FileName     string
	FileSize     string
}

type LocationInfo struct {
	X     string
	Y     string
	Scale string
	Label string
}

type EventInfo struct {
	Event    string
	EventKey string
}

type wireMessage struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName"`
	FromUserName string   `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      string   `xml:"MsgType"`
	MsgID        string   `xml:"MsgId"`
	AgentID      string   `xml:"AgentID"`
	Content      string   `xml:"Content"`
	PicURL       string   `xml:"PicUrl"`
	MediaID      string   `xml:"MediaId"`
	Format       string   `xml:"Format"`
	ThumbMediaID string   `xml:"ThumbMediaId"`
	FileName     string   `xml:"FileName"`
	FileSize     string   `xml:"FileSize"`
	LocationX    string   `xml:"Location_X"`
	LocationY    string   `xml:"Location_Y"`
	Scale        string   `xml:"Scale"`
	Label        string   `xml:"Label"`
	Event        string   `xml:"Event"`
	EventKey     string   `xml:"EventKey"`
}

// Decode parses a decrypted message payload. Unknown kinds yield a valid
// envelope with only the common header; malformed XML is a permanent error
// that callers surface as a client error and never enqueue.
func Decode(plaintext []byte) (*Envelope, error) {
	var wire wireMessage
	if err := xml.Unmarshal(plaintext, &wire); err != nil {
		return nil, fmt.Errorf("envelope: malformed message payload: %w", err)
	}

	env := &Envelope{
		RecipientID: wire.ToUserName,
		SenderID:    wire.FromUserName,
		Kind:        ParseKind(wire.MsgType),
		MsgID:       wire.MsgID,
		AgentID:     wire.AgentID,
		CreatedAt:   wire.CreateTime,
	}

	switch env.Kind {
	case KindText:
		env.Body = wire.Content
	case KindImage:
		env.Media = &MediaInfo{MediaID: wire.MediaID, PicURL: wire.PicURL}
	case KindVoice:
		env.Media = &MediaInfo{MediaID: wire.MediaID, Format: wire.Format}
	case KindVideo:
		env.Media = &MediaInfo{MediaID: wire.MediaID, ThumbMediaID: wire.ThumbMediaID}
	case KindFile:
		env.Media = &MediaInfo{MediaID: wire.MediaID, FileName: wire.FileName, FileSize: wire.FileSize}
	case KindLocation:
		env.Location = &LocationInfo{X: wire.LocationX, Y: wire.LocationY, Scale: wire.Scale, Label: wire.Label}
	case KindEvent:
		env.Event = &EventInfo{Event: wire.Event, EventKey: wire.EventKey}
	case KindUnknown:
		// Common header only.
	}

	return env, nil
}
