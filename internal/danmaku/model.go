package danmaku

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("danmaku: not found")
	ErrInvalidItem   = errors.New("danmaku: invalid item")
	ErrDuplicateItem = errors.New("danmaku: duplicate id")
)

// Type is how an item moves across the screen.
type Type string

const (
	TypeScroll  Type = "scroll"
	TypeTop     Type = "top"
	TypeBottom  Type = "bottom"
	TypeReverse Type = "reverse"
)

func (t Type) Valid() bool {
	switch t {
	case TypeScroll, TypeTop, TypeBottom, TypeReverse:
		return true
	}
	return false
}

// Item is one overlay comment anchored to a position in the video timeline.
// TimeMs never changes after creation.
type Item struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"videoId"`
	UserID    string    `json:"userId,omitempty"`
	Content   string    `json:"content"`
	TimeMs    int64     `json:"timeMs"`
	Type      Type      `json:"type"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

type Action string

const (
	ActionShow   Action = "show"
	ActionRetire Action = "retire"
)

// Event is a scheduling decision for the renderer. Show events carry what to paint.
type Event struct {
	DanmakuID  string `json:"danmakuId"`
	TrackIndex int    `json:"trackIndex"`
	Action     Action `json:"action"`
	Content    string `json:"content,omitempty"`
	Color      string `json:"color,omitempty"`
	Type       Type   `json:"type,omitempty"`
}

// TrackState is a read-only view of one display lane.
type TrackState struct {
	Index         int    `json:"index"`
	Free          bool   `json:"free"`
	OccupantID    string `json:"occupantId,omitempty"`
	OccupiedUntil int64  `json:"occupiedUntil,omitempty"`
}
