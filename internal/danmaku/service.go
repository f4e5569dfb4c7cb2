package danmaku

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxContentLength = 100
	DefaultColor     = "#ffffff"
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// CreateRequest is what a viewer submits.
type CreateRequest struct {
	Content string `json:"content"`
	TimeMs  int64  `json:"timeMs"`
	Type    Type   `json:"type"`
	Color   string `json:"color"`
}

// Service validates submissions before they reach the store.
type Service struct {
	store  Store
	policy *bluemonday.Policy
	now    func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, policy: bluemonday.StrictPolicy(), now: time.Now}
}

func (s *Service) Create(ctx context.Context, videoID, userID string, req CreateRequest) (Item, error) {
	item, err := s.build(videoID, userID, req)
	if err != nil {
		return Item{}, err
	}
	return s.store.Create(ctx, item)
}

func (s *Service) build(videoID, userID string, req CreateRequest) (Item, error) {
	if strings.TrimSpace(videoID) == "" {
		return Item{}, fmt.Errorf("%w: video id is required", ErrInvalidItem)
	}
	content := s.sanitize(req.Content)
	if content == "" {
		return Item{}, fmt.Errorf("%w: content is empty", ErrInvalidItem)
	}
	if strings.ContainsAny(content, "<>") {
		return Item{}, fmt.Errorf("%w: markup is not allowed", ErrInvalidItem)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return Item{}, fmt.Errorf("%w: content longer than %d characters", ErrInvalidItem, MaxContentLength)
	}
	if req.TimeMs < 0 {
		return Item{}, fmt.Errorf("%w: timeMs must not be negative", ErrInvalidItem)
	}
	typ := req.Type
	if typ == "" {
		typ = TypeScroll
	}
	if !typ.Valid() {
		return Item{}, fmt.Errorf("%w: unknown type %q", ErrInvalidItem, typ)
	}
	color := strings.ToLower(strings.TrimSpace(req.Color))
	if color == "" {
		color = DefaultColor
	}
	if !colorPattern.MatchString(color) {
		return Item{}, fmt.Errorf("%w: color must look like #rrggbb", ErrInvalidItem)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Item{}, err
	}
	return Item{
		ID:        id.String(),
		VideoID:   videoID,
		UserID:    userID,
		Content:   content,
		TimeMs:    req.TimeMs,
		Type:      typ,
		Color:     color,
		CreatedAt: s.now().UTC(),
	}, nil
}

// sanitize strips markup; overlays are plain text. Entities are decoded before the
// policy runs so encoded tags are stripped too.
func (s *Service) sanitize(content string) string {
	clean := s.policy.Sanitize(html.UnescapeString(content))
	return strings.TrimSpace(html.UnescapeString(clean))
}

func (s *Service) List(ctx context.Context, videoID string) ([]Item, error) {
	return s.store.List(ctx, videoID)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := s.store.Delete(ctx, id)
	return err
}
