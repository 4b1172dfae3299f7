package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const apiURL = "https://api.telegram.org"

// Sender posts booking results to a telegram chat.
type Sender struct {
	client *http.Client
	api    string
	token  string
	chatID string
	now    func() time.Time
}

type Option func(*Sender)

func WithAPI(api string) Option {
	return func(s *Sender) { s.api = api }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sender) { s.now = now }
}

func NewSender(token, chatID string, opts ...Option) *Sender {
	s := &Sender{
		token:  token,
		chatID: chatID,
		api:    apiURL,
		now:    time.Now,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Enabled reports whether both token and chat are configured.
func (s *Sender) Enabled() bool {
	return s.token != "" && s.chatID != ""
}

// SendMessage posts a markdown message. Messages sent at night in China
// Standard Time are silent.
func (s *Sender) SendMessage(ctx context.Context, message string) error {
	hour := s.now().UTC().Add(8 * time.Hour).Hour()
	silent := hour >= 22 || hour < 8

	query := url.Values{
		"chat_id":              {s.chatID},
		"text":                 {message},
		"parse_mode":           {"markdown"},
		"disable_notification": {fmt.Sprint(silent)},
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage?%s", s.api, s.token, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("error building telegram message: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram answered %d", resp.StatusCode)
	}

	return nil
}
