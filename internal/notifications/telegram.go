package notifications

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const telegramAPIBase = "https://api.telegram.org"

// ErrTelegramUnavailable is returned while the delivery breaker is open
var ErrTelegramUnavailable = stderrors.New("telegram delivery suspended: circuit breaker is open")

type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// TelegramOption customizes a TelegramNotifier
type TelegramOption func(*TelegramNotifier)

// WithBaseURL points the notifier at a different API host
func WithBaseURL(u string) TelegramOption {
	return func(t *TelegramNotifier) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithRateLimit caps messages per second with the given burst
func WithRateLimit(perSecond float64, burst int) TelegramOption {
	return func(t *TelegramNotifier) { t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

func NewTelegramNotifier(token, chatID string, opts ...TelegramOption) *TelegramNotifier {
	t := &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
		// Telegram allows about one message per second per chat
		limiter: rate.NewLimiter(rate.Limit(1), 5),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return t
}

func (t *TelegramNotifier) SendAlert(ctx context.Context, alert Alert) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit wait: %w", err)
	}

	_, err := t.breaker.Execute(func() (interface{}, error) {
		return nil, t.post(ctx, alert)
	})
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrTelegramUnavailable
	}
	return err
}

func (t *TelegramNotifier) post(ctx context.Context, alert Alert) error {
	emoji := "ℹ️"
	switch alert.Severity {
	case SeverityWarning:
		emoji = "⚠️"
	case SeverityError:
		emoji = "❗"
	case SeverityCritical:
		emoji = "🚨"
	}

	text := fmt.Sprintf("%s *Risk Core Alert*\n\n%s", emoji, alert.Text())

	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	data := url.Values{}
	data.Set("chat_id", t.chatID)
	data.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}
