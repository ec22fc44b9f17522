package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"licitascan/models"
)

// TelegramNotifier posts messages to a chat via the bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

var _ Notifier = (*TelegramNotifier)(nil)

func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *TelegramNotifier) NotifyNewListings(ctx context.Context, listings []*models.Listing, sourceName string) error {
	if len(listings) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s*: %d nuevas licitaciones\n\n", sourceName, len(listings))
	for i, l := range listings {
		if i >= 15 {
			fmt.Fprintf(&b, "... y %d más\n", len(listings)-i)
			break
		}
		writeListingLine(&b, l)
	}

	return n.send(ctx, b.String())
}

func (n *TelegramNotifier) NotifyAdapterError(ctx context.Context, sourceName, message string) error {
	return n.send(ctx, fmt.Sprintf("⚠️ *%s* falló: %s", sourceName, message))
}

func (n *TelegramNotifier) SendDigest(ctx context.Context, group *models.AlertGroup, listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Resumen %s*: %d licitaciones\n\n", group.Name, len(listings))
	for i := range listings {
		if i >= 25 {
			fmt.Fprintf(&b, "... y %d más\n", len(listings)-i)
			break
		}
		writeListingLine(&b, &listings[i])
	}

	return n.send(ctx, b.String())
}

func writeListingLine(b *strings.Builder, l *models.Listing) {
	title := l.Title
	if r := []rune(title); len(r) > 120 {
		title = string(r[:120]) + "…"
	}
	if l.CanonicalURL != "" {
		fmt.Fprintf(b, "• [%s](%s)\n", title, l.CanonicalURL)
	} else {
		fmt.Fprintf(b, "• %s\n", title)
	}
	if l.Organization != "" {
		fmt.Fprintf(b, "  _%s_\n", l.Organization)
	}
}

func (n *TelegramNotifier) send(ctx context.Context, text string) error {
	if n.botToken == "" || n.chatID == "" {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}
