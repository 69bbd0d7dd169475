package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	productDomain "github.com/davicafu/productflow/internal/product/domain"
	"go.uber.org/zap"
)

const notificationsPath = "/api/v1/notifications"

var ErrNotificationRejected = errors.New("notification rejected")

// Client envía notificaciones al servicio de notificaciones por HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

var _ productDomain.Notifier = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type notificationRequest struct {
	UserID      string `json:"userId"`
	Type        string `json:"type"`
	Content     string `json:"content"`
	Channel     string `json:"channel"`
	ReferenceID string `json:"referenceId"`
}

func (c *Client) Send(ctx context.Context, n productDomain.Notification) error {
	if !n.Type.Valid() {
		return fmt.Errorf("%w: unknown notification type %q", productDomain.ErrInvalidRequest, n.Type)
	}
	channel := n.Channel
	if channel == "" {
		channel = productDomain.ChannelInApp
	}

	body, err := json.Marshal(notificationRequest{
		UserID:      n.UserID,
		Type:        string(n.Type),
		Content:     n.Content,
		Channel:     channel,
		ReferenceID: n.ReferenceID.String(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+notificationsPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("notification service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrNotificationRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	c.log.Info("🔔 Notification sent",
		zap.String("user_id", n.UserID),
		zap.String("type", string(n.Type)),
		zap.String("reference_id", n.ReferenceID.String()),
	)
	return nil
}
