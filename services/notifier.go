package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Notifier carries outbound text back to users through the chat gateway.
// Delivery failures are the caller's to log; they never undo a credit.
type Notifier interface {
	NotifyUser(userID int64, text string) error
	NotifyAdmin(text string) error
}

// GatewayNotifier posts notifications to the bot gateway's send endpoint.
type GatewayNotifier struct {
	BaseURL    string
	Token      string
	AdminID    int64
	HTTPClient *http.Client
}

func NewGatewayNotifier() *GatewayNotifier {
	baseURL := os.Getenv("NOTIFY_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("NOTIFY_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("NUMBER_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("NUMBER_SERVICE_TOKEN environment variable is required for notifications")
	}
	adminID, _ := strconv.ParseInt(os.Getenv("ADMIN_ID"), 10, 64)
	if adminID == 0 {
		log.Println("⚠️  ADMIN_ID not set — operator alerts will only be logged")
	}

	return &GatewayNotifier{
		BaseURL: baseURL,
		Token:   token,
		AdminID: adminID,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (n *GatewayNotifier) NotifyUser(userID int64, text string) error {
	return n.send(userID, text)
}

func (n *GatewayNotifier) NotifyAdmin(text string) error {
	if n.AdminID == 0 {
		log.Printf("🔔 [ADMIN ALERT] %s", text)
		return nil
	}
	return n.send(n.AdminID, text)
}

func (n *GatewayNotifier) send(userID int64, text string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"user_id": userID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, n.BaseURL+"/api/v1/notify", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", n.Token)

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call notify service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notify service returned status %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
