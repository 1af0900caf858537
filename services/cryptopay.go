package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice TTL the provider enforces; the expiry sweep uses the same horizon.
const InvoiceExpiresIn = time.Hour

// Invoice is the subset of the provider invoice the deposit flow needs.
type Invoice struct {
	ID           string
	PayURL       string
	CryptoAmount decimal.Decimal
	Asset        string
}

// InvoiceCreator issues payment-provider invoices. Satisfied by
// CryptoPayClient; tests substitute a fake.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, userID int64, fiatAmount decimal.Decimal, asset string) (*Invoice, error)
}

// CryptoPayClient talks to the CryptoPay HTTP API.
type CryptoPayClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Oracle     PriceOracle
}

func NewCryptoPayClient(oracle PriceOracle) *CryptoPayClient {
	baseURL := os.Getenv("CRYPTOPAY_API_BASE")
	if baseURL == "" {
		baseURL = "https://pay.crypt.bot/api"
	}
	token := os.Getenv("CRYPTOPAY_API_TOKEN")
	if token == "" {
		log.Fatal("CRYPTOPAY_API_TOKEN environment variable is required")
	}

	return &CryptoPayClient{
		BaseURL: baseURL,
		Token:   token,
		Oracle:  oracle,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateInvoice converts the fiat amount to the chosen asset and opens a
// provider invoice for exactly that crypto amount.
func (c *CryptoPayClient) CreateInvoice(ctx context.Context, userID int64, fiatAmount decimal.Decimal, asset string) (*Invoice, error) {
	cryptoAmount, err := c.Oracle.Convert(ctx, fiatAmount, asset)
	if err != nil {
		return nil, fmt.Errorf("convert %s to %s: %w", fiatAmount, asset, err)
	}

	payload := map[string]interface{}{
		"amount":        cryptoAmount.String(),
		"asset":         asset,
		"currency_type": "crypto",
		"description":   fmt.Sprintf("Deposit %s - user %d", fiatAmount.StringFixed(2), userID),
		"expires_in":    int(InvoiceExpiresIn.Seconds()),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/createInvoice", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Crypto-Pay-API-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call payment provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("payment provider returned status %d: %s", resp.StatusCode, string(snippet))
	}

	var response struct {
		Ok     bool `json:"ok"`
		Result struct {
			InvoiceID     int64  `json:"invoice_id"`
			BotInvoiceURL string `json:"bot_invoice_url"`
		} `json:"result"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	if !response.Ok {
		return nil, fmt.Errorf("payment provider rejected invoice: %s", response.Error)
	}

	return &Invoice{
		ID:           strconv.FormatInt(response.Result.InvoiceID, 10),
		PayURL:       response.Result.BotInvoiceURL,
		CryptoAmount: cryptoAmount,
		Asset:        asset,
	}, nil
}
