package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sarathi/internal/config"
)

const twilioMessagesPath = "/2010-04-01/Accounts/%s/Messages.json"

// Twilio sends SMS through the Twilio Programmable Messaging API.
type Twilio struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	http       *http.Client
}

func NewTwilio(cfg config.TwilioConfig) *Twilio {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.twilio.com"
	}
	return &Twilio{
		baseURL:    base,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		http: &http.Client{
			Timeout: 8 * time.Second,
		},
	}
}

type twilioResp struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Twilio) Notify(ctx context.Context, phone, message string) error {
	if c.accountSID == "" || c.authToken == "" {
		return fmt.Errorf("twilio credentials are not configured")
	}
	if strings.TrimSpace(phone) == "" {
		return fmt.Errorf("twilio: recipient phone is empty")
	}

	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", c.from)
	form.Set("Body", message)

	endpoint := c.baseURL + fmt.Sprintf(twilioMessagesPath, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var tr twilioResp
	_ = json.Unmarshal(raw, &tr)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		if tr.Message != "" {
			return fmt.Errorf("twilio http %d: %d %s", resp.StatusCode, tr.Code, tr.Message)
		}
		return fmt.Errorf("twilio http %d: %s", resp.StatusCode, string(raw))
	}
	if tr.SID == "" {
		return fmt.Errorf("twilio: empty message sid")
	}
	return nil
}
