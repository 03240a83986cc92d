package zalopay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/config"
	"github.com/smallbiznis/staybook/internal/payment/adapters"
	"github.com/smallbiznis/staybook/internal/payment/domain"

	_ "time/tzdata"
)

const (
	appUser = "staybook"
	// ZaloPay dates app_trans_id in Vietnam time.
	transIDZone = "Asia/Ho_Chi_Minh"
)

type Adapter struct {
	cfg    config.ZaloPayConfig
	client *http.Client
	clock  clock.Clock
	zone   *time.Location
}

func New(cfg config.ZaloPayConfig, client *http.Client, clk clock.Clock) *Adapter {
	zone, err := time.LoadLocation(transIDZone)
	if err != nil {
		zone = time.FixedZone("ICT", 7*60*60)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Adapter{cfg: cfg, client: client, clock: clk, zone: zone}
}

func (a *Adapter) Provider() string { return domain.ProviderZaloPay }

type createResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	OrderURL      string `json:"order_url"`
}

type embedData struct {
	RedirectURL   string `json:"redirecturl"`
	TransactionID string `json:"transactionId"`
}

func (a *Adapter) CreatePaymentLink(ctx context.Context, req domain.PaymentLinkRequest) (*domain.PaymentLink, error) {
	if a.cfg.AppID == "" || a.cfg.Key1 == "" {
		return nil, domain.ErrInvalidConfig
	}

	now := a.clock.Now()
	appTransID := now.In(a.zone).Format("060102") + "_" + req.ExternalID
	appTime := strconv.FormatInt(now.UnixMilli(), 10)
	amount := strconv.FormatInt(req.Amount, 10)
	item := "[]"
	embed, err := json.Marshal(embedData{RedirectURL: a.cfg.RedirectURL, TransactionID: req.ExternalID})
	if err != nil {
		return nil, err
	}

	mac := adapters.SignHex(a.cfg.Key1, strings.Join([]string{
		a.cfg.AppID, appTransID, appUser, amount, appTime, string(embed), item,
	}, "|"))

	form := url.Values{}
	form.Set("app_id", a.cfg.AppID)
	form.Set("app_trans_id", appTransID)
	form.Set("app_user", appUser)
	form.Set("app_time", appTime)
	form.Set("amount", amount)
	form.Set("item", item)
	form.Set("embed_data", string(embed))
	form.Set("description", "Payment for booking #"+req.ExternalID)
	form.Set("bank_code", "")
	form.Set("callback_url", a.cfg.CallbackURL)
	form.Set("mac", mac)

	var resp createResponse
	if err := adapters.Post(ctx, a.client, a.cfg.Endpoint, "application/x-www-form-urlencoded", []byte(form.Encode()), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentLinkCreationFailed, err)
	}
	if resp.ReturnCode != 1 || resp.OrderURL == "" {
		return nil, fmt.Errorf("%w: zalopay return_code=%d %s", domain.ErrPaymentLinkCreationFailed, resp.ReturnCode, resp.ReturnMessage)
	}
	return &domain.PaymentLink{ProviderTransactionID: req.ExternalID, PayURL: resp.OrderURL}, nil
}

type callbackBody struct {
	Data string `json:"data"`
	MAC  string `json:"mac"`
	Type int    `json:"type"`
}

type callbackData struct {
	AppTransID string `json:"app_trans_id"`
	EmbedData  string `json:"embed_data"`
	Amount     int64  `json:"amount"`
}

// ParseCallback checks mac = HMAC(key2, data). ZaloPay only calls back on a
// settled payment, so a verified callback is a success.
func (a *Adapter) ParseCallback(_ context.Context, payload []byte, _ http.Header) (*domain.CallbackResult, error) {
	var body callbackBody
	if err := json.Unmarshal(payload, &body); err != nil || body.Data == "" {
		return nil, domain.ErrInvalidPayload
	}
	var data callbackData
	if err := json.Unmarshal([]byte(body.Data), &data); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	transactionID := ""
	var embed embedData
	if data.EmbedData != "" && json.Unmarshal([]byte(data.EmbedData), &embed) == nil {
		transactionID = embed.TransactionID
	}
	if transactionID == "" {
		if _, rest, ok := strings.Cut(data.AppTransID, "_"); ok {
			transactionID = rest
		}
	}
	if transactionID == "" {
		return nil, domain.ErrInvalidPayload
	}

	verified := a.cfg.Key2 != "" && adapters.VerifyHex(a.cfg.Key2, body.Data, body.MAC)
	return &domain.CallbackResult{
		Provider:              domain.ProviderZaloPay,
		Verified:              verified,
		Success:               verified,
		ProviderTransactionID: transactionID,
		Amount:                data.Amount,
		Raw:                   payload,
	}, nil
}

type ack struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
}

func (a *Adapter) Ack(result *domain.CallbackResult) domain.CallbackAck {
	if result == nil || !result.Verified {
		return domain.CallbackAck{StatusCode: http.StatusOK, Body: ack{ReturnCode: -1, ReturnMessage: "mac not equal"}}
	}
	return domain.CallbackAck{StatusCode: http.StatusOK, Body: ack{ReturnCode: 1, ReturnMessage: "success"}}
}
