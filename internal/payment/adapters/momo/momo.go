package momo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/smallbiznis/staybook/internal/config"
	"github.com/smallbiznis/staybook/internal/payment/adapters"
	"github.com/smallbiznis/staybook/internal/payment/domain"
)

const requestType = "payWithMethod"

type Adapter struct {
	cfg    config.MoMoConfig
	client *http.Client
}

func New(cfg config.MoMoConfig, client *http.Client) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Provider() string { return domain.ProviderMoMo }

type createRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	Lang        string `json:"lang"`
	RequestType string `json:"requestType"`
	AutoCapture bool   `json:"autoCapture"`
	ExtraData   string `json:"extraData"`
	Signature   string `json:"signature"`
}

type createResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
}

func (a *Adapter) CreatePaymentLink(ctx context.Context, req domain.PaymentLinkRequest) (*domain.PaymentLink, error) {
	if a.cfg.PartnerCode == "" || a.cfg.AccessKey == "" || a.cfg.SecretKey == "" {
		return nil, domain.ErrInvalidConfig
	}

	body := createRequest{
		PartnerCode: a.cfg.PartnerCode,
		RequestID:   req.ExternalID,
		Amount:      req.Amount,
		OrderID:     req.ExternalID,
		OrderInfo:   "Payment for booking " + req.ExternalID,
		RedirectURL: a.cfg.RedirectURL,
		IPNURL:      a.cfg.IPNURL,
		Lang:        "vi",
		RequestType: requestType,
		AutoCapture: true,
	}
	body.Signature = adapters.SignHex(a.cfg.SecretKey, createSignature(a.cfg.AccessKey, body))

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var resp createResponse
	if err := adapters.Post(ctx, a.client, a.cfg.Endpoint, "application/json", raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentLinkCreationFailed, err)
	}
	if resp.ResultCode != 0 || resp.PayURL == "" {
		return nil, fmt.Errorf("%w: momo resultCode=%d %s", domain.ErrPaymentLinkCreationFailed, resp.ResultCode, resp.Message)
	}
	return &domain.PaymentLink{ProviderTransactionID: req.ExternalID, PayURL: resp.PayURL}, nil
}

func createSignature(accessKey string, r createRequest) string {
	return fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
		accessKey, r.Amount, r.ExtraData, r.IPNURL, r.OrderID, r.OrderInfo, r.PartnerCode, r.RedirectURL, r.RequestID, r.RequestType,
	)
}

type ipn struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

func ipnSignature(accessKey string, n ipn) string {
	return fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		accessKey, n.Amount, n.ExtraData, n.Message, n.OrderID, n.OrderInfo, n.OrderType, n.PartnerCode, n.PayType, n.RequestID, n.ResponseTime, n.ResultCode, n.TransID,
	)
}

// ParseCallback verifies an IPN. resultCode 0 means paid.
func (a *Adapter) ParseCallback(_ context.Context, payload []byte, _ http.Header) (*domain.CallbackResult, error) {
	var n ipn
	if err := json.Unmarshal(payload, &n); err != nil || n.OrderID == "" {
		return nil, domain.ErrInvalidPayload
	}
	verified := a.cfg.SecretKey != "" && adapters.VerifyHex(a.cfg.SecretKey, ipnSignature(a.cfg.AccessKey, n), n.Signature)
	return &domain.CallbackResult{
		Provider:              domain.ProviderMoMo,
		Verified:              verified,
		Success:               verified && n.ResultCode == 0,
		ProviderTransactionID: n.OrderID,
		Amount:                n.Amount,
		Message:               n.Message,
		Raw:                   payload,
	}, nil
}

// Ack answers an IPN with an empty 204, as MoMo expects.
func (a *Adapter) Ack(*domain.CallbackResult) domain.CallbackAck {
	return domain.CallbackAck{StatusCode: http.StatusNoContent}
}
