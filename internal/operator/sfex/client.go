package sfex

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/TrackHub/internal/apperrors"
	"github.com/google/uuid"
)

// Client — wire-клиент sfex: form-encoded запрос, подписанный
// msgDigest = base64(md5(msgData + timestamp + checkword)).
type Client struct {
	baseURL   string
	partnerID string
	checkword string
	httpc     *http.Client
	now       func() time.Time
}

func NewClient(baseURL, partnerID, checkword string) *Client {
	return &Client{
		baseURL:   baseURL,
		partnerID: partnerID,
		checkword: checkword,
		httpc: &http.Client{
			Timeout: 15 * time.Second,
		},
		now: time.Now,
	}
}

const serviceSearchRoutes = "EXP_RECE_SEARCH_ROUTES"

// Имена полей wire-контракта закреплены за sfex API.
type searchRoutesMsg struct {
	TrackingType   string   `json:"trackingType"`
	TrackingNumber []string `json:"trackingNumber"`
	MethodType     string   `json:"methodType"`
	CheckPhoneNo   string   `json:"checkPhoneNo,omitempty"`
}

type apiReply struct {
	APIResultCode string `json:"apiResultCode"`
	APIErrorMsg   string `json:"apiErrorMsg"`
	// apiResultData — сам по себе JSON-строка, разбирается вторым проходом.
	APIResultData string `json:"apiResultData"`
}

type resultData struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode"`
	ErrorMsg  string `json:"errorMsg"`
	MsgData   struct {
		RouteResps []routeResp `json:"routeResps"`
	} `json:"msgData"`
}

type routeResp struct {
	MailNo string  `json:"mailNo"`
	Routes []route `json:"routes"`
}

type route struct {
	AcceptTime          string `json:"acceptTime"`
	AcceptAddress       string `json:"acceptAddress"`
	Remark              string `json:"remark"`
	OpCode              string `json:"opCode"`
	SecondaryStatusCode string `json:"secondaryStatusCode"`
	SecondaryStatusName string `json:"secondaryStatusName"`
}

// SearchRoutes запрашивает маршрут одного трека. checkPhone — последние
// четыре цифры телефона получателя.
func (c *Client) SearchRoutes(ctx context.Context, trackingNum, checkPhone string) ([]route, error) {
	if c.partnerID == "" || c.checkword == "" {
		return nil, apperrors.ErrCarrierCredentials.WithDetail("sfex credentials are not configured")
	}

	msg := searchRoutesMsg{
		TrackingType:   "1",
		TrackingNumber: []string{trackingNum},
		MethodType:     "1",
		CheckPhoneNo:   checkPhone,
	}
	msgData, err := json.Marshal(msg)
	if err != nil {
		return nil, apperrors.ErrCarrierUnavailable.WithDetail("sfex marshal msgData: %v", err)
	}

	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	sum := md5.Sum([]byte(string(msgData) + timestamp + c.checkword))
	digest := base64.StdEncoding.EncodeToString(sum[:])

	form := url.Values{}
	form.Set("partnerID", c.partnerID)
	form.Set("requestID", uuid.NewString())
	form.Set("serviceCode", serviceSearchRoutes)
	form.Set("timestamp", timestamp)
	form.Set("msgData", string(msgData))
	form.Set("msgDigest", digest)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/std/service", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apperrors.ErrCarrierUnavailable.WithDetail("sfex request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, apperrors.ErrCarrierUnavailable.WithDetail("sfex request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, apperrors.ErrCarrierUnavailable.WithDetail("sfex http %d", resp.StatusCode)
	}

	var reply apiReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, apperrors.ErrCarrierUnavailable.WithDetail("sfex decode: %v", err)
	}
	switch reply.APIResultCode {
	case "A1000":
		// ok
	case "A1001", "A1004":
		// Подпись или partnerID не приняты.
		return nil, apperrors.ErrCarrierCredentials.WithDetail("sfex %s: %s", reply.APIResultCode, reply.APIErrorMsg)
	default:
		return nil, apperrors.ErrCarrierUnavailable.WithDetail("sfex %s: %s", reply.APIResultCode, reply.APIErrorMsg)
	}

	var data resultData
	if err := json.Unmarshal([]byte(reply.APIResultData), &data); err != nil {
		return nil, apperrors.ErrCarrierUnavailable.WithDetail("sfex decode apiResultData: %v", err)
	}
	if !data.Success {
		return nil, apperrors.ErrCarrierUnavailable.WithDetail("sfex %s: %s", data.ErrorCode, data.ErrorMsg)
	}

	for _, rr := range data.MsgData.RouteResps {
		if rr.MailNo == trackingNum && len(rr.Routes) > 0 {
			return rr.Routes, nil
		}
	}
	return nil, apperrors.ErrRouteNotFound.WithDetail("sfex has no routes for %s", trackingNum)
}
