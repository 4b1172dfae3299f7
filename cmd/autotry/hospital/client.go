package hospital

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	PathVerifyCode     = "/Account/GetValidateCode"
	PathLogin          = "/api/hbapi/account/login?hbsign="
	PathConfirmTime    = "/api/hbapi/standard/getconfirmappoint?hbsign="
	PathClinicPay      = "/api/hbapi/booking/clinicpay?hbsign="
	PathSearchSchedule = "/api/hbapi/booking/searchdoctorappointments?hbsign="
	PathConfirmAppoint = "/Appointment/ConfirmAppoint"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
)

// Client talks to the hospital site. It keeps one cookie jar for its whole
// life, so a Client belongs to a single booking run.
type Client struct {
	host    string
	http    *http.Client
	timeout time.Duration
	rl      *rate.Limiter
	now     func() time.Time
	log     logrus.FieldLogger
}

type Option func(*Client)

// WithTimeout bounds every request, whichever transport client is used.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithRateLimit(every time.Duration, burst int) Option {
	return func(c *Client) { c.rl = rate.NewLimiter(rate.Every(every), burst) }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

// WithHTTPClient uses a copy of hc as the transport client. hc itself is
// left untouched; the copy gets its own cookie jar if hc has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		c.http = &cp
	}
}

func NewClient(host string, opts ...Option) (*Client, error) {
	c := &Client{
		host: strings.TrimRight(host, "/"),
		rl:   rate.NewLimiter(rate.Every(time.Second), 1),
		now:  time.Now,
		log:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "hospital")

	if c.http == nil {
		c.http = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	if c.timeout > 0 {
		c.http.Timeout = c.timeout
	}

	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("error creating cookie jar: %w", err)
		}
		c.http.Jar = jar
	}

	return c, nil
}

// TimestampedURL appends the current unix time in milliseconds to path.
func (c *Client) TimestampedURL(path string) string {
	full := c.host + path + strconv.FormatInt(c.now().UnixMilli(), 10)
	c.log.Info(full)

	return full
}

func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("error doing %s %s: %w", req.Method, req.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading body %s: %w", req.URL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL)
	}

	return body, nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("error building request %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	c.log.Info(string(body))

	return body, nil
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	body, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error unmarshaling %s: %w", endpoint, err)
	}

	return nil
}

// VerificationImage downloads a fresh verification code image.
func (c *Client) VerificationImage(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.host+PathVerifyCode, nil)
	if err != nil {
		return nil, fmt.Errorf("error building verification request: %w", err)
	}

	body, err := c.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("error requesting verification image: %w", err)
	}

	return body, nil
}

func (c *Client) Login(ctx context.Context, r LoginRequest) (*Response, error) {
	form := url.Values{
		"LoginName":  {r.LoginName},
		"Password":   {r.Password},
		"VerifyCode": {r.VerifyCode},
	}

	resp := &Response{}
	if err := c.post(ctx, c.TimestampedURL(PathLogin), form, resp); err != nil {
		return nil, fmt.Errorf("error logging in: %w", err)
	}

	return resp, nil
}

func (c *Client) SearchDoctorAppointments(ctx context.Context, doctorID string) (*ScheduleResponse, error) {
	form := url.Values{
		"DoctorId": {doctorID},
	}

	resp := &ScheduleResponse{}
	if err := c.post(ctx, c.TimestampedURL(PathSearchSchedule), form, resp); err != nil {
		return nil, fmt.Errorf("error searching appointments of doctor %s: %w", doctorID, err)
	}

	return resp, nil
}

// ConfirmAppoint opens the confirmation page of a slot. The site expects the
// slot both in the query string and in the form. The page is not always
// JSON; a nil Response with a nil error means the server answered with
// something else.
func (c *Client) ConfirmAppoint(ctx context.Context, r ConfirmRequest) (*Response, error) {
	form := url.Values{
		"ClinicLabelId": {r.ClinicLabelID},
		"ClinicDate":    {r.ClinicDate},
		"NoonId":        {r.NoonID},
		"NoonText":      {r.NoonText},
		"HospitalGuid":  {r.HospitalGUID},
		"SchmId":        {r.SchmID},
	}
	full := c.host + PathConfirmAppoint + "?" + form.Encode()
	c.log.Info(full)

	body, err := c.postForm(ctx, full, form)
	if err != nil {
		return nil, fmt.Errorf("error confirming appointment %s: %w", r.SchmID, err)
	}

	resp := &Response{}
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, nil
	}

	return resp, nil
}

// ConfirmTimes lists the free time parts of a schedule. An empty list is not
// an error.
func (c *Client) ConfirmTimes(ctx context.Context, s Slot) ([]TimePart, error) {
	form := url.Values{
		"ClinicDate":    {s.ClinicDate},
		"ClinicLabelId": {s.ClinicLabelID},
		"NoonId":        {s.NoonID},
		"SchmId":        {s.SchmID},
	}

	resp := &Response{}
	if err := c.post(ctx, c.TimestampedURL(PathConfirmTime), form, resp); err != nil {
		return nil, fmt.Errorf("error requesting times of %s: %w", s.SchmID, err)
	}

	if len(resp.ResultData) == 0 || string(resp.ResultData) == "null" {
		return nil, nil
	}

	data := &timesData{}
	if err := json.Unmarshal(resp.ResultData, data); err != nil {
		return nil, fmt.Errorf("error unmarshaling times of %s: %w", s.SchmID, err)
	}

	return data.TimePartResponsesList, nil
}

func (c *Client) ClinicPay(ctx context.Context, r PayRequest) (*Response, error) {
	form := url.Values{
		"IdCode":        {r.IDCode},
		"IdType":        {r.IDType},
		"IsClinic":      {"false"},
		"ClinicDate":    {r.ClinicDate},
		"ClinicLabelId": {r.ClinicLabelID},
		"Noon":          {r.NoonID},
		"SchmId":        {r.SchmID},
		"PatientId":     {r.PatientID},
		"OperateType":   {r.OperateType},
		"AppointmentId": {r.AppointmentID},
		"PayChannel":    {r.PayChannel},
		"PayType":       {r.PayType},
		"TimePart":      {r.Time.StartTime},
		"EndTimePart":   {r.Time.EndTime},
	}

	resp := &Response{}
	if err := c.post(ctx, c.TimestampedURL(PathClinicPay), form, resp); err != nil {
		return nil, fmt.Errorf("error paying %s at %s: %w", r.SchmID, r.Time, err)
	}

	return resp, nil
}
