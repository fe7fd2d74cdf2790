package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

//DefaultTimeout bounds a single REST call
var DefaultTimeout = 30 * time.Second

//APIError is a failed REST call turned into one human readable message
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

//NewREST creates a JSON REST client rooted at baseURL. The API key header is
//only sent when both name and key are set.
func NewREST(baseURL, apiKeyHeader, apiKey string) *resty.Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(DefaultTimeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if apiKeyHeader != "" && apiKey != "" {
		c.SetHeader(apiKeyHeader, apiKey)
	}
	return c
}

//DecodeError maps the outcome of a resty call to an error, nil when the call succeeded
func DecodeError(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp == nil {
		return errors.New("no response")
	}
	if !resp.IsError() {
		return nil
	}

	msg := ""
	body := resp.Body()
	var data struct {
		Error interface{} `json:"error"`
	}
	if json.Unmarshal(body, &data) == nil && data.Error != nil {
		msg = fmt.Sprint(data.Error)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		text := http.StatusText(resp.StatusCode())
		if text == "" {
			text = "Unknown error"
		}
		msg = fmt.Sprintf("%d - %s", resp.StatusCode(), text)
	}
	return &APIError{StatusCode: resp.StatusCode(), Message: msg}
}

//DecodeJSON is DecodeError followed by the decoding of the response body into result
func DecodeJSON(resp *resty.Response, err error, result interface{}) error {
	if err := DecodeError(resp, err); err != nil {
		return err
	}
	body := resp.Body()
	if result == nil || len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("invalid response from %s: %w", resp.Request.URL, err)
	}
	return nil
}
