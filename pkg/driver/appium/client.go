// Package appium implements core.Driver against an Appium server (or any
// W3C WebDriver endpoint) over plain JSON/HTTP.
package appium

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// W3C WebDriver element identifier key (standard constant)
const w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"

// WebDriverError is an error reported by the remote endpoint.
type WebDriverError struct {
	StatusCode int    // HTTP status
	Code       string // W3C error code: "no such element", "session not created", ...
	Message    string
}

func (e *WebDriverError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsWebDriverError reports whether err carries the W3C error code.
func IsWebDriverError(err error, code string) bool {
	var wdErr *WebDriverError
	return errors.As(err, &wdErr) && wdErr.Code == code
}

// Client handles HTTP communication with Appium server.
type Client struct {
	serverURL string
	sessionID string
	client    *http.Client
}

// NewClient creates a new Appium client.
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		client: &http.Client{
			Timeout: 5 * time.Minute, // Long timeout for install/screenshot
		},
	}
}

// Connect creates a new session. payload is the full POST /session body.
func (c *Client) Connect(ctx context.Context, payload interface{}) error {
	resp, err := c.post(ctx, "/session", payload)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	// W3C puts sessionId inside value; legacy JSONWP puts it at the top level
	if value, ok := resp["value"].(map[string]interface{}); ok {
		c.sessionID, _ = value["sessionId"].(string)
	}
	if c.sessionID == "" {
		c.sessionID, _ = resp["sessionId"].(string)
	}
	if c.sessionID == "" {
		return fmt.Errorf("no session ID in response")
	}
	return nil
}

// SessionID returns the remote session id, or "" before Connect.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Disconnect closes the session.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.sessionID == "" {
		return nil
	}
	_, err := c.delete(ctx, c.sessionPath())
	c.sessionID = ""
	return err
}

// ServerStatus is the value of GET /status.
type ServerStatus struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
}

// Status queries the endpoint readiness. It does not need a session.
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	resp, err := c.get(ctx, "/status")
	if err != nil {
		return nil, err
	}
	st := &ServerStatus{Ready: true}
	if value, ok := resp["value"].(map[string]interface{}); ok {
		if ready, ok := value["ready"].(bool); ok {
			st.Ready = ready
		}
		st.Message, _ = value["message"].(string)
	}
	return st, nil
}

// WaitReady polls /status with exponential backoff until the endpoint reports
// ready, maxWait elapses or ctx is done.
func (c *Client) WaitReady(ctx context.Context, maxWait time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxWait

	return backoff.Retry(func() error {
		st, err := c.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if !st.Ready {
			return fmt.Errorf("endpoint not ready: %s", st.Message)
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

// Element Operations

// FindElements finds multiple elements. No match is an empty slice, not an error.
func (c *Client) FindElements(ctx context.Context, strategy, value string) ([]string, error) {
	body := map[string]interface{}{
		"using": strategy,
		"value": value,
	}

	resp, err := c.post(ctx, c.sessionPath()+"/elements", body)
	if err != nil {
		return nil, err
	}

	values, ok := resp["value"].([]interface{})
	if !ok {
		return nil, nil
	}

	var ids []string
	for _, v := range values {
		if elem, ok := v.(map[string]interface{}); ok {
			if id := extractElementID(elem); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// ClickElement clicks an element using WebDriver standard endpoint.
func (c *Client) ClickElement(ctx context.Context, elementID string) error {
	_, err := c.post(ctx, c.elementPath(elementID)+"/click", map[string]interface{}{})
	return err
}

// ClearElement clears an element's text.
func (c *Client) ClearElement(ctx context.Context, elementID string) error {
	_, err := c.post(ctx, c.elementPath(elementID)+"/clear", map[string]interface{}{})
	return err
}

// SetElementValue types text into an element.
func (c *Client) SetElementValue(ctx context.Context, elementID, text string) error {
	chars := make([]string, 0, len(text))
	for _, ch := range text {
		chars = append(chars, string(ch))
	}
	_, err := c.post(ctx, c.elementPath(elementID)+"/value", map[string]interface{}{
		"text":  text,
		"value": chars, // pre-W3C servers read the character array
	})
	return err
}

// GetElementText returns an element's text.
func (c *Client) GetElementText(ctx context.Context, elementID string) (string, error) {
	resp, err := c.get(ctx, c.elementPath(elementID)+"/text")
	if err != nil {
		return "", err
	}
	text, _ := resp["value"].(string)
	return text, nil
}

// GetElementAttribute returns an element's attribute value.
func (c *Client) GetElementAttribute(ctx context.Context, elementID, name string) (string, error) {
	resp, err := c.get(ctx, c.elementPath(elementID)+"/attribute/"+name)
	if err != nil {
		return "", err
	}
	switch v := resp["value"].(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}

// GetElementRect returns an element's position and size.
func (c *Client) GetElementRect(ctx context.Context, elementID string) (x, y, w, h int, err error) {
	resp, err := c.get(ctx, c.elementPath(elementID)+"/rect")
	if err != nil {
		return 0, 0, 0, 0, err
	}
	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return 0, 0, 0, 0, fmt.Errorf("invalid rect response")
	}

	xf, _ := value["x"].(float64)
	yf, _ := value["y"].(float64)
	wf, _ := value["width"].(float64)
	hf, _ := value["height"].(float64)
	return int(xf), int(yf), int(wf), int(hf), nil
}

// IsElementDisplayed checks if element is visible.
func (c *Client) IsElementDisplayed(ctx context.Context, elementID string) (bool, error) {
	resp, err := c.get(ctx, c.elementPath(elementID)+"/displayed")
	if err != nil {
		return false, err
	}
	displayed, _ := resp["value"].(bool)
	return displayed, nil
}

// Touch/Gesture Operations (W3C Actions)

func (c *Client) performTouchAction(ctx context.Context, actions []map[string]interface{}) error {
	payload := []map[string]interface{}{
		{
			"type":       "pointer",
			"id":         "finger1",
			"parameters": map[string]interface{}{"pointerType": "touch"},
			"actions":    actions,
		},
	}
	_, err := c.post(ctx, c.sessionPath()+"/actions", map[string]interface{}{"actions": payload})
	return err
}

// Tap performs a tap at coordinates using W3C touch actions.
func (c *Client) Tap(ctx context.Context, x, y int) error {
	return c.PressAndRelease(ctx, x, y, 50*time.Millisecond)
}

// PressAndRelease presses at coordinates, holds, then releases.
func (c *Client) PressAndRelease(ctx context.Context, x, y int, hold time.Duration) error {
	return c.performTouchAction(ctx, []map[string]interface{}{
		{"type": "pointerMove", "duration": 0, "x": x, "y": y, "origin": "viewport"},
		{"type": "pointerDown", "button": 0},
		{"type": "pause", "duration": hold.Milliseconds()},
		{"type": "pointerUp", "button": 0},
	})
}

// TapElement performs a tap on an element using W3C touch actions with element origin.
func (c *Client) TapElement(ctx context.Context, elementID string) error {
	return c.performTouchAction(ctx, []map[string]interface{}{
		{
			"type":     "pointerMove",
			"duration": 0,
			"x":        0,
			"y":        0,
			"origin":   map[string]interface{}{w3cElementKey: elementID},
		},
		{"type": "pointerDown", "button": 0},
		{"type": "pause", "duration": 50},
		{"type": "pointerUp", "button": 0},
	})
}

// HideKeyboard hides the on-screen keyboard.
func (c *Client) HideKeyboard(ctx context.Context) error {
	_, err := c.post(ctx, c.sessionPath()+"/appium/device/hide_keyboard", map[string]interface{}{})
	return err
}

// Screen Operations

// Screenshot returns a screenshot as PNG bytes.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	resp, err := c.get(ctx, c.sessionPath()+"/screenshot")
	if err != nil {
		return nil, err
	}
	encoded, ok := resp["value"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid screenshot response")
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// Source returns the page source XML.
func (c *Client) Source(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, c.sessionPath()+"/source")
	if err != nil {
		return "", err
	}
	source, _ := resp["value"].(string)
	return source, nil
}

// OpenURL opens a URL.
func (c *Client) OpenURL(ctx context.Context, url string) error {
	_, err := c.post(ctx, c.sessionPath()+"/url", map[string]interface{}{
		"url": url,
	})
	return err
}

// Timeouts

// SetImplicitWait sets the implicit wait timeout.
func (c *Client) SetImplicitWait(ctx context.Context, timeout time.Duration) error {
	_, err := c.post(ctx, c.sessionPath()+"/timeouts", map[string]interface{}{
		"implicit": timeout.Milliseconds(),
	})
	return err
}

// ExecuteScript runs a script synchronously.
func (c *Client) ExecuteScript(ctx context.Context, script string, args []interface{}) (interface{}, error) {
	if args == nil {
		args = []interface{}{}
	}
	resp, err := c.post(ctx, c.sessionPath()+"/execute/sync", map[string]interface{}{
		"script": script,
		"args":   args,
	})
	if err != nil {
		return nil, err
	}
	return resp["value"], nil
}

// ExecuteMobile executes a mobile: command.
func (c *Client) ExecuteMobile(ctx context.Context, command string, args map[string]interface{}) (interface{}, error) {
	return c.ExecuteScript(ctx, "mobile: "+command, []interface{}{args})
}

// HTTP Helpers

func (c *Client) sessionPath() string {
	return "/session/" + c.sessionID
}

func (c *Client) elementPath(elementID string) string {
	return c.sessionPath() + "/element/" + elementID
}

func (c *Client) get(ctx context.Context, path string) (map[string]interface{}, error) {
	return c.request(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (map[string]interface{}, error) {
	return c.request(ctx, http.MethodPost, path, body)
}

func (c *Client) delete(ctx context.Context, path string) (map[string]interface{}, error) {
	return c.request(ctx, http.MethodDelete, path, nil)
}

func (c *Client) request(ctx context.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	url := c.serverURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, &WebDriverError{StatusCode: resp.StatusCode, Code: "unknown error", Message: strings.TrimSpace(string(respBody))}
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Check for WebDriver error
	if errValue, ok := result["value"].(map[string]interface{}); ok {
		if errType, ok := errValue["error"].(string); ok {
			msg, _ := errValue["message"].(string)
			return result, &WebDriverError{StatusCode: resp.StatusCode, Code: errType, Message: msg}
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return result, &WebDriverError{StatusCode: resp.StatusCode, Code: "unknown error", Message: http.StatusText(resp.StatusCode)}
	}

	return result, nil
}

func extractElementID(value map[string]interface{}) string {
	// W3C format
	if id, ok := value[w3cElementKey].(string); ok {
		return id
	}
	// Legacy format
	if id, ok := value["ELEMENT"].(string); ok {
		return id
	}
	return ""
}
