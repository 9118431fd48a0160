package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dibtr/grid-runner/pkg/capability"
	"github.com/dibtr/grid-runner/pkg/config"
	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/driver/mock"
	"github.com/dibtr/grid-runner/pkg/driver/web"
)

// fakeAppium is a minimal Appium endpoint that records request paths and bodies.
type fakeAppium struct {
	*httptest.Server
	reject bool

	mu     sync.Mutex
	paths  []string
	bodies map[string]string
}

func newFakeAppium(t *testing.T, reject bool) *fakeAppium {
	t.Helper()
	f := &fakeAppium{reject: reject, bodies: make(map[string]string)}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		key := r.Method + " " + r.URL.Path
		f.mu.Lock()
		f.paths = append(f.paths, key)
		f.bodies[key] = string(body)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if key == "POST /session" {
			if f.reject {
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"value": map[string]interface{}{
					"error": "session not created", "message": "Could not find a device",
				}})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"value": map[string]interface{}{"sessionId": "ios-1", "capabilities": map[string]interface{}{}}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"value": nil})
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeAppium) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func (f *fakeAppium) body(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[key]
}

func mobileSettings(grid string, extra map[string]string) config.Settings {
	values := map[string]string{
		config.KeyGridURL:  grid,
		config.KeyAppPath:  "/apps/Demo.app",
		config.KeyBundleID: "com.example.demo",
	}
	for k, v := range extra {
		values[k] = v
	}
	return config.FromMap(values)
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name     string
		values   map[string]string
		platform core.Platform
		want     core.Platform
		wantErr  bool
	}{
		{"mobile local", map[string]string{config.KeyGridURL: "http://localhost:4723"}, core.PlatformMobile, core.PlatformMobile, false},
		{"mobile grid", map[string]string{config.KeyLocation: "grid", config.KeyGridURL: "http://hub:4444/wd/hub"}, core.PlatformMobile, core.PlatformMobile, false},
		{"mobile remote", map[string]string{config.KeyLocation: "REMOTE", config.KeyGridURL: "https://hub.example.com"}, core.PlatformMobile, core.PlatformMobile, false},
		{"web local chromedriver", map[string]string{config.KeyChromeDriver: "/usr/bin/chromedriver"}, core.PlatformWeb, core.PlatformWeb, false},
		{"missing grid", nil, core.PlatformMobile, "", true},
		{"unknown location", map[string]string{config.KeyLocation: "cloud", config.KeyGridURL: "http://hub"}, core.PlatformMobile, "", true},
		{"unknown platform", map[string]string{config.KeyGridURL: "http://hub"}, core.Platform("tv"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Select(config.FromMap(tt.values), tt.platform)
			if tt.wantErr {
				assert.True(t, errors.Is(err, core.ErrConfiguration), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Platform())
		})
	}
}

func TestMobile_OpenAgainstAppium(t *testing.T) {
	srv := newFakeAppium(t, false)
	m := NewMobile(mobileSettings(srv.URL, map[string]string{config.KeyImplicitWait: "5s"}))

	h, err := m.Open(context.Background(), Params{PlatformVersion: "14.2", DeviceName: "iPhone 11"})
	require.NoError(t, err)

	assert.Equal(t, "ios-1", h.Driver.SessionID())
	assert.Equal(t, core.PlatformMobile, h.Page.Platform())
	assert.True(t, h.Capabilities.Frozen())
	v, _ := h.Capabilities.Get(capability.PlatformVersion)
	assert.Equal(t, "14.2", v)

	var payload struct {
		Capabilities struct {
			AlwaysMatch map[string]interface{} `json:"alwaysMatch"`
		} `json:"capabilities"`
		DesiredCapabilities map[string]interface{} `json:"desiredCapabilities"`
	}
	require.NoError(t, json.Unmarshal([]byte(srv.body("POST /session")), &payload))
	assert.Equal(t, "iPhone 11", payload.Capabilities.AlwaysMatch["appium:deviceName"])
	assert.Equal(t, "iOS", payload.Capabilities.AlwaysMatch["platformName"])
	assert.Equal(t, "iPhone 11", payload.DesiredCapabilities["deviceName"])
	assert.NotContains(t, payload.DesiredCapabilities, "fullReset")

	assert.Contains(t, srv.seen(), "POST /session/ios-1/timeouts")
	assert.JSONEq(t, `{"implicit":5000}`, srv.body("POST /session/ios-1/timeouts"))

	require.NoError(t, m.Close(context.Background(), h.Driver))
	seen := srv.seen()
	assert.Equal(t, []string{"POST /session/ios-1/execute/sync", "DELETE /session/ios-1"}, seen[len(seen)-2:])
	assert.Contains(t, srv.body("POST /session/ios-1/execute/sync"), "com.example.demo")
}

func TestMobile_NoImplicitWaitByDefault(t *testing.T) {
	srv := newFakeAppium(t, false)

	_, err := NewMobile(mobileSettings(srv.URL, nil)).Open(context.Background(), Params{DeviceName: "iPhone 11"})
	require.NoError(t, err)

	assert.NotContains(t, srv.seen(), "POST /session/ios-1/timeouts")
}

func TestMobile_Rejected(t *testing.T) {
	srv := newFakeAppium(t, true)

	h, err := NewMobile(mobileSettings(srv.URL, nil)).Open(context.Background(), Params{PlatformVersion: "14.2", DeviceName: "iPhone 11", FullReset: true})

	assert.Nil(t, h)
	require.True(t, errors.Is(err, core.ErrSession), "got %v", err)
	var execErr *core.ExecutionError
	require.True(t, errors.As(err, &execErr))
	caps := execErr.Details["capabilities"].(map[string]interface{})
	assert.Equal(t, "14.2", caps[capability.PlatformVersion])
	assert.Equal(t, true, caps[capability.FullReset])
	assert.Contains(t, err.Error(), "Could not find a device")
}

func TestMobile_MissingGrid(t *testing.T) {
	dialed := false
	m := &Mobile{Settings: config.FromMap(nil), Dial: func(context.Context, string, interface{}) (core.Driver, error) {
		dialed = true
		return nil, nil
	}}

	_, err := m.Open(context.Background(), Params{})

	assert.True(t, errors.Is(err, core.ErrConfiguration))
	assert.False(t, dialed)
}

func TestMobile_OpenWithDialer(t *testing.T) {
	d := mock.New(mock.Config{SessionID: "sim-7"})
	var gotURL string
	m := &Mobile{Settings: mobileSettings("http://127.0.0.1:4723/", nil), Dial: func(_ context.Context, serverURL string, payload interface{}) (core.Driver, error) {
		gotURL = serverURL
		_, ok := payload.(capability.NewSessionPayload)
		assert.True(t, ok)
		return d, nil
	}}

	h, err := m.Open(context.Background(), Params{DeviceName: "iPhone 11"})

	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:4723/", gotURL)
	assert.Same(t, d, h.Driver)
	assert.Same(t, d, h.Page.Driver())
}

func TestMobile_CloseCollectsErrors(t *testing.T) {
	d := mock.New(mock.Config{SessionID: "sim-7"})
	d.Fail("Execute", errors.New("app not running"), 1)
	d.Fail("Quit", errors.New("session gone"), 1)

	err := NewMobile(mobileSettings("http://hub", nil)).Close(context.Background(), d)

	var td *core.TeardownError
	require.True(t, errors.As(err, &td))
	assert.Equal(t, "sim-7", td.SessionID)
	assert.Len(t, td.Errors, 2)
	assert.Equal(t, []string{"mobile: terminateApp"}, d.Scripts())
	assert.Equal(t, 1, d.CallCount("Quit"), "quit attempted after terminate failed")
}

func TestMobile_CloseWithoutBundleID(t *testing.T) {
	d := mock.New(mock.Config{})

	err := NewMobile(config.FromMap(map[string]string{config.KeyGridURL: "http://hub"})).Close(context.Background(), d)

	require.NoError(t, err)
	assert.Empty(t, d.Scripts())
	assert.True(t, d.Quitted())
}

// browser wraps the mock driver with a window.
type browser struct {
	*mock.Driver
	maximized int
	maxErr    error
}

func (b *browser) Maximize(context.Context) error {
	b.maximized++
	return b.maxErr
}

func TestWeb_Options(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]string
		want    web.Options
		wantErr bool
	}{
		{
			name:   "local chromedriver",
			values: map[string]string{config.KeyChromeDriver: "/usr/bin/chromedriver", config.KeyHeadless: "true"},
			want:   web.Options{Browser: "chrome", Headless: true, ChromeDriverPath: "/usr/bin/chromedriver", ChromeDriverPort: 9515},
		},
		{
			name:   "chrome on grid",
			values: map[string]string{config.KeyLocation: "grid", config.KeyGridURL: "http://hub:4444/wd/hub", config.KeyChromeDriver: "/usr/bin/chromedriver"},
			want:   web.Options{Browser: "chrome", GridURL: "http://hub:4444/wd/hub"},
		},
		{
			name:   "firefox ignores chromedriver",
			values: map[string]string{config.KeyBrowserName: "Firefox", config.KeyGridURL: "http://hub:4444", config.KeyChromeDriver: "/usr/bin/chromedriver"},
			want:   web.Options{Browser: "firefox", GridURL: "http://hub:4444"},
		},
		{name: "safari", values: map[string]string{config.KeyBrowserName: "safari", config.KeyGridURL: "http://hub"}, wantErr: true},
		{name: "no endpoint", values: map[string]string{config.KeyBrowserName: "firefox"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewWeb(config.FromMap(tt.values)).Options()
			if tt.wantErr {
				assert.True(t, errors.Is(err, core.ErrConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWeb_Open(t *testing.T) {
	b := &browser{Driver: mock.New(mock.Config{SessionID: "chrome-1"}), maxErr: errors.New("not supported")}
	w := &Web{
		Settings: config.FromMap(map[string]string{config.KeyGridURL: "http://hub:4444", config.KeyBaseURL: "https://app.example.com/"}),
		Dial: func(_ context.Context, opts web.Options) (BrowserDriver, error) {
			assert.Equal(t, "http://hub:4444", opts.GridURL)
			return b, nil
		},
	}

	h, err := w.Open(context.Background(), Params{})
	require.NoError(t, err)

	assert.Equal(t, 1, b.maximized, "maximize failure is logged only")
	assert.Equal(t, core.PlatformWeb, h.Page.Platform())
	v, _ := h.Capabilities.Get(capability.BrowserName)
	assert.Equal(t, "chrome", v)

	require.NoError(t, h.Page.Navigate(context.Background(), "login"))
	assert.Equal(t, "https://app.example.com/login", b.URL())

	require.NoError(t, w.Close(context.Background(), h.Driver))
	assert.True(t, b.Quitted())
}

func TestWeb_OpenRejected(t *testing.T) {
	w := &Web{
		Settings: config.FromMap(map[string]string{config.KeyGridURL: "http://hub:4444"}),
		Dial: func(context.Context, web.Options) (BrowserDriver, error) {
			return nil, errors.New("no free slots")
		},
	}

	_, err := w.Open(context.Background(), Params{})

	assert.True(t, errors.Is(err, core.ErrSession))
	assert.ErrorContains(t, err, "no free slots")
}

func TestWeb_CloseError(t *testing.T) {
	d := mock.New(mock.Config{SessionID: "chrome-2"})
	d.Fail("Quit", errors.New("browser crashed"), 1)

	err := NewWeb(config.Default()).Close(context.Background(), d)

	var td *core.TeardownError
	require.True(t, errors.As(err, &td))
	assert.Equal(t, "chrome-2", td.SessionID)
}
