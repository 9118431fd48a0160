package appium

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dibtr/grid-runner/pkg/core"
)

// newTestDriver starts a fake Appium server that accepts POST /session and
// dispatches session-scoped calls to routes.
func newTestDriver(t *testing.T, routes map[string]http.HandlerFunc) *Driver {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/session" {
			writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"sessionId": "drv-1"}})
			return
		}
		key := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/session/drv-1")
		if h, ok := routes[key]; ok {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	d, err := NewDriver(context.Background(), server.URL, map[string]interface{}{})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	return d
}

func TestNewDriver(t *testing.T) {
	d := newTestDriver(t, nil)

	if d.SessionID() != "drv-1" {
		t.Errorf("SessionID() = %q, want drv-1", d.SessionID())
	}
	if d.Client() == nil {
		t.Error("Client() should not be nil")
	}
}

func TestNewDriver_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, map[string]interface{}{
			"value": map[string]interface{}{"error": "session not created", "message": "no device"},
		})
	}))
	defer server.Close()

	d, err := NewDriver(context.Background(), server.URL, map[string]interface{}{})
	if err == nil {
		t.Fatal("expected error")
	}
	if d != nil {
		t.Error("driver should be nil on failure")
	}
}

func TestDriver_FindElements(t *testing.T) {
	d := newTestDriver(t, map[string]http.HandlerFunc{
		"POST /elements": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]interface{}{
				"value": []interface{}{map[string]interface{}{w3cElementKey: "e1"}},
			})
		},
	})

	ids, err := d.FindElements(context.Background(), core.Predicate("name == 'OK'"))
	if err != nil {
		t.Fatalf("FindElements failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "e1" {
		t.Errorf("FindElements() = %v", ids)
	}
}

func TestDriver_FindElementsRequiresStrategy(t *testing.T) {
	d := newTestDriver(t, nil)

	if _, err := d.FindElements(context.Background(), core.Locator{Value: "x"}); err == nil {
		t.Error("expected error for locator without strategy")
	}
}

func TestDriver_Rect(t *testing.T) {
	d := newTestDriver(t, map[string]http.HandlerFunc{
		"GET /element/e1/rect": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{"x": 0.0, "y": 100.0, "width": 200.0, "height": 40.0},
			})
		},
	})

	b, err := d.Rect(context.Background(), "e1")
	if err != nil {
		t.Fatalf("Rect failed: %v", err)
	}
	if x, y := b.Center(); x != 100 || y != 120 {
		t.Errorf("Center() = (%d, %d), want (100, 120)", x, y)
	}
}

func TestDriver_ExecuteEncodesElementRefs(t *testing.T) {
	var body struct {
		Script string                   `json:"script"`
		Args   []map[string]interface{} `json:"args"`
	}
	d := newTestDriver(t, map[string]http.HandlerFunc{
		"POST /execute/sync": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&body)
			nullValue(w, r)
		},
	})

	_, err := d.Execute(context.Background(), "mobile: scroll", map[string]interface{}{
		"element":   core.ElementRef("e7"),
		"direction": "down",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if body.Script != "mobile: scroll" || len(body.Args) != 1 {
		t.Fatalf("unexpected body %+v", body)
	}
	elem, ok := body.Args[0]["element"].(map[string]interface{})
	if !ok || elem[w3cElementKey] != "e7" {
		t.Errorf("element arg = %v", body.Args[0]["element"])
	}
	if body.Args[0]["direction"] != "down" {
		t.Errorf("direction arg = %v", body.Args[0]["direction"])
	}
}

func TestEncodeArg(t *testing.T) {
	got := encodeArg([]interface{}{core.ElementRef("a"), 3})
	list := got.([]interface{})
	if ref := list[0].(map[string]interface{}); ref["ELEMENT"] != "a" {
		t.Errorf("ref = %v", ref)
	}
	if list[1] != 3 {
		t.Errorf("plain value changed: %v", list[1])
	}
}

func TestDriver_TerminateApp(t *testing.T) {
	var body map[string]interface{}
	d := newTestDriver(t, map[string]http.HandlerFunc{
		"POST /execute/sync": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&body)
			writeJSON(w, map[string]interface{}{"value": true})
		},
	})

	if err := d.TerminateApp(context.Background(), "com.example.demo"); err != nil {
		t.Fatalf("TerminateApp failed: %v", err)
	}
	args := body["args"].([]interface{})[0].(map[string]interface{})
	if body["script"] != "mobile: terminateApp" || args["bundleId"] != "com.example.demo" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestDriver_SendKeysAndClick(t *testing.T) {
	var calls []string
	record := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			calls = append(calls, name)
			nullValue(w, r)
		}
	}
	d := newTestDriver(t, map[string]http.HandlerFunc{
		"POST /element/e1/click": record("click"),
		"POST /element/e1/clear": record("clear"),
		"POST /element/e1/value": record("value"),
	})

	ctx := context.Background()
	if err := d.Click(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	if err := d.Clear(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	if err := d.SendKeys(ctx, "e1", "abc"); err != nil {
		t.Fatal(err)
	}

	if strings.Join(calls, ",") != "click,clear,value" {
		t.Errorf("calls = %v", calls)
	}
}

func TestDriver_Quit(t *testing.T) {
	deleted := false
	d := newTestDriver(t, map[string]http.HandlerFunc{
		"DELETE ": func(w http.ResponseWriter, r *http.Request) {
			deleted = true
			nullValue(w, r)
		},
	})

	if err := d.Quit(context.Background()); err != nil {
		t.Fatalf("Quit failed: %v", err)
	}
	if !deleted {
		t.Error("session was not deleted")
	}
	if d.SessionID() != "" {
		t.Error("session id should be cleared after Quit")
	}
}
