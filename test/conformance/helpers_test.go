//go:build conformance

package conformance

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"testing"
)

// apiURL builds a full URL for the given path, e.g. "/images".
func apiURL(path string) string {
	return strings.TrimRight(baseURL, "/") + path
}

// doRequest performs an HTTP request and returns the response.
func doRequest(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// decodeJSON reads resp and decodes it as a JSON object.
func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal JSON: %v\nbody: %s", err, string(data))
	}
	return raw
}

// doJSON performs a GET and returns the status and decoded JSON.
func doJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	resp := doRequest(t, req)
	return resp.StatusCode, decodeJSON(t, resp)
}

// doUpload posts content as the image part declared with contentType.
func doUpload(t *testing.T, content []byte, contentType string) (int, map[string]any) {
	t.Helper()
	body, formType := multipartBody(t, "image", contentType, content)
	req, err := http.NewRequest(http.MethodPost, apiURL("/image"), body)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", formType)
	resp := doRequest(t, req)
	return resp.StatusCode, decodeJSON(t, resp)
}

// multipartBody builds a multipart form body with a single file part.
func multipartBody(t *testing.T, fieldName, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="`+fieldName+`"; filename="upload"`)
	h.Set("Content-Type", contentType)
	fw, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write content: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

// makePNG encodes a solid w x h PNG.
func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// uploadPNG uploads a PNG and returns the result object.
func uploadPNG(t *testing.T, w, h int) map[string]any {
	t.Helper()
	status, raw := doUpload(t, makePNG(t, w, h), "image/png")
	if status != http.StatusOK {
		t.Fatalf("upload failed with status %d: %v", status, raw)
	}
	result, ok := raw["result"].(map[string]any)
	if !ok {
		t.Fatalf("upload result is not object: %T", raw["result"])
	}
	return result
}

// assertEnvelopeShape validates the response envelope structure.
func assertEnvelopeShape(t *testing.T, raw map[string]any) {
	t.Helper()

	success, ok := raw["success"]
	if !ok {
		t.Error("envelope missing 'success' field")
	} else if _, ok := success.(bool); !ok {
		t.Errorf("'success' should be bool, got %T", success)
	}

	for _, field := range []string{"errors", "messages"} {
		val, ok := raw[field]
		if !ok {
			t.Errorf("envelope missing %q field", field)
			continue
		}
		arr, ok := val.([]any)
		if !ok {
			t.Errorf("%q should be array, got %T", field, val)
			continue
		}
		for i, e := range arr {
			obj, ok := e.(map[string]any)
			if !ok {
				t.Errorf("%s[%d] should be object, got %T", field, i, e)
				continue
			}
			if _, ok := obj["code"]; !ok {
				t.Errorf("%s[%d] missing 'code'", field, i)
			}
			if _, ok := obj["message"]; !ok {
				t.Errorf("%s[%d] missing 'message'", field, i)
			}
		}
	}
}

// assertField validates a field exists in an object and has the expected Go type.
// Returns the typed value.
func assertField[T any](t *testing.T, obj map[string]any, field string) T {
	t.Helper()
	val, ok := obj[field]
	if !ok {
		var zero T
		t.Errorf("missing field %q", field)
		return zero
	}
	typed, ok := val.(T)
	if !ok {
		var zero T
		t.Errorf("field %q: expected %T, got %T (%v)", field, zero, val, val)
		return zero
	}
	return typed
}
