package handler_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leca/dt-image-store/internal/api"
	"github.com/leca/dt-image-store/internal/config"
	"github.com/leca/dt-image-store/internal/imagestore"
	"github.com/leca/dt-image-store/internal/router"
)

type testEnv struct {
	server *httptest.Server
	store  *imagestore.Storage
}

// testServer creates a test HTTP server backed by temporary directories.
func testServer(t *testing.T, allowNaming bool) *testEnv {
	t.Helper()
	return testServerWithImages(t, allowNaming, nil)
}

// testServerWithImages is testServer with images placed in the permanent
// directory before the store starts.
func testServerWithImages(t *testing.T, allowNaming bool, images map[string][]byte) *testEnv {
	t.Helper()
	root := t.TempDir()

	cfg := &config.Config{
		ListenAddr:          ":0",
		StoragePath:         root,
		PermanentDir:        filepath.Join(root, "permanent"),
		CacheDir:            filepath.Join(root, "cache"),
		MaxFileSize:         1 << 20,
		MaxNameSize:         100,
		AllowNaming:         allowNaming,
		MinResolutionHeight: 1,
		MaxResolutionHeight: 500,
		MinResolutionWidth:  1,
		MaxResolutionWidth:  500,
		ResizeFit:           "cover",
		LogLevel:            "info",
	}

	require.NoError(t, os.MkdirAll(cfg.PermanentDir, 0o755))
	for name, data := range images {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.PermanentDir, name), data, 0o644))
	}

	store, err := imagestore.New(context.Background(), imagestore.Options{
		PermanentDir:     cfg.PermanentDir,
		CacheDir:         cfg.CacheDir,
		TotalDiskBytes:   1 << 30,
		MaxFileSize:      cfg.MaxFileSize,
		MaxFieldNameSize: cfg.MaxNameSize,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ts := httptest.NewServer(router.New(store, cfg).Router)
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: store}
}

func createTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func createTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// multipartImageBody builds a multipart body with optional plain fields
// followed by the file part.
func multipartImageBody(t *testing.T, field, contentType string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="upload"`)
	h.Set("Content-Type", contentType)
	fw, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

// decodeResponse decodes the JSON body into the provided target.
func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

func uploadImage(t *testing.T, ts *httptest.Server, contentType string, content []byte, fields map[string]string) *http.Response {
	t.Helper()
	body, ct := multipartImageBody(t, "image", contentType, content, fields)
	resp, err := http.Post(ts.URL+"/image", ct, body)
	require.NoError(t, err)
	return resp
}

type uploadResponse struct {
	Result struct {
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        int64  `json:"size"`
	} `json:"result"`
	Success  bool             `json:"success"`
	Errors   []api.APIError   `json:"errors"`
	Messages []api.APIMessage `json:"messages"`
}

func TestUploadImage(t *testing.T) {
	env := testServer(t, false)
	data := createTestPNG(t, 16, 16)

	resp := uploadImage(t, env.server, "image/png", data, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body uploadResponse
	decodeResponse(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, "image/png", body.Result.ContentType)
	assert.Equal(t, int64(len(data)), body.Result.Size)
	assert.Regexp(t, `^[0-9a-f-]{36}\.png$`, body.Result.Name)
}

func TestUploadImage_ClientName(t *testing.T) {
	env := testServer(t, true)

	resp := uploadImage(t, env.server, "image/jpeg", createTestJPEG(t, 8, 8), map[string]string{"name": "holiday"})
	var body uploadResponse
	decodeResponse(t, resp, &body)
	assert.Equal(t, "holiday.jpeg", body.Result.Name)
	assert.Empty(t, body.Messages)

	resp = uploadImage(t, env.server, "image/jpeg", createTestJPEG(t, 8, 8), map[string]string{"name": "holiday"})
	var renamed uploadResponse
	decodeResponse(t, resp, &renamed)
	assert.NotEqual(t, "holiday.jpeg", renamed.Result.Name)
	require.Len(t, renamed.Messages, 1)
	assert.Equal(t, api.MessageRenamed, renamed.Messages[0].Code)
	assert.Contains(t, renamed.Messages[0].Message, "holiday.jpeg")
}

func TestUploadImage_Rejections(t *testing.T) {
	env := testServer(t, false)

	resp := uploadImage(t, env.server, "image/gif", createTestPNG(t, 4, 4), nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Post(env.server.URL+"/image", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body api.Response
	decodeResponse(t, resp, &body)
	assert.False(t, body.Success)
}

func TestGetImage_OriginalAndResized(t *testing.T) {
	env := testServer(t, true)
	data := createTestPNG(t, 64, 64)
	uploadImage(t, env.server, "image/png", data, map[string]string{"name": "sky"}).Body.Close()

	resp, err := http.Get(env.server.URL + "/image/sky.png")
	require.NoError(t, err)
	got, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "BYPASS", resp.Header.Get("X-Cache"))
	assert.Equal(t, data, got)

	resp, err = http.Get(env.server.URL + "/image/sky.png?resolution=20x30")
	require.NoError(t, err)
	got, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	cfg, err := png.DecodeConfig(bytes.NewReader(got))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Width)
	assert.Equal(t, 20, cfg.Height)

	env.store.Wait()

	resp, err = http.Get(env.server.URL + "/image/sky.png?resolution=20x30")
	require.NoError(t, err)
	cached, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, got, cached)
}

func TestGetImage_Errors(t *testing.T) {
	env := testServer(t, true)
	uploadImage(t, env.server, "image/png", createTestPNG(t, 8, 8), map[string]string{"name": "a"}).Body.Close()

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"missing image", "/image/none.png", http.StatusNotFound},
		{"zero resolution", "/image/a.png?resolution=0x0", http.StatusBadRequest},
		{"above bounds", "/image/a.png?resolution=501x10", http.StatusBadRequest},
		{"malformed", "/image/a.png?resolution=big", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(env.server.URL + tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			var body api.Response
			decodeResponse(t, resp, &body)
			assert.False(t, body.Success)
		})
	}
}

func TestGetImage_TooManyPixelsToResize(t *testing.T) {
	// Only the header is real; the declared canvas is never allocated.
	header := []byte("\x89PNG\r\n\x1a\n")
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], 50000)
	binary.BigEndian.PutUint32(ihdr[4:], 50000)
	ihdr[8], ihdr[9] = 8, 6
	chunk := append([]byte("IHDR"), ihdr...)
	header = binary.BigEndian.AppendUint32(header, uint32(len(ihdr)))
	header = append(header, chunk...)
	header = binary.BigEndian.AppendUint32(header, crc32.ChecksumIEEE(chunk))

	env := testServerWithImages(t, true, map[string][]byte{"huge.png": header})

	resp, err := http.Get(env.server.URL + "/image/huge.png?resolution=10x10")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var body api.Response
	decodeResponse(t, resp, &body)
	assert.False(t, body.Success)

	env.store.Wait()
	stats := env.store.GetStats()
	assert.Zero(t, stats.CachedImages)
	assert.Zero(t, stats.Usage.Reserved)
}

func TestGetImage_ContentDispositionQuotesName(t *testing.T) {
	env := testServer(t, true)
	uploadImage(t, env.server, "image/png", createTestPNG(t, 8, 8), map[string]string{"name": `say "hi"`}).Body.Close()

	resp, err := http.Get(env.server.URL + "/image/" + url.PathEscape(`say "hi".png`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	disposition, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "inline", disposition)
	assert.Equal(t, `say "hi".png`, params["filename"])
}

func TestListImages(t *testing.T) {
	env := testServer(t, true)
	for _, name := range []string{"c", "a", "b"} {
		uploadImage(t, env.server, "image/png", createTestPNG(t, 4, 4), map[string]string{"name": name}).Body.Close()
	}

	resp, err := http.Get(env.server.URL + "/images?page=1&per_page=2")
	require.NoError(t, err)

	var body struct {
		Result struct {
			Images []struct {
				Name string `json:"name"`
			} `json:"images"`
		} `json:"result"`
		ResultInfo api.ResultInfo `json:"result_info"`
	}
	decodeResponse(t, resp, &body)

	require.Len(t, body.Result.Images, 2)
	assert.Equal(t, "a.png", body.Result.Images[0].Name)
	assert.Equal(t, "b.png", body.Result.Images[1].Name)
	assert.Equal(t, 3, body.ResultInfo.TotalCount)
	assert.Equal(t, 2, body.ResultInfo.TotalPages)
}

func TestListImages_Empty(t *testing.T) {
	env := testServer(t, false)

	resp, err := http.Get(env.server.URL + "/images")
	require.NoError(t, err)

	var raw map[string]interface{}
	decodeResponse(t, resp, &raw)
	result := raw["result"].(map[string]interface{})
	assert.Equal(t, []interface{}{}, result["images"])
}
