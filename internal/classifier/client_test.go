package classifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testBaseURL = "http://pest-backend.test:8000"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func newMockClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	c, err := New(Config{BaseURL: testBaseURL, Transport: mock})
	require.NoError(t, err)
	return c, mock
}

func writeImage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG fake image bytes"), 0o600))
	return path
}

func TestNewValidatesBaseURL(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, DefaultTimeout, c.timeout)

	for _, raw := range []string{"localhost:8000", "ftp://host", "http://", "::bad"} {
		_, err := New(Config{BaseURL: raw})
		assert.Error(t, err, "base url %q", raw)
	}
}

func TestMIMEType(t *testing.T) {
	tests := map[string]string{
		"bug.png":        "image/png",
		"photo":          "image/jpeg",
		"IMG_0001.JPG":   "image/jpeg",
		"scan.webp":      "image/webp",
		"archive.tar.gz": "image/jpeg",
		"dir.v2/photo":   "image/jpeg",
		"leaf.HEIC":      "image/heic",
	}
	for filename, want := range tests {
		assert.Equal(t, want, MIMEType(filename), filename)
	}
}

func TestClassifyPestUploadsMultipartFile(t *testing.T) {
	c, mock := newMockClient(t)
	path := writeImage(t, "bug.png")

	mock.RegisterResponder(http.MethodPost, testBaseURL+"/predict", func(req *http.Request) (*http.Response, error) {
		assert.True(t, strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data; boundary="))
		require.NoError(t, req.ParseMultipartForm(1<<20))
		files := req.MultipartForm.File["file"]
		require.Len(t, files, 1)
		assert.Equal(t, "bug.png", files[0].Filename)
		assert.Equal(t, "image/png", files[0].Header.Get("Content-Type"))
		f, err := files[0].Open()
		require.NoError(t, err)
		defer f.Close()
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "\x89PNG fake image bytes", string(data))

		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"is_pest":    true,
			"class_name": "Ants",
			"confidence": "97.31%",
			"is_new":     false,
			"message":    "PEST DETECTED!",
			"info_url":   "/pest/Ants",
		})
	})

	res := c.ClassifyPest(context.Background(), path)
	require.True(t, res.OK(), "unexpected failure: %v", res.Err())
	data, _ := res.Data()
	assert.True(t, data.IsPest)
	assert.Equal(t, Confidence("97.31%"), data.Confidence)

	id, ok := data.Identification()
	require.True(t, ok)
	assert.Equal(t, "Ants", id.ClassName)
	assert.Equal(t, "/pest/Ants", id.InfoURL)
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestClassifyPestAcceptsFileURI(t *testing.T) {
	c, mock := newMockClient(t)
	path := writeImage(t, "photo")
	mock.RegisterResponder(http.MethodPost, testBaseURL+"/predict", func(req *http.Request) (*http.Response, error) {
		require.NoError(t, req.ParseMultipartForm(1<<20))
		assert.Equal(t, "image/jpeg", req.MultipartForm.File["file"][0].Header.Get("Content-Type"))
		return httpmock.NewStringResponse(http.StatusOK, `{"is_pest":false,"class_name":"Bees","confidence":0.42,"message":"NOT A PEST"}`), nil
	})

	res := c.ClassifyPest(context.Background(), "file://"+filepath.ToSlash(path))
	require.True(t, res.OK(), "unexpected failure: %v", res.Err())
	data, _ := res.Data()
	assert.Equal(t, Confidence("0.42"), data.Confidence)
}

func TestClassifyPestNotAPestIsSuccess(t *testing.T) {
	c, mock := newMockClient(t)
	mock.RegisterResponder(http.MethodPost, testBaseURL+"/predict",
		httpmock.NewStringResponder(http.StatusOK, `{"is_pest":false,"class_name":"","confidence":"12.00%","is_new":false,"message":"not a pest"}`))

	res := c.ClassifyImage(context.Background(), Image{Filename: "leaf.jpg", Data: []byte("x")})
	require.True(t, res.OK())
	data, _ := res.Data()
	assert.False(t, data.IsPest)
	assert.Equal(t, "not a pest", data.Message)
	_, ok := data.Identification()
	assert.False(t, ok)
}

func TestClassifyPestFillsMissingMessage(t *testing.T) {
	c, mock := newMockClient(t)
	mock.RegisterResponder(http.MethodPost, testBaseURL+"/predict",
		httpmock.NewStringResponder(http.StatusOK, `{"is_pest":true,"class_name":"Slugs","confidence":"88.00%"}`))

	res := c.ClassifyImage(context.Background(), Image{Filename: "a.jpg", Data: []byte("x")})
	data, ok := res.Data()
	require.True(t, ok)
	assert.Equal(t, "PEST DETECTED!", data.Message)
}

func TestClassifyPestValidationFailuresSkipNetwork(t *testing.T) {
	c, mock := newMockClient(t)

	tests := []struct {
		name string
		res  Result[ClassificationResult]
	}{
		{"missing file", c.ClassifyPest(context.Background(), filepath.Join(t.TempDir(), "nope.jpg"))},
		{"empty location", c.ClassifyPest(context.Background(), "  ")},
		{"directory", c.ClassifyPest(context.Background(), t.TempDir())},
		{"remote uri", c.ClassifyPest(context.Background(), "https://example.com/bug.jpg")},
		{"empty data", c.ClassifyImage(context.Background(), Image{Filename: "a.jpg"})},
		{"empty filename", c.ClassifyImage(context.Background(), Image{Data: []byte("x")})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.False(t, tt.res.OK())
			assert.Equal(t, KindValidation, tt.res.Err().Kind)
			assert.False(t, tt.res.Err().Kind.Transport())
			assert.NotEmpty(t, tt.res.Err().Error())
		})
	}
	assert.Zero(t, mock.GetTotalCallCount())
}

func TestClassifyPestStatusError(t *testing.T) {
	c, mock := newMockClient(t)
	mock.RegisterResponder(http.MethodPost, testBaseURL+"/predict",
		httpmock.NewStringResponder(http.StatusInternalServerError, `{"error":"model not loaded"}`))

	res := c.ClassifyImage(context.Background(), Image{Filename: "a.png", Data: []byte("x")})
	require.False(t, res.OK())
	err := res.Err()
	assert.Equal(t, KindStatus, err.Kind)
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
	assert.Contains(t, err.Error(), "model not loaded")
	assert.Equal(t, OpPredict, err.Op)
}

func TestClassifyPestBackendErrorEnvelope(t *testing.T) {
	c, mock := newMockClient(t)
	mock.RegisterResponder(http.MethodPost, testBaseURL+"/predict",
		httpmock.NewStringResponder(http.StatusOK, `{"error":"Error processing image: cannot identify image file"}`))

	res := c.ClassifyImage(context.Background(), Image{Filename: "a.png", Data: []byte("x")})
	require.False(t, res.OK())
	assert.Equal(t, KindBackend, res.Err().Kind)
	assert.Contains(t, res.Err().Error(), "cannot identify image file")
}

func TestClassifyPestDecodeError(t *testing.T) {
	c, mock := newMockClient(t)
	mock.RegisterResponder(http.MethodPost, testBaseURL+"/predict",
		httpmock.NewStringResponder(http.StatusOK, `<html>oops</html>`))

	res := c.ClassifyImage(context.Background(), Image{Filename: "a.png", Data: []byte("x")})
	require.False(t, res.OK())
	assert.Equal(t, KindDecode, res.Err().Kind)
	assert.NotEmpty(t, res.Err().Error())
}

func TestClassifyPestUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	c, err := New(Config{BaseURL: addr, Timeout: 5 * time.Second})
	require.NoError(t, err)

	start := time.Now()
	res := c.ClassifyImage(context.Background(), Image{Filename: "a.png", Data: []byte("x")})
	require.False(t, res.OK())
	assert.Equal(t, KindConnectivity, res.Err().Kind)
	assert.True(t, res.Err().Kind.Transport())
	assert.Contains(t, res.Err().Error(), "backend is running")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClassifyPestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	c, err := New(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	res := c.ClassifyImage(context.Background(), Image{Filename: "a.png", Data: []byte("x")})
	require.False(t, res.OK())
	assert.Equal(t, KindTimeout, res.Err().Kind)
	assert.Contains(t, res.Err().Error(), "timed out")
}

func TestClassifyPestCanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"is_pest":true}`)
	}))
	t.Cleanup(server.Close)

	c, err := New(Config{BaseURL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.ClassifyImage(ctx, Image{Filename: "a.png", Data: []byte("x")})
	require.False(t, res.OK())
	assert.Equal(t, KindCanceled, res.Err().Kind)
}

func TestSearchPestPostsJSONQuery(t *testing.T) {
	c, mock := newMockClient(t)
	mock.RegisterResponder(http.MethodPost, testBaseURL+"/search_pest", func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, map[string]string{"query": "aphid"}, body)
		return httpmock.NewStringResponse(http.StatusOK, `{
			"is_pest": true,
			"pest_data": {
				"id": "aphids",
				"name": "Aphids",
				"scientific_name": "Aphidoidea",
				"category": "soft-bodied",
				"threat_level": "high",
				"description": "Sap-sucking insects.",
				"info_url": "/pest/Aphids"
			}
		}`), nil
	})

	res := c.SearchPest(context.Background(), "  aphid ")
	require.True(t, res.OK(), "unexpected failure: %v", res.Err())
	data, _ := res.Data()
	pest, ok := data.Pest()
	require.True(t, ok)
	assert.Equal(t, "Aphids", pest.Name)
	assert.Equal(t, "Aphidoidea", pest.ScientificName)
	assert.Equal(t, "/pest/Aphids", pest.InfoURL)
	assert.EqualValues(t, "high", pest.ThreatLevel)
}

func TestSearchPestNotFoundIsSuccess(t *testing.T) {
	c, mock := newMockClient(t)
	mock.RegisterResponder(http.MethodPost, testBaseURL+"/search_pest",
		httpmock.NewStringResponder(http.StatusOK, `{"is_pest":false,"message":"sunflower is not a pest"}`))

	res := c.SearchPest(context.Background(), "sunflower")
	require.True(t, res.OK())
	data, _ := res.Data()
	_, ok := data.Pest()
	assert.False(t, ok)
	assert.Equal(t, "sunflower is not a pest", data.Message)
}

func TestSearchPestRejectsBlankQuery(t *testing.T) {
	c, mock := newMockClient(t)
	for _, q := range []string{"", "   ", "\t\n"} {
		res := c.SearchPest(context.Background(), q)
		require.False(t, res.OK())
		assert.Equal(t, KindValidation, res.Err().Kind)
	}
	assert.Zero(t, mock.GetTotalCallCount())
}

func TestGetPestDetails(t *testing.T) {
	c, mock := newMockClient(t)
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/pest/Ants",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]string{"name": "Ants"}))
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/pest/Moths", func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, "<html>Moths</html>")
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		return resp, nil
	})
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/pest/Unicorns",
		httpmock.NewStringResponder(http.StatusNotFound, "<html>404</html>"))

	res := c.GetPestDetails(context.Background(), "Ants")
	require.True(t, res.OK())
	details, _ := res.Data()
	var decoded map[string]string
	require.NoError(t, details.Decode(&decoded))
	assert.Equal(t, "Ants", decoded["name"])

	res = c.GetPestDetails(context.Background(), "Moths")
	require.True(t, res.OK())
	details, _ = res.Data()
	assert.False(t, details.IsJSON())
	assert.Error(t, details.Decode(&decoded))
	out, err := json.Marshal(details)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"text":"<html>Moths</html>"`)

	res = c.GetPestDetails(context.Background(), "Unicorns")
	require.False(t, res.OK())
	assert.Equal(t, KindStatus, res.Err().Kind)
	assert.Equal(t, http.StatusNotFound, res.Err().StatusCode)

	res = c.GetPestDetails(context.Background(), "")
	require.False(t, res.OK())
	assert.Equal(t, KindValidation, res.Err().Kind)
}

func TestGetPestDetailsEscapesName(t *testing.T) {
	c, mock := newMockClient(t)
	mock.RegisterResponder(http.MethodGet, `=~^`+testBaseURL+`/pest/`, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/pest/Colorado%20Beetle%2Fadult", req.URL.EscapedPath())
		return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
	})

	res := c.GetPestDetails(context.Background(), "Colorado Beetle/adult")
	require.True(t, res.OK(), "unexpected failure: %v", res.Err())
}

func TestObserverSeesEveryCall(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodPost, testBaseURL+"/search_pest",
		httpmock.NewStringResponder(http.StatusOK, `{"is_pest":false}`))

	var seen []string
	c, err := New(Config{BaseURL: testBaseURL, Transport: mock}, WithObserver(func(op string, kind Kind, _ time.Duration) {
		seen = append(seen, op+":"+string(kind))
	}))
	require.NoError(t, err)

	c.SearchPest(context.Background(), "ant")
	c.SearchPest(context.Background(), "")
	assert.Equal(t, []string{"search_pest:", "search_pest:validation"}, seen)
}

func TestResultJSONShape(t *testing.T) {
	ok := Succeed(ClassificationResult{IsPest: false, Message: "not a pest"})
	out, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":{"is_pest":false,"class_name":"","confidence":"","is_new":false,"message":"not a pest"}}`, string(out))

	failed := Fail[ClassificationResult](&Error{Kind: KindTimeout, Message: "timed out"})
	out, err = json.Marshal(failed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"timed out","kind":"timeout"}`, string(out))

	_, uerr := failed.Unwrap()
	require.Error(t, uerr)
	assert.Equal(t, "timed out", uerr.Error())

	assert.NotEmpty(t, Fail[SearchResult](nil).Err().Error())
}

func TestConfidenceDecoding(t *testing.T) {
	tests := map[string]Confidence{
		`"97.31%"`: "97.31%",
		`0.9731`:   "0.9731",
		`1`:        "1",
		`null`:     "",
	}
	for raw, want := range tests {
		var c Confidence
		require.NoError(t, json.Unmarshal([]byte(raw), &c), raw)
		assert.Equal(t, want, c, raw)
	}
	var c Confidence
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &c))
}
