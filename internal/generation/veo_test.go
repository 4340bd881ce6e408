package generation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOperationName = "projects/p1/locations/us-central1/publishers/google/models/veo/operations/op-1"

func newTestClient(t *testing.T, handler http.HandlerFunc) (*VeoClient, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewVeoClient(VeoConfig{
		Project:   "p1",
		Model:     "veo",
		BaseURL:   srv.URL,
		OutputURI: "gs://bucket",
		Tokens:    StaticTokens("test-token"),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return time.UnixMilli(1700000000000) },
	})
	require.NoError(t, err)
	return client, srv
}

func TestNewVeoClient_Validation(t *testing.T) {
	_, err := NewVeoClient(VeoConfig{Tokens: StaticTokens("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project is required")

	_, err = NewVeoClient(VeoConfig{Project: "p1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token source is required")
}

func TestVeoClient_Start(t *testing.T) {
	var gotBody veoPredictRequest
	var gotAuth string

	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/images/product.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		case strings.HasSuffix(r.URL.Path, ":predictLongRunning"):
			gotAuth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			_, _ = w.Write([]byte(`{"name":"` + testOperationName + `"}`))
		default:
			http.NotFound(w, r)
		}
	})

	op, err := client.Start(context.Background(), StartRequest{
		Prompt:             "Slow cinematic zoom",
		ReferenceImageURLs: []string{srv.URL + "/images/product.png", srv.URL + "/images/other.png"},
		DurationSeconds:    4,
		AspectRatio:        "9:16",
	})
	require.NoError(t, err)

	assert.Equal(t, testOperationName, op.Name)
	assert.Equal(t, "Bearer test-token", gotAuth)
	require.Len(t, gotBody.Instances, 1)
	assert.Equal(t, "Slow cinematic zoom", gotBody.Instances[0].Prompt)
	require.NotNil(t, gotBody.Instances[0].Image)
	assert.Equal(t, "image/png", gotBody.Instances[0].Image.MimeType)
	assert.Equal(t, "cG5nLWJ5dGVz", gotBody.Instances[0].Image.BytesBase64Encoded)
	assert.Equal(t, "9:16", gotBody.Parameters.AspectRatio)
	assert.Equal(t, 4, gotBody.Parameters.DurationSeconds)
	assert.Equal(t, 1, gotBody.Parameters.SampleCount)
	assert.Equal(t, "gs://bucket/videos/1700000000000/", gotBody.Parameters.StorageURI)
}

func TestVeoClient_Start_Errors(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		req       func(base string) StartRequest
		errString string
	}{
		{
			name:    "missing prompt",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			req: func(base string) StartRequest {
				return StartRequest{ReferenceImageURLs: []string{base + "/img"}}
			},
			errString: "prompt is required",
		},
		{
			name:    "no images",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			req: func(base string) StartRequest {
				return StartRequest{Prompt: "p"}
			},
			errString: "at least one reference image",
		},
		{
			name: "unreachable image",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			req: func(base string) StartRequest {
				return StartRequest{Prompt: "p", ReferenceImageURLs: []string{base + "/missing.jpg"}}
			},
			errString: "failed to fetch image: 404",
		},
		{
			name: "service rejection",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, ":predictLongRunning") {
					w.WriteHeader(http.StatusBadRequest)
					_, _ = w.Write([]byte(`{"error":{"message":"invalid aspect ratio"}}`))
					return
				}
				_, _ = w.Write([]byte("jpeg"))
			},
			req: func(base string) StartRequest {
				return StartRequest{Prompt: "p", ReferenceImageURLs: []string{base + "/img.jpg"}}
			},
			errString: "unexpected status 400",
		},
		{
			name: "missing operation name",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, ":predictLongRunning") {
					_, _ = w.Write([]byte(`{}`))
					return
				}
				_, _ = w.Write([]byte("jpeg"))
			},
			req: func(base string) StartRequest {
				return StartRequest{Prompt: "p", ReferenceImageURLs: []string{base + "/img.jpg"}}
			},
			errString: "no operation name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, srv := newTestClient(t, tt.handler)

			_, err := client.Start(context.Background(), tt.req(srv.URL))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGenerationStart)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestVeoClient_Poll(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		wantDone     bool
		wantRef      string
		wantErrorMsg string
	}{
		{
			name:     "pending",
			response: `{"name":"` + testOperationName + `","done":false,"metadata":{"progress":40}}`,
			wantDone: false,
		},
		{
			name:     "done with videos",
			response: `{"name":"` + testOperationName + `","done":true,"response":{"videos":[{"gcsUri":"gs://bucket/videos/1/sample_0.mp4"}]}}`,
			wantDone: true,
			wantRef:  "gs://bucket/videos/1/sample_0.mp4",
		},
		{
			name:     "done with generated videos",
			response: `{"done":true,"response":{"generatedVideos":[{"video":{"uri":"gs://bucket/videos/2/out.mp4"}}]}}`,
			wantDone: true,
			wantRef:  "gs://bucket/videos/2/out.mp4",
		},
		{
			name:         "done with error",
			response:     `{"done":true,"error":{"code":3,"message":"prompt rejected by safety filter"}}`,
			wantDone:     true,
			wantErrorMsg: "prompt rejected by safety filter",
		},
		{
			name:         "done without video",
			response:     `{"done":true,"response":{}}`,
			wantDone:     true,
			wantErrorMsg: "no video reference in response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotOperation string
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var body map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				gotOperation = body["operationName"]
				_, _ = w.Write([]byte(tt.response))
			})

			result, err := client.Poll(context.Background(), Operation{Name: testOperationName})
			require.NoError(t, err)

			assert.Equal(t, testOperationName, gotOperation)
			assert.Equal(t, tt.wantDone, result.Done)
			assert.Equal(t, tt.wantRef, result.VideoRef)
			assert.Equal(t, tt.wantErrorMsg, result.ErrorMessage)
			assert.Equal(t, testOperationName, result.Operation.Name)
		})
	}
}

func TestVeoClient_Poll_Errors(t *testing.T) {
	t.Run("transport status", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		_, err := client.Poll(context.Background(), Operation{Name: testOperationName})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPoll)
	})

	t.Run("malformed body", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"done":`))
		})
		_, err := client.Poll(context.Background(), Operation{Name: testOperationName})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPoll)
		assert.Contains(t, err.Error(), "malformed response")
	})

	t.Run("empty handle", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
		_, err := client.Poll(context.Background(), Operation{})
		assert.ErrorIs(t, err, ErrPoll)
	})
}

func TestOperationToken_RoundTrip(t *testing.T) {
	op := Operation{Name: testOperationName, Metadata: json.RawMessage(`{"progress":10}`)}

	token, err := op.Token()
	require.NoError(t, err)

	parsed, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, op.Name, parsed.Name)
	assert.JSONEq(t, `{"progress":10}`, string(parsed.Metadata))

	_, err = ParseToken("%%%")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Operation{}.Token()
	assert.ErrorIs(t, err, ErrInvalidToken)
}
