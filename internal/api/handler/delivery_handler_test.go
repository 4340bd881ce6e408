package handler

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/product-video/internal/dispatch"
)

const deliveryBody = `{"job_id":"0b8f0c0e-1d7a-4c55-9f61-4f0b1b1f6a11","account_id":"shop.example","source_image_urls":["https://cdn.example/a.png"],"template_id":"zoom-pan"}`

func signDelivery(t *testing.T, key string, body []byte) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, dispatch.DeliveryClaims{
		Body: dispatch.BodyHash(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    dispatch.DefaultIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	})
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func newDeliveryRouter(t *testing.T, publisher *fakePublisher, skip bool) *gin.Engine {
	t.Helper()
	verifier, err := dispatch.NewVerifier("current-key", "next-key", "")
	require.NoError(t, err)

	h := NewDeliveryHandler(&Dependencies{
		Logger:                    discardLogger(),
		Verifier:                  verifier,
		Deliveries:                publisher,
		SkipSignatureVerification: skip,
	})
	r := gin.New()
	r.POST("/deliveries/video-jobs", h.Deliver)
	return r
}

func TestDeliver_ValidSignatureEnqueues(t *testing.T) {
	publisher := &fakePublisher{}
	r := newDeliveryRouter(t, publisher, false)

	w := perform(r, http.MethodPost, "/deliveries/video-jobs", deliveryBody, map[string]string{
		dispatch.SignatureHeader: signDelivery(t, "current-key", []byte(deliveryBody)),
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, 1, publisher.count())
	assert.Equal(t, "0b8f0c0e-1d7a-4c55-9f61-4f0b1b1f6a11", publisher.messages[0].JobID)
	assert.Equal(t, 1, publisher.messages[0].Attempt)
}

func TestDeliver_RotatedKeyAccepted(t *testing.T) {
	publisher := &fakePublisher{}
	r := newDeliveryRouter(t, publisher, false)

	w := perform(r, http.MethodPost, "/deliveries/video-jobs", deliveryBody, map[string]string{
		dispatch.SignatureHeader: signDelivery(t, "next-key", []byte(deliveryBody)),
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, publisher.count())
}

func TestDeliver_RejectedWithoutSideEffects(t *testing.T) {
	signed := signDelivery(t, "current-key", []byte(deliveryBody))
	tampered := `{"job_id":"5d3c2a9e-7f41-4b8a-a0c2-6e9d1f3b8c24","account_id":"shop.example","source_image_urls":["https://cdn.example/a.png"],"template_id":"zoom-pan"}`

	tests := []struct {
		name      string
		body      string
		signature string
	}{
		{name: "missing signature", body: deliveryBody},
		{name: "tampered body", body: tampered, signature: signed},
		{name: "unknown key", body: deliveryBody, signature: signDelivery(t, "attacker-key", []byte(deliveryBody))},
		{name: "garbage token", body: deliveryBody, signature: "not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := &fakePublisher{}
			r := newDeliveryRouter(t, publisher, false)

			headers := map[string]string{}
			if tt.signature != "" {
				headers[dispatch.SignatureHeader] = tt.signature
			}
			w := perform(r, http.MethodPost, "/deliveries/video-jobs", tt.body, headers)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Zero(t, publisher.count())
		})
	}
}

func TestDeliver_NoVerifierRejects(t *testing.T) {
	publisher := &fakePublisher{}
	h := NewDeliveryHandler(&Dependencies{Logger: discardLogger(), Deliveries: publisher})
	r := gin.New()
	r.POST("/deliveries/video-jobs", h.Deliver)

	w := perform(r, http.MethodPost, "/deliveries/video-jobs", deliveryBody, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, publisher.count())
}

func TestDeliver_SkipVerification(t *testing.T) {
	publisher := &fakePublisher{}
	r := newDeliveryRouter(t, publisher, true)

	w := perform(r, http.MethodPost, "/deliveries/video-jobs", deliveryBody, nil)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, publisher.count())
}

func TestDeliver_InvalidPayload(t *testing.T) {
	publisher := &fakePublisher{}
	r := newDeliveryRouter(t, publisher, true)

	w := perform(r, http.MethodPost, "/deliveries/video-jobs", `{"job_id":"0b8f0c0e-1d7a-4c55-9f61-4f0b1b1f6a11"}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, publisher.count())
}

func TestDeliver_SignedNonUUIDJobIsRejected(t *testing.T) {
	publisher := &fakePublisher{}
	r := newDeliveryRouter(t, publisher, false)

	payload := `{"job_id":"not-a-uuid","account_id":"shop.example","source_image_urls":["https://cdn.example/a.png"],"template_id":"zoom-pan"}`
	w := perform(r, http.MethodPost, "/deliveries/video-jobs", payload, map[string]string{
		dispatch.SignatureHeader: signDelivery(t, "current-key", []byte(payload)),
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, publisher.count())
}

func TestDeliver_EnqueueFailure(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("channel closed")}
	r := newDeliveryRouter(t, publisher, true)

	w := perform(r, http.MethodPost, "/deliveries/video-jobs", deliveryBody, nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
