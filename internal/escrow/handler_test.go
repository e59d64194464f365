package escrow

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"sanaahub/internal/workflow"
)

func handlerRouter(f *fixture, userID int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	h := NewHandler(f.service, f.gw)
	authed := router.Group("/admin/projects")
	if userID != 0 {
		authed.Use(func(c *gin.Context) {
			c.Set("user_id", userID)
			c.Set("user_role", "admin")
		})
	}
	authed.POST("/:projectID/escrow/initialize", h.InitializeEscrow)
	authed.GET("/escrow/verify", h.VerifyEscrow)
	authed.POST("/:projectID/unfreeze", h.UnfreezePayment)
	router.POST("/webhooks/paystack", h.Webhook)
	return router
}

func TestInitializeEscrowHandler(t *testing.T) {
	t.Run("NonClientForbidden", func(t *testing.T) {
		f := newFixture(t)
		f.projects.On("GetByID", mock.Anything, int64(1)).
			Return(escrowProject(workflow.StatusScoped, workflow.PaymentPending), nil)
		router := handlerRouter(f, 99)

		req := httptest.NewRequest("POST", "/admin/projects/1/escrow/initialize", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("UnknownProject", func(t *testing.T) {
		f := newFixture(t)
		f.projects.On("GetByID", mock.Anything, int64(404)).
			Return(nil, workflow.ErrProjectNotFound)
		router := handlerRouter(f, 10)

		req := httptest.NewRequest("POST", "/admin/projects/404/escrow/initialize", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("BadProjectID", func(t *testing.T) {
		f := newFixture(t)
		router := handlerRouter(f, 10)

		req := httptest.NewRequest("POST", "/admin/projects/abc/escrow/initialize", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestVerifyEscrowHandler_MissingReference(t *testing.T) {
	f := newFixture(t)
	router := handlerRouter(f, 10)

	req := httptest.NewRequest("GET", "/admin/projects/escrow/verify", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnfreezeHandler_BindingDetails(t *testing.T) {
	f := newFixture(t)
	router := handlerRouter(f, 10)

	req := httptest.NewRequest("POST", "/admin/projects/1/unfreeze",
		bytes.NewBufferString(`{"target":"completed"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Target")
}

func TestWebhook(t *testing.T) {
	payload := []byte(`{"event":"charge.success","data":{"reference":"ESC-PRJ-2024-0042"}}`)

	t.Run("InvalidSignatureRejected", func(t *testing.T) {
		f := newFixture(t)
		f.gw.On("VerifySignature", payload, "bad-sig").Return(false)
		router := handlerRouter(f, 0)

		req := httptest.NewRequest("POST", "/webhooks/paystack", bytes.NewBuffer(payload))
		req.Header.Set("x-paystack-signature", "bad-sig")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		f.projects.AssertNotCalled(t, "GetByNumberForUpdate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ChargeSuccessVerifies", func(t *testing.T) {
		f := newFixture(t)
		f.gw.On("VerifySignature", payload, "good-sig").Return(true)
		// Already escrowed: the verification is an idempotent success and the
		// gateway is not consulted again.
		f.projects.On("GetByNumberForUpdate", mock.Anything, mock.Anything, "PRJ-2024-0042").
			Return(escrowProject(workflow.StatusStudentAssigned, workflow.PaymentEscrowed), nil)
		router := handlerRouter(f, 0)

		req := httptest.NewRequest("POST", "/webhooks/paystack", bytes.NewBuffer(payload))
		req.Header.Set("x-paystack-signature", "good-sig")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		f.gw.AssertNotCalled(t, "VerifyPayment", mock.Anything, mock.Anything)
	})

	t.Run("UnknownEventAcked", func(t *testing.T) {
		other := []byte(`{"event":"transfer.success","data":{"reference":"whatever"}}`)
		f := newFixture(t)
		f.gw.On("VerifySignature", other, "good-sig").Return(true)
		router := handlerRouter(f, 0)

		req := httptest.NewRequest("POST", "/webhooks/paystack", bytes.NewBuffer(other))
		req.Header.Set("x-paystack-signature", "good-sig")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		f.projects.AssertNotCalled(t, "GetByNumberForUpdate", mock.Anything, mock.Anything, mock.Anything)
	})
}
