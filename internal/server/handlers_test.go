package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/semopic/director-api/internal/ledger"
	"github.com/semopic/director-api/internal/orchestrator"
	"github.com/semopic/director-api/internal/payment"
	"github.com/semopic/director-api/internal/pipeline"
	"github.com/semopic/director-api/internal/render"
)

// stubGenerator returns a complete draft for every generative stage.
type stubGenerator struct{}

func (stubGenerator) GenerateStage(_ context.Context, stage pipeline.Stage, _ pipeline.Artifacts) (*pipeline.Draft, error) {
	switch stage {
	case pipeline.StageProductUnderstanding:
		return &pipeline.Draft{Product: &pipeline.ProductUnderstanding{
			ProductName: "Ceramic Mug",
			SizeOptions: []string{"350ml"},
		}}, nil
	case pipeline.StageMarketAnalysis:
		return &pipeline.Draft{Market: &pipeline.MarketAnalysis{TargetAudience: "students"}}, nil
	case pipeline.StageCreativeStrategy:
		return &pipeline.Draft{Strategy: &pipeline.CreativeStrategy{Hook: "morning ritual"}}, nil
	case pipeline.StageStyleMatching:
		return &pipeline.Draft{Style: &pipeline.StyleChoice{StyleType: "cinematic", DurationSec: 15}}, nil
	case pipeline.StageScriptsGenerated:
		return &pipeline.Draft{Scripts: []pipeline.Script{
			{Title: "A", Shots: []pipeline.Shot{{Scene: "kitchen"}}},
			{Title: "B", Shots: []pipeline.Shot{{Scene: "office"}}},
			{Title: "C", Shots: []pipeline.Shot{{Scene: "street"}}},
		}}, nil
	default:
		return nil, pipeline.ErrNotGenerative
	}
}

// mockRenderClient implements render.Client for testing.
type mockRenderClient struct {
	mock.Mock
}

func (m *mockRenderClient) Submit(ctx context.Context, req render.SubmitRequest) (render.SubmitResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(render.SubmitResult), args.Error(1)
}

func (m *mockRenderClient) Poll(ctx context.Context, taskID string) (render.PollResult, error) {
	args := m.Called(ctx, taskID)
	return args.Get(0).(render.PollResult), args.Error(1)
}

// mockPaymentClient implements payment.Client for testing.
type mockPaymentClient struct {
	mock.Mock
}

func (m *mockPaymentClient) CreateOrder(ctx context.Context, userID, packageID string) (payment.Order, error) {
	args := m.Called(ctx, userID, packageID)
	return args.Get(0).(payment.Order), args.Error(1)
}

func (m *mockPaymentClient) Poll(ctx context.Context, orderID string) (payment.PollResult, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(payment.PollResult), args.Error(1)
}

func newTestRouter(t *testing.T) (http.Handler, *mockRenderClient, *mockPaymentClient) {
	t.Helper()
	renderClient := &mockRenderClient{}
	paymentClient := &mockPaymentClient{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	orch := orchestrator.New(orchestrator.Deps{
		Generator: stubGenerator{},
		Renderer:  renderClient,
		Payments:  paymentClient,
		Ledger:    ledger.New(ledger.NewMemoryStore(), logger),
		Logger:    logger,
	}, orchestrator.Settings{
		RenderCost:      70,
		SignupBonus:     520,
		PollInterval:    5 * time.Millisecond,
		PollMaxFailures: 3,
		PaymentExpiry:   time.Minute,
	})

	handlers := NewHandlers(orch, logger)
	return NewRouter(handlers, logger, DefaultConfig()), renderClient, paymentClient
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) SessionResponse {
	t.Helper()
	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func createSession(t *testing.T, router http.Handler) SessionResponse {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/sessions", CreateSessionRequest{
		UserID:    "user-1",
		ImageURLs: []string{"https://cdn.example.com/mug.jpg"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decodeSession(t, rec)
}

func TestHealth(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestCreateSession(t *testing.T) {
	router, _, _ := newTestRouter(t)

	sess := createSession(t, router)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, string(pipeline.StageUploaded), sess.Stage)
	require.NotNil(t, sess.Draft)
	require.NotNil(t, sess.Draft.Upload)
	assert.Equal(t, []string{"https://cdn.example.com/mug.jpg"}, sess.Draft.Upload.ImageURLs)
}

func TestCreateSession_ValidationError(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/sessions", CreateSessionRequest{UserID: "user-1"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
}

func TestGetSession_NotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/sessions/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SESSION_NOT_FOUND", resp.Code)
}

func TestListSessions(t *testing.T) {
	router, _, _ := newTestRouter(t)
	createSession(t, router)
	createSession(t, router)

	rec := doJSON(t, router, http.MethodGet, "/sessions?user_id=user-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp, 2)
}

func TestListSessions_MissingUserID(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/sessions", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirm_IncompleteDraft(t *testing.T) {
	router, _, _ := newTestRouter(t)
	sess := createSession(t, router)

	// Confirm the upload, then edit only part of the product draft.
	rec := doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPatch, "/sessions/"+sess.ID+"/draft", EditDraftRequest{
		Patch: map[string]any{"category": "kitchenware"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/confirm", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "INCOMPLETE_DRAFT", resp.Code)

	// The failed confirm must not advance the stage.
	rec = doJSON(t, router, http.MethodGet, "/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(pipeline.StageProductUnderstanding), decodeSession(t, rec).Stage)
}

func TestManualDraftEntry_ConfirmAdvances(t *testing.T) {
	router, _, _ := newTestRouter(t)
	sess := createSession(t, router)

	rec := doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPatch, "/sessions/"+sess.ID+"/draft", EditDraftRequest{
		Patch: map[string]any{
			"product_name": "Ceramic Mug",
			"size_options": []string{"350ml"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/confirm", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeSession(t, rec)
	assert.Equal(t, string(pipeline.StageMarketAnalysis), got.Stage)
	require.NotNil(t, got.Artifacts.Product)
	assert.Equal(t, "Ceramic Mug", got.Artifacts.Product.ProductName)
}

func TestGenerateAndConfirm_FullPipeline(t *testing.T) {
	router, _, _ := newTestRouter(t)
	sess := createSession(t, router)

	rec := doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	for {
		rec = doJSON(t, router, http.MethodGet, "/sessions/"+sess.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decodeSession(t, rec)
		if got.Stage == string(pipeline.StageReadyToRender) {
			require.NotNil(t, got.Artifacts.Script)
			assert.Equal(t, "B", got.Artifacts.Script.Title)
			return
		}

		rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/generate", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		if got.Stage == string(pipeline.StageScriptsGenerated) {
			idx := 1
			rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/confirm", ConfirmRequest{ScriptIndex: &idx})
		} else {
			rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/confirm", nil)
		}
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestConfirm_SelectionRequiredAtScriptStage(t *testing.T) {
	router, _, _ := newTestRouter(t)
	sess := createSession(t, router)

	rec := doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, stage := range []pipeline.Stage{
		pipeline.StageProductUnderstanding,
		pipeline.StageMarketAnalysis,
		pipeline.StageCreativeStrategy,
		pipeline.StageStyleMatching,
	} {
		rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/generate", nil)
		require.Equal(t, http.StatusOK, rec.Code, "generate at %s", stage)
		rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/confirm", nil)
		require.Equal(t, http.StatusOK, rec.Code, "confirm at %s", stage)
	}

	rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Plain confirm at the script stage must demand a selection.
	rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/confirm", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SELECTION_REQUIRED", resp.Code)
}

func TestStartRender_InsufficientCredits(t *testing.T) {
	router, renderClient, _ := newTestRouter(t)
	sess := createSession(t, router)

	rec := doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for i := 0; i < 4; i++ {
		rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/generate", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/confirm", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	idx := 0
	rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/confirm", ConfirmRequest{ScriptIndex: &idx})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/render", nil)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "INSUFFICIENT_CREDITS", resp.Code)
	renderClient.AssertNotCalled(t, "Submit")
}

func TestStartRender_WrongStageConflict(t *testing.T) {
	router, _, _ := newTestRouter(t)
	sess := createSession(t, router)

	rec := doJSON(t, router, http.MethodPost, "/users/user-1/bonus", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/render", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSignupBonus_IdempotentAndBalance(t *testing.T) {
	router, _, _ := newTestRouter(t)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, router, http.MethodPost, "/users/user-1/bonus", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, router, http.MethodGet, "/users/user-1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp BalanceResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(520), resp.Balance)
}

func TestGetTransactions(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/users/user-1/bonus", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/users/user-1/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TransactionsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, "signup bonus", resp.Transactions[0].Reason)
	assert.Equal(t, int64(520), resp.Transactions[0].Amount)
}

func TestCreateOrder(t *testing.T) {
	router, _, paymentClient := newTestRouter(t)

	paymentClient.On("CreateOrder", mock.Anything, "user-1", "pack-500").Return(payment.Order{
		OrderID:   "order-1",
		QRPayload: "wxp://pay/abc",
		Credits:   500,
	}, nil)
	paymentClient.On("Poll", mock.Anything, "order-1").Return(payment.PollResult{
		Status: payment.StatusPending,
	}, nil)

	rec := doJSON(t, router, http.MethodPost, "/payments/orders", CreateOrderRequest{
		UserID:    "user-1",
		PackageID: "pack-500",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp OrderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "order-1", resp.OrderID)
	assert.Equal(t, "wxp://pay/abc", resp.QRPayload)

	// The order is immediately trackable.
	rec = doJSON(t, router, http.MethodGet, "/tasks/order-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tresp TaskResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tresp))
	assert.Equal(t, "PAYMENT_ORDER", tresp.Kind)
}

func TestCreateOrder_ValidationError(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/payments/orders", CreateOrderRequest{UserID: "user-1"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTask_NotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/tasks/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "TASK_NOT_FOUND", resp.Code)
}

func TestAbandonSession(t *testing.T) {
	router, _, _ := newTestRouter(t)
	sess := createSession(t, router)

	rec := doJSON(t, router, http.MethodDelete, "/sessions/"+sess.ID, AbandonRequest{Reason: "changed my mind"})

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeSession(t, rec)
	assert.Equal(t, string(pipeline.StageFailed), got.Stage)
	assert.Equal(t, "changed my mind", got.FailReason)
}

func TestEditScript(t *testing.T) {
	router, _, _ := newTestRouter(t)
	sess := createSession(t, router)

	rec := doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for i := 0; i < 4; i++ {
		rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/generate", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/confirm", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/sessions/"+sess.ID+"/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPatch, "/sessions/"+sess.ID+"/scripts/1", EditDraftRequest{
		Patch: map[string]any{"title": "B improved"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeSession(t, rec)
	require.NotNil(t, got.Draft)
	require.Len(t, got.Draft.Scripts, 3)
	assert.Equal(t, "B improved", got.Draft.Scripts[1].Title)
}

func TestEditScript_InvalidIndex(t *testing.T) {
	router, _, _ := newTestRouter(t)
	sess := createSession(t, router)

	rec := doJSON(t, router, http.MethodPatch, "/sessions/"+sess.ID+"/scripts/abc", EditDraftRequest{
		Patch: map[string]any{"title": "x"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
