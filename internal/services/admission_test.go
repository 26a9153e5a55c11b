package services

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/pkg/errkind"
	"github.com/lumora/affinity/pkg/models"
)

func newTestAdmission(useBroker bool, broker EventBroker, store GraphStore) *AdmissionService {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	cfg := &config.Config{UseBroker: useBroker}
	return NewAdmissionService(cfg, logger, broker, store)
}

func int64Ptr(v int64) *int64 { return &v }

func TestAdmitPublishesToBroker(t *testing.T) {
	broker := &stubBroker{}
	svc := newTestAdmission(true, broker, &stubGraph{})

	ack, err := svc.Admit(context.Background(), models.EventCreate{
		EventType:   models.EventView,
		ProductID:   100,
		UserID:      int64Ptr(7),
		UserSession: "sess-1",
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, "Event queued for processing", ack.Message)
	require.Len(t, broker.published, 1)
	assert.Equal(t, int64(7), *broker.published[0].UserID)
	assert.Equal(t, int64(100), broker.published[0].ProductID)
	assert.Equal(t, "sess-1", broker.published[0].UserSession)
}

func TestAdmitDirectWrite(t *testing.T) {
	g := &stubGraph{}
	svc := newTestAdmission(false, nil, g)

	ack, err := svc.Admit(context.Background(), models.EventCreate{
		EventType:   models.EventPurchase,
		ProductID:   100,
		UserID:      int64Ptr(7),
		UserSession: "sess-1",
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, "Event recorded", ack.Message)
	require.Len(t, g.recorded, 1)
	assert.Equal(t, int64(7), g.recorded[0].UserID)
	assert.Equal(t, models.EventPurchase, g.recorded[0].EventType)
}

func TestAdmitCallerOverridesBodyUserID(t *testing.T) {
	broker := &stubBroker{}
	svc := newTestAdmission(true, broker, &stubGraph{})

	_, err := svc.Admit(context.Background(), models.EventCreate{
		EventType:   models.EventView,
		ProductID:   100,
		UserID:      int64Ptr(7),
		UserSession: "sess-1",
	}, 99)
	require.NoError(t, err)

	require.Len(t, broker.published, 1)
	assert.Equal(t, int64(99), *broker.published[0].UserID)
}

func TestAdmitNoResolvableUser(t *testing.T) {
	svc := newTestAdmission(true, &stubBroker{}, &stubGraph{})

	tests := []struct {
		name   string
		userID *int64
	}{
		{"missing user_id", nil},
		{"zero user_id", int64Ptr(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Admit(context.Background(), models.EventCreate{
				EventType:   models.EventView,
				ProductID:   100,
				UserID:      tt.userID,
				UserSession: "sess-1",
			}, 0)
			require.Error(t, err)
			assert.Equal(t, errkind.InvalidInput, errkind.Of(err))
		})
	}
}

func TestAdmitDefaultsEventTime(t *testing.T) {
	broker := &stubBroker{}
	svc := newTestAdmission(true, broker, &stubGraph{})

	before := time.Now().UTC().Add(-time.Second)
	_, err := svc.Admit(context.Background(), models.EventCreate{
		EventType:   models.EventCart,
		ProductID:   100,
		UserID:      int64Ptr(7),
		UserSession: "sess-1",
	}, 0)
	require.NoError(t, err)
	after := time.Now().UTC().Add(time.Second)

	require.Len(t, broker.published, 1)
	got := broker.published[0].EventTime.Time
	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestAdmitKeepsExplicitEventTime(t *testing.T) {
	broker := &stubBroker{}
	svc := newTestAdmission(true, broker, &stubGraph{})

	explicit := models.NewEventTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	_, err := svc.Admit(context.Background(), models.EventCreate{
		EventTime:   &explicit,
		EventType:   models.EventView,
		ProductID:   100,
		UserID:      int64Ptr(7),
		UserSession: "sess-1",
	}, 0)
	require.NoError(t, err)

	require.Len(t, broker.published, 1)
	assert.Equal(t, explicit.Time, broker.published[0].EventTime.Time)
}

func TestAdmitBrokerFailurePropagates(t *testing.T) {
	svc := newTestAdmission(true, &stubBroker{fail: true}, &stubGraph{})

	_, err := svc.Admit(context.Background(), models.EventCreate{
		EventType:   models.EventView,
		ProductID:   100,
		UserID:      int64Ptr(7),
		UserSession: "sess-1",
	}, 0)
	assert.Error(t, err)
}

func TestAdmitBatchSkipsUnresolvable(t *testing.T) {
	broker := &stubBroker{}
	svc := newTestAdmission(true, broker, &stubGraph{})

	ack, err := svc.AdmitBatch(context.Background(), models.EventBatchCreate{
		Events: []models.EventCreate{
			{EventType: models.EventView, ProductID: 1, UserID: int64Ptr(7), UserSession: "s"},
			{EventType: models.EventView, ProductID: 2, UserSession: "s"},
			{EventType: models.EventCart, ProductID: 3, UserID: int64Ptr(8), UserSession: "s"},
		},
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, "Events queued for processing", ack.Message)
	assert.Equal(t, 2, ack.Count)
	assert.Equal(t, 1, ack.Skipped)
	assert.Len(t, broker.published, 2)
}

func TestAdmitBatchAllSkipped(t *testing.T) {
	svc := newTestAdmission(true, &stubBroker{}, &stubGraph{})

	_, err := svc.AdmitBatch(context.Background(), models.EventBatchCreate{
		Events: []models.EventCreate{
			{EventType: models.EventView, ProductID: 1, UserSession: "s"},
			{EventType: models.EventView, ProductID: 2, UserSession: "s"},
		},
	}, 0)
	require.Error(t, err)
	assert.Equal(t, errkind.InvalidInput, errkind.Of(err))
}

func TestAdmitBatchCallerAppliesToAll(t *testing.T) {
	broker := &stubBroker{}
	svc := newTestAdmission(true, broker, &stubGraph{})

	ack, err := svc.AdmitBatch(context.Background(), models.EventBatchCreate{
		Events: []models.EventCreate{
			{EventType: models.EventView, ProductID: 1, UserSession: "s"},
			{EventType: models.EventView, ProductID: 2, UserID: int64Ptr(5), UserSession: "s"},
		},
	}, 42)
	require.NoError(t, err)

	assert.Equal(t, 2, ack.Count)
	assert.Equal(t, 0, ack.Skipped)
	for _, env := range broker.published {
		assert.Equal(t, int64(42), *env.UserID)
	}
}

func TestAdmitBatchDirectWrite(t *testing.T) {
	g := &stubGraph{}
	svc := newTestAdmission(false, nil, g)

	ack, err := svc.AdmitBatch(context.Background(), models.EventBatchCreate{
		Events: []models.EventCreate{
			{EventType: models.EventView, ProductID: 1, UserID: int64Ptr(7), UserSession: "s"},
			{EventType: models.EventPurchase, ProductID: 2, UserID: int64Ptr(7), UserSession: "s"},
		},
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, "Events recorded", ack.Message)
	assert.Equal(t, 2, ack.Count)
	assert.Len(t, g.recorded, 2)
}
