package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/listserv/internal/domain"
	"github.com/ignite/listserv/internal/inbound"
	"github.com/ignite/listserv/internal/pkg/distlock"
	"github.com/ignite/listserv/internal/storage"
)

type fakeProcessor struct {
	events []domain.InboundEvent
	err    error
	failOn map[string]error
}

func (f *fakeProcessor) Process(_ context.Context, ev domain.InboundEvent) (inbound.Report, error) {
	f.events = append(f.events, ev)
	if err, ok := f.failOn[ev.MessageID]; ok {
		return inbound.Report{}, err
	}
	return inbound.Report{MessageID: ev.MessageID, Route: "list"}, f.err
}

type fakeConfirmer struct {
	urls []string
	err  error
}

func (f *fakeConfirmer) Get(_ context.Context, url string) error {
	f.urls = append(f.urls, url)
	return f.err
}

type fakeBucket struct{ err error }

func (f fakeBucket) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.err
}

const notification = `{
  "notificationType": "Received",
  "mail": {
    "timestamp": "2024-05-01T12:00:00.000Z",
    "source": "alice@example.com",
    "messageId": "o3vrnil0e2ic28trm7dfhrc2v0clambda4nbp0g1",
    "destination": ["Team@Lists.Example.com", "bob@example.com"],
    "commonHeaders": {"from": ["Alice <alice@example.com>"], "to": ["team@lists.example.com"], "subject": "hi"}
  },
  "receipt": {
    "recipients": ["team@lists.example.com", "hidden@lists.example.com"],
    "action": {"type": "S3", "bucketName": "inbound-mail", "objectKey": "ses/o3vrnil0e2ic28trm7dfhrc2v0clambda4nbp0g1"}
  }
}`

func newTestRouter(p Processor, c SubscriptionConfirmer) http.Handler {
	return SetupRoutes(NewInboundHandler(p, c), NewHealthChecker(nil, nil, nil, "", nil))
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/inbound/ses", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInboundDirectNotification(t *testing.T) {
	p := &fakeProcessor{}
	rec := post(t, newTestRouter(p, nil), notification)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, p.events, 1)
	ev := p.events[0]
	assert.Equal(t, "o3vrnil0e2ic28trm7dfhrc2v0clambda4nbp0g1", ev.MessageID)
	assert.Equal(t, "ses/o3vrnil0e2ic28trm7dfhrc2v0clambda4nbp0g1", ev.ObjectKey)
	assert.Equal(t, "alice@example.com", ev.Source)
	assert.Equal(t, []string{"team@lists.example.com", "bob@example.com", "hidden@lists.example.com"}, ev.Recipients)
	assert.Equal(t, 2024, ev.ReceivedAt.Year())

	var resp inboundResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Reports, 1)
	assert.Equal(t, "list", resp.Reports[0].Route)
}

func TestInboundSNSAndLambdaShapes(t *testing.T) {
	p := &fakeProcessor{}
	h := newTestRouter(p, nil)

	msg, err := json.Marshal(notification)
	require.NoError(t, err)
	rec := post(t, h, fmt.Sprintf(`{"Type":"Notification","MessageId":"sns-1","Message":%s}`, msg))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = post(t, h, fmt.Sprintf(`{"Records":[{"eventSource":"aws:ses","ses":%s},{"eventSource":"aws:s3"}]}`, notification))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, p.events, 2)
	assert.Equal(t, p.events[0], p.events[1])
}

func TestInboundSubscriptionConfirmation(t *testing.T) {
	c := &fakeConfirmer{}
	p := &fakeProcessor{}
	h := newTestRouter(p, c)

	rec := post(t, h, `{"Type":"SubscriptionConfirmation","SubscribeURL":"https://sns.us-west-2.amazonaws.com/?Action=ConfirmSubscription&Token=x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, c.urls, 1)
	assert.Empty(t, p.events)

	rec = post(t, h, `{"Type":"SubscriptionConfirmation","SubscribeURL":"https://attacker.example.com/x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, c.urls, 1)

	c.err = errors.New("timeout")
	rec = post(t, h, `{"Type":"SubscriptionConfirmation","SubscribeURL":"https://sns.us-west-2.amazonaws.com/?Token=y"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = post(t, newTestRouter(p, nil), `{"Type":"SubscriptionConfirmation","SubscribeURL":"https://sns.us-west-2.amazonaws.com/?Token=z"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInboundErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"store down", fmt.Errorf("list x: %w", domain.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{"lock timeout", distlock.ErrLockTimeout, http.StatusServiceUnavailable},
		{"transport", errors.New("ses: throttled"), http.StatusServiceUnavailable},
		{"missing object", fmt.Errorf("fetch: %w", storage.ErrMessageNotFound), http.StatusOK},
		{"malformed", storage.ErrMalformedMessage, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, newTestRouter(&fakeProcessor{err: tt.err}, nil), notification)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestInboundRecordsProcessedIndependently(t *testing.T) {
	second := strings.ReplaceAll(notification, "o3vrnil0e2ic28trm7dfhrc2v0clambda4nbp0g1", "msg-2")
	third := strings.ReplaceAll(notification, "o3vrnil0e2ic28trm7dfhrc2v0clambda4nbp0g1", "msg-3")
	p := &fakeProcessor{failOn: map[string]error{"msg-2": distlock.ErrLockTimeout}}
	body := fmt.Sprintf(`{"Records":[{"eventSource":"aws:ses","ses":%s},{"eventSource":"aws:ses","ses":%s},{"eventSource":"aws:ses","ses":%s}]}`,
		notification, second, third)

	rec := post(t, newTestRouter(p, nil), body)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	require.Len(t, p.events, 3)
	assert.Equal(t, "msg-3", p.events[2].MessageID)

	var resp struct {
		Code    string        `json:"code"`
		Details failedRecords `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "lock_timeout", resp.Code)
	assert.Equal(t, []string{"msg-2"}, resp.Details.MessageIDs)
	require.Len(t, resp.Details.Reports, 3)
	assert.Equal(t, "list", resp.Details.Reports[0].Route)
	assert.Equal(t, "failed", resp.Details.Reports[1].Route)
	assert.Equal(t, "list", resp.Details.Reports[2].Route)
}

func TestInboundBadInput(t *testing.T) {
	p := &fakeProcessor{}
	h := newTestRouter(p, nil)

	assert.Equal(t, http.StatusBadRequest, post(t, h, `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, `{"mail":{}}`).Code)
	assert.Equal(t, http.StatusOK, post(t, h, `{"notificationType":"Bounce"}`).Code)

	req := httptest.NewRequest(http.MethodPost, "/inbound/ses", strings.NewReader(notification))
	req.Header.Set("Content-Type", "application/xml")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Empty(t, p.events)
}

func TestHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	lists := func(context.Context) (int, error) { return 3, nil }
	hc := NewHealthChecker(db, rdb, fakeBucket{}, "inbound-mail", lists)
	h := SetupRoutes(NewInboundHandler(&fakeProcessor{}, nil), hc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "up", status.Checks["database"].Status)
	assert.Equal(t, "up", status.Checks["redis"].Status)
	assert.Equal(t, "up", status.Checks["s3"].Status)
	assert.Equal(t, "3 lists", status.Checks["lists"].Message)
	assert.Equal(t, "listserv", rec.Header().Get("X-Server-Identity"))
}

func TestReadinessUnhealthy(t *testing.T) {
	lists := func(context.Context) (int, error) { return 0, domain.ErrStoreUnavailable }
	hc := NewHealthChecker(nil, nil, fakeBucket{err: errors.New("403")}, "inbound-mail", lists)
	h := SetupRoutes(NewInboundHandler(&fakeProcessor{}, nil), hc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":false`)
}

func TestMetricsAndNotFound(t *testing.T) {
	h := newTestRouter(&fakeProcessor{}, nil)
	post(t, h, notification)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `listserv_http_requests_total{method="POST",path="/inbound/ses",status="200"}`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOverallStatus(t *testing.T) {
	assert.Equal(t, "healthy", determineOverallStatus(map[string]ComponentCheck{"database": notConfigured}))
	assert.Equal(t, "degraded", determineOverallStatus(map[string]ComponentCheck{"redis": {Status: "down"}}))
	assert.Equal(t, "unhealthy", determineOverallStatus(map[string]ComponentCheck{"s3": {Status: "down"}}))
}
