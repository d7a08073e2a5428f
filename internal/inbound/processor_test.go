package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/listserv/internal/domain"
	"github.com/ignite/listserv/internal/notify"
	"github.com/ignite/listserv/internal/pkg/distlock"
	"github.com/ignite/listserv/internal/repository/memory"
	"github.com/ignite/listserv/internal/service/command"
	"github.com/ignite/listserv/internal/service/mailinglist"
	"github.com/ignite/listserv/internal/service/routing"
	"github.com/ignite/listserv/internal/storage"
	"github.com/ignite/listserv/internal/token"
)

const (
	cmdAddr = "control@lists.example.com"
	team    = "team@lists.example.com"
	ops     = "ops@lists.example.com"
	owner   = "boss@example.com"
)

type memStore map[string]string

func (m memStore) Fetch(_ context.Context, key string) (*storage.Message, error) {
	raw, ok := m[key]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	return storage.ParseMessage(key, []byte(raw))
}

type outbox struct {
	mu         sync.Mutex
	replies    []domain.OutboundMessage
	deliveries []domain.Delivery
	failList   string
}

func (o *outbox) Reply(_ context.Context, m domain.OutboundMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replies = append(o.replies, m)
	return nil
}

func (o *outbox) Deliver(_ context.Context, d domain.Delivery) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if d.ListAddress == o.failList {
		return errors.New("ses: throttled")
	}
	o.deliveries = append(o.deliveries, d)
	return nil
}

func raw(from, to, subject, body string) string {
	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain\r\n\r\n%s\r\n", from, to, subject, body)
}

type env struct {
	store memStore
	out   *outbox
	reg   *mailinglist.Registry
	proc  *Processor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{store: memStore{}, out: &outbox{}}
	codec, err := token.NewCodec("secret")
	require.NoError(t, err)
	n, err := notify.New(cmdAddr)
	require.NoError(t, err)
	e.reg, err = mailinglist.NewRegistry(mailinglist.Deps{
		Repo:           memory.New(),
		Locker:         distlock.NewLocalLocker(distlock.Options{Wait: time.Second}),
		Tokens:         codec,
		Outbox:         e.out,
		Notices:        n,
		CommandAddress: cmdAddr,
	})
	require.NoError(t, err)
	ctx := context.Background()
	_, _, err = e.reg.Ensure(ctx, domain.List{Address: team, Owner: owner})
	require.NoError(t, err)
	_, _, err = e.reg.Ensure(ctx, domain.List{Address: ops, Owner: owner, Config: domain.ListConfig{domain.OptModerated: true}})
	require.NoError(t, err)
	for _, addr := range []string{team, ops} {
		l, err := e.reg.Get(ctx, addr)
		require.NoError(t, err)
		_, err = l.Subscribe(ctx, owner, "alice@example.com")
		require.NoError(t, err)
		_, err = l.Subscribe(ctx, owner, "carol@example.com")
		require.NoError(t, err)
	}
	e.proc = NewProcessor(e.store, routing.NewRouter(cmdAddr, e.reg), command.NewDispatcher(e.reg, n), e.out)
	return e
}

func TestProcessCommand(t *testing.T) {
	e := newEnv(t)
	e.store["in/1"] = raw("Dave <dave@example.com>", cmdAddr, "list team@lists.example.com subscribe", "")
	before := testutil.ToFloat64(commandsTotal.WithLabelValues(command.VerbSubscribe, "ok"))

	rep, err := e.proc.Process(context.Background(), domain.InboundEvent{
		MessageID:  "m1",
		Recipients: []string{cmdAddr, team},
		ObjectKey:  "in/1",
	})
	require.NoError(t, err)
	assert.Equal(t, "command", rep.Route)
	require.NotNil(t, rep.Command)
	assert.Equal(t, "ok", rep.Command.Outcome)
	assert.True(t, rep.Command.Replied)
	assert.Empty(t, rep.Lists, "command address wins over list delivery")
	assert.Empty(t, e.out.deliveries)
	require.Len(t, e.out.replies, 1)
	assert.Equal(t, "dave@example.com", e.out.replies[0].To)
	assert.Contains(t, e.out.replies[0].Body, "dave@example.com has been subscribed to team@lists.example.com.")
	assert.Equal(t, before+1, testutil.ToFloat64(commandsTotal.WithLabelValues(command.VerbSubscribe, "ok")))
}

func TestProcessPostToLists(t *testing.T) {
	e := newEnv(t)
	e.store["in/2"] = raw("alice@example.com", team+", "+ops, "hello", "hi all")

	rep, err := e.proc.Process(context.Background(), domain.InboundEvent{
		MessageID:  "m2",
		Recipients: []string{ops, team, "stranger@else.io"},
		ObjectKey:  "in/2",
	})
	require.NoError(t, err)
	assert.Equal(t, "list", rep.Route)
	require.Len(t, rep.Lists, 2)

	assert.Equal(t, ops, rep.Lists[0].List)
	assert.Equal(t, "held", rep.Lists[0].Outcome)
	assert.NotEmpty(t, rep.Lists[0].HeldID)

	assert.Equal(t, team, rep.Lists[1].List)
	assert.Equal(t, "ok", rep.Lists[1].Outcome)
	assert.Equal(t, 1, rep.Lists[1].Recipients)

	require.Len(t, e.out.deliveries, 1)
	assert.Equal(t, []string{"carol@example.com"}, e.out.deliveries[0].Recipients)
	assert.Equal(t, "in/2", e.out.deliveries[0].ObjectKey)

	var notices int
	for _, r := range e.out.replies {
		if r.To == owner && strings.Contains(r.Subject, "held for moderation") {
			notices++
		}
	}
	assert.Equal(t, 1, notices)
}

func TestProcessIndependentListFailures(t *testing.T) {
	e := newEnv(t)
	e.out.failList = team
	ctx := context.Background()

	l, err := e.reg.Get(ctx, ops)
	require.NoError(t, err)
	require.NoError(t, l.SetConfigValue(ctx, owner, domain.OptModerated, false))

	e.store["in/3"] = raw("alice@example.com", team, "update", "text")
	rep, err := e.proc.Process(ctx, domain.InboundEvent{MessageID: "m3", Recipients: []string{team, ops}, ObjectKey: "in/3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list team@lists.example.com")
	require.Len(t, rep.Lists, 2)
	assert.Equal(t, "ok", rep.Lists[0].Outcome)
	assert.Equal(t, "error", rep.Lists[1].Outcome)
	assert.Contains(t, rep.Lists[1].Error, "throttled")
	require.Len(t, e.out.deliveries, 1)
	assert.Equal(t, ops, e.out.deliveries[0].ListAddress)
}

func TestProcessUnroutedAndMissing(t *testing.T) {
	e := newEnv(t)
	e.store["in/4"] = raw("x@y.io", "nobody@lists.example.com", "hi", "")

	rep, err := e.proc.Process(context.Background(), domain.InboundEvent{Recipients: []string{"nobody@lists.example.com"}, ObjectKey: "in/4"})
	require.NoError(t, err)
	assert.Equal(t, "unrouted", rep.Route)

	_, err = e.proc.Process(context.Background(), domain.InboundEvent{Recipients: []string{team}, ObjectKey: "missing"})
	assert.True(t, errors.Is(err, storage.ErrMessageNotFound))
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "ok", OutcomeLabel(nil))
	assert.Equal(t, "not_subscribed", OutcomeLabel(fmt.Errorf("x: %w", domain.ErrNotSubscribed)))
	assert.Equal(t, "error", OutcomeLabel(domain.ErrStoreUnavailable))
}
