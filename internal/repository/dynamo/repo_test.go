package dynamo

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/listserv/internal/domain"
	"github.com/ignite/listserv/internal/service/mailinglist"
)

var _ mailinglist.Repository = (*Repo)(nil)

// fakeDB is a single-table DynamoDB stand-in that understands the handful of
// expressions the repository issues.
type fakeDB struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error
}

func newFakeDB() *fakeDB {
	return &fakeDB{items: make(map[string]map[string]types.AttributeValue)}
}

func str(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func itemKey(k map[string]types.AttributeValue) string {
	return str(k["PK"]) + "|" + str(k["SK"])
}

func (f *fakeDB) check(cur map[string]types.AttributeValue, cond *string, names map[string]string, values map[string]types.AttributeValue) error {
	if cond == nil {
		return nil
	}
	ok := true
	switch *cond {
	case "attribute_not_exists(PK)":
		ok = cur == nil
	case "attribute_exists(PK)":
		ok = cur != nil
	case "#ver = :v":
		ok = cur != nil && str(cur[names["#ver"]]) == str(values[":v"])
	default:
		return errors.New("fake: unsupported condition " + *cond)
	}
	if !ok {
		return &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	return nil
}

func (f *fakeDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	k := itemKey(in.Item)
	if err := f.check(f.items[k], in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDB) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := itemKey(in.Key)
	cur := f.items[k]
	if err := f.check(cur, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	delete(f.items, k)
	out := &dynamodb.DeleteItemOutput{}
	if in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = cur
	}
	return out, nil
}

func (f *fakeDB) sorted(match func(map[string]types.AttributeValue) bool) []map[string]types.AttributeValue {
	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []map[string]types.AttributeValue
	for _, k := range keys {
		if match(f.items[k]) {
			out = append(out, f.items[k])
		}
	}
	return out
}

func (f *fakeDB) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	v := in.ExpressionAttributeValues
	items := f.sorted(func(it map[string]types.AttributeValue) bool {
		if str(it["PK"]) != str(v[":pk"]) || !strings.HasPrefix(str(it["SK"]), str(v[":prefix"])) {
			return false
		}
		if in.FilterExpression != nil {
			return str(it[in.ExpressionAttributeNames["#st"]]) == str(v[":state"])
		}
		return true
	})
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (f *fakeDB) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.sorted(func(it map[string]types.AttributeValue) bool {
		return str(it["SK"]) == str(in.ExpressionAttributeValues[":meta"])
	})
	return &dynamodb.ScanOutput{Items: items}, nil
}

func TestRepo_ListLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(newFakeDB(), "listserv")

	l := &domain.List{
		Address:    "team@lists.example.com",
		Owner:      "boss@example.com",
		Moderators: []string{"mod@example.com"},
		Config:     domain.ListConfig{domain.OptModerated: true, domain.OptMaxMessageKB: int64(256), domain.OptSubjectTag: "[team]"},
		CreatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.CreateList(ctx, l))
	assert.Equal(t, int64(1), l.Version)
	assert.ErrorIs(t, repo.CreateList(ctx, l), domain.ErrConflict)

	got, err := repo.GetList(ctx, l.Address)
	require.NoError(t, err)
	assert.Equal(t, "boss@example.com", got.Owner)
	assert.Equal(t, []string{"mod@example.com"}, got.Moderators)
	assert.True(t, got.Config.Bool(domain.OptModerated))
	assert.Equal(t, int64(256), got.Config.Int(domain.OptMaxMessageKB))
	assert.Equal(t, "[team]", got.Config.String(domain.OptSubjectTag))
	assert.True(t, l.CreatedAt.Equal(got.CreatedAt))

	require.NoError(t, repo.UpdateList(ctx, got, 1))
	assert.Equal(t, int64(2), got.Version)
	assert.ErrorIs(t, repo.UpdateList(ctx, l, 1), domain.ErrConflict)

	require.NoError(t, repo.CreateList(ctx, &domain.List{Address: "alpha@lists.example.com"}))
	addrs, err := repo.ListAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha@lists.example.com", "team@lists.example.com"}, addrs)

	_, err = repo.GetList(ctx, "missing@lists.example.com")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestRepo_MembershipCAS(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(newFakeDB(), "listserv")
	const list = "team@lists.example.com"

	m := &domain.Membership{ListAddress: list, Address: "b@y.io", State: domain.MemberPendingSubscription}
	require.NoError(t, repo.PutMembership(ctx, m, 0))
	assert.ErrorIs(t, repo.PutMembership(ctx, m, 0), domain.ErrConflict)

	m.State = domain.MemberSubscribed
	m.Flags = map[string]bool{domain.FlagEchoPost: true}
	require.NoError(t, repo.PutMembership(ctx, m, 1))
	assert.Equal(t, int64(2), m.Version)
	require.NoError(t, repo.PutMembership(ctx, &domain.Membership{ListAddress: list, Address: "a@y.io", State: domain.MemberSubscribed}, 0))
	require.NoError(t, repo.PutMembership(ctx, &domain.Membership{ListAddress: list, Address: "c@y.io", State: domain.MemberPendingUnsubscription}, 0))

	got, err := repo.GetMembership(ctx, list, "b@y.io")
	require.NoError(t, err)
	assert.True(t, got.Flag(domain.FlagEchoPost))

	ms, err := repo.Memberships(ctx, list, domain.MemberSubscribed)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "a@y.io", ms[0].Address)
	assert.Equal(t, "b@y.io", ms[1].Address)

	assert.ErrorIs(t, repo.DeleteMembership(ctx, list, "b@y.io", 1), domain.ErrConflict)
	require.NoError(t, repo.DeleteMembership(ctx, list, "b@y.io", 2))
	assert.ErrorIs(t, repo.DeleteMembership(ctx, list, "b@y.io", 2), domain.ErrConflict)

	_, err = repo.GetMembership(ctx, list, "b@y.io")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestRepo_HoldQueue(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(newFakeDB(), "listserv")
	const list = "team@lists.example.com"
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.HoldMessage(ctx, &domain.ModeratedMessage{ID: "z", ListAddress: list, Sender: "u@y.io", ObjectKey: "k1", Reason: domain.HoldOversize, HeldAt: base}))
	require.NoError(t, repo.HoldMessage(ctx, &domain.ModeratedMessage{ID: "a", ListAddress: list, Sender: "u@y.io", ObjectKey: "k2", Reason: domain.HoldModeratedList, HeldAt: base.Add(time.Minute)}))

	queue, err := repo.HeldMessages(ctx, list)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, "z", queue[0].ID)

	m, err := repo.TakeHeldMessage(ctx, list, "z")
	require.NoError(t, err)
	assert.Equal(t, "k1", m.ObjectKey)
	assert.Equal(t, domain.HoldOversize, m.Reason)

	_, err = repo.TakeHeldMessage(ctx, list, "z")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestRepo_StoreUnavailable(t *testing.T) {
	db := newFakeDB()
	db.err = errors.New("throttled")
	repo := NewRepo(db, "listserv")

	_, err := repo.GetList(context.Background(), "team@lists.example.com")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.False(t, errors.Is(err, domain.ErrRecordNotFound))
	assert.ErrorContains(t, err, "throttled")
}
