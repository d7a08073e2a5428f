// Package dynamo implements the mailing list repository on a single DynamoDB
// table. Lists, memberships and held messages share a partition per list:
//
//	PK = LIST#<address>   SK = META            list record
//	PK = LIST#<address>   SK = MEMBER#<addr>   membership
//	PK = LIST#<address>   SK = HELD#<id>       held message
//
// Versioned writes use condition expressions; a failed condition is reported
// as domain.ErrConflict.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/listserv/internal/domain"
)

// API is the subset of the DynamoDB client the repository uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

const (
	skMeta       = "META"
	memberPrefix = "MEMBER#"
	heldPrefix   = "HELD#"
)

type listItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	domain.List
}

type membershipItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	domain.Membership
}

type heldItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	domain.ModeratedMessage
}

// Repo implements mailinglist.Repository against DynamoDB.
type Repo struct {
	db    API
	table string
}

// NewRepo creates a repository over table.
func NewRepo(db API, table string) *Repo {
	return &Repo{db: db, table: table}
}

// NewFromConfig builds the repository from a loaded AWS config.
func NewFromConfig(cfg aws.Config, table string) *Repo {
	return NewRepo(dynamodb.NewFromConfig(cfg), table)
}

func pk(list string) string { return "LIST#" + list }

func key(p, s string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: p},
		"SK": &types.AttributeValueMemberS{Value: s},
	}
}

const versionCond = "#ver = :v"

var versionName = map[string]string{"#ver": "Version"}

func version(v int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}}
}

// classify maps a client error to the repository taxonomy.
func classify(op string, err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: %s", domain.ErrConflict, op)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

func (r *Repo) GetList(ctx context.Context, address string) (*domain.List, error) {
	out, err := r.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            key(pk(address), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify("get list", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: list %s", domain.ErrRecordNotFound, address)
	}
	var item listItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal list %s: %w", address, err)
	}
	return &item.List, nil
}

func (r *Repo) putList(ctx context.Context, l *domain.List, cond string, names map[string]string, values map[string]types.AttributeValue) error {
	av, err := attributevalue.MarshalMap(listItem{PK: pk(l.Address), SK: skMeta, List: *l})
	if err != nil {
		return fmt.Errorf("marshal list %s: %w", l.Address, err)
	}
	_, err = r.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.table),
		Item:                      av,
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return classify("put list "+l.Address, err)
	}
	return nil
}

func (r *Repo) CreateList(ctx context.Context, l *domain.List) error {
	next := *l
	next.Version = 1
	if err := r.putList(ctx, &next, "attribute_not_exists(PK)", nil, nil); err != nil {
		return err
	}
	l.Version = 1
	return nil
}

func (r *Repo) UpdateList(ctx context.Context, l *domain.List, expectedVersion int64) error {
	next := *l
	next.Version = expectedVersion + 1
	err := r.putList(ctx, &next, versionCond, versionName, version(expectedVersion))
	if err != nil {
		return err
	}
	l.Version = next.Version
	return nil
}

func (r *Repo) ListAddresses(ctx context.Context) ([]string, error) {
	p := dynamodb.NewScanPaginator(r.db, &dynamodb.ScanInput{
		TableName:                 aws.String(r.table),
		FilterExpression:          aws.String("SK = :meta"),
		ProjectionExpression:      aws.String("Address"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":meta": &types.AttributeValueMemberS{Value: skMeta}},
	})
	var out []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("scan lists", err)
		}
		for _, it := range page.Items {
			var l domain.List
			if err := attributevalue.UnmarshalMap(it, &l); err != nil {
				return nil, fmt.Errorf("unmarshal list address: %w", err)
			}
			out = append(out, l.Address)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (r *Repo) GetMembership(ctx context.Context, listAddress, address string) (*domain.Membership, error) {
	out, err := r.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            key(pk(listAddress), memberPrefix+address),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify("get membership", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: membership %s/%s", domain.ErrRecordNotFound, listAddress, address)
	}
	var item membershipItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal membership: %w", err)
	}
	return &item.Membership, nil
}

func (r *Repo) PutMembership(ctx context.Context, m *domain.Membership, expectedVersion int64) error {
	next := *m
	next.Version = expectedVersion + 1
	av, err := attributevalue.MarshalMap(membershipItem{PK: pk(m.ListAddress), SK: memberPrefix + m.Address, Membership: next})
	if err != nil {
		return fmt.Errorf("marshal membership: %w", err)
	}
	in := &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}
	if expectedVersion != 0 {
		in.ConditionExpression = aws.String(versionCond)
		in.ExpressionAttributeNames = versionName
		in.ExpressionAttributeValues = version(expectedVersion)
	}
	if _, err := r.db.PutItem(ctx, in); err != nil {
		return classify("put membership "+m.Address, err)
	}
	m.Version = next.Version
	return nil
}

func (r *Repo) DeleteMembership(ctx context.Context, listAddress, address string, expectedVersion int64) error {
	_, err := r.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(r.table),
		Key:                       key(pk(listAddress), memberPrefix+address),
		ConditionExpression:       aws.String(versionCond),
		ExpressionAttributeNames:  versionName,
		ExpressionAttributeValues: version(expectedVersion),
	})
	if err != nil {
		return classify("delete membership "+address, err)
	}
	return nil
}

func (r *Repo) query(ctx context.Context, in *dynamodb.QueryInput, each func(map[string]types.AttributeValue) error) error {
	p := dynamodb.NewQueryPaginator(r.db, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return classify("query", err)
		}
		for _, it := range page.Items {
			if err := each(it); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Repo) Memberships(ctx context.Context, listAddress string, state domain.MembershipState) ([]domain.Membership, error) {
	var out []domain.Membership
	err := r.query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(r.table),
		KeyConditionExpression:   aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		FilterExpression:         aws.String("#st = :state"),
		ExpressionAttributeNames: map[string]string{"#st": "State"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk(listAddress)},
			":prefix": &types.AttributeValueMemberS{Value: memberPrefix},
			":state":  &types.AttributeValueMemberS{Value: string(state)},
		},
		ConsistentRead: aws.Bool(true),
	}, func(it map[string]types.AttributeValue) error {
		var item membershipItem
		if err := attributevalue.UnmarshalMap(it, &item); err != nil {
			return fmt.Errorf("unmarshal membership: %w", err)
		}
		out = append(out, item.Membership)
		return nil
	})
	return out, err
}

func (r *Repo) HoldMessage(ctx context.Context, m *domain.ModeratedMessage) error {
	av, err := attributevalue.MarshalMap(heldItem{PK: pk(m.ListAddress), SK: heldPrefix + m.ID, ModeratedMessage: *m})
	if err != nil {
		return fmt.Errorf("marshal held message: %w", err)
	}
	_, err = r.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      av,
	})
	if err != nil {
		return classify("hold message "+m.ID, err)
	}
	return nil
}

func (r *Repo) TakeHeldMessage(ctx context.Context, listAddress, id string) (*domain.ModeratedMessage, error) {
	out, err := r.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.table),
		Key:                 key(pk(listAddress), heldPrefix+id),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ReturnValues:        types.ReturnValueAllOld,
	})
	if err != nil {
		err = classify("take held message "+id, err)
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: held message %s", domain.ErrRecordNotFound, id)
		}
		return nil, err
	}
	var item heldItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, fmt.Errorf("unmarshal held message: %w", err)
	}
	return &item.ModeratedMessage, nil
}

func (r *Repo) HeldMessages(ctx context.Context, listAddress string) ([]domain.ModeratedMessage, error) {
	var out []domain.ModeratedMessage
	err := r.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk(listAddress)},
			":prefix": &types.AttributeValueMemberS{Value: heldPrefix},
		},
		ConsistentRead: aws.Bool(true),
	}, func(it map[string]types.AttributeValue) error {
		var item heldItem
		if err := attributevalue.UnmarshalMap(it, &item); err != nil {
			return fmt.Errorf("unmarshal held message: %w", err)
		}
		out = append(out, item.ModeratedMessage)
		return nil
	})
	slices.SortFunc(out, func(a, b domain.ModeratedMessage) int {
		if c := a.HeldAt.Compare(b.HeldAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, err
}
