package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/campusgate/verify-api/internal/domain"
)

// VerificationRepo provides typed DynamoDB operations for the verifications table.
// PK: verification_id. GSIs: email_university-index, token-index, status-index.
type VerificationRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewVerificationRepo(client *dynamodb.Client, tableName string) *VerificationRepo {
	return &VerificationRepo{client: client, tableName: tableName}
}

func (r *VerificationRepo) Put(ctx context.Context, v *domain.VerificationRecord) error {
	v.EmailUniversity = domain.EmailUniversityKey(v.Email, v.UniversityID)
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("marshal verification record: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *VerificationRepo) Get(ctx context.Context, verificationID string) (*domain.VerificationRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("verification_id", verificationID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	var v domain.VerificationRecord
	if err := attributevalue.UnmarshalMap(out.Item, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetByEmailUniversity returns the record for the (email, university) pair.
// At most one record exists per pair at any time.
func (r *VerificationRepo) GetByEmailUniversity(ctx context.Context, email, universityID string) (*domain.VerificationRecord, error) {
	return r.queryGSI(ctx, "email_university-index", "email_university",
		domain.EmailUniversityKey(email, universityID))
}

func (r *VerificationRepo) GetByToken(ctx context.Context, token string) (*domain.VerificationRecord, error) {
	return r.queryGSI(ctx, "token-index", "verification_token", token)
}

// ListByStatus returns all records in the given status (the manual-review queue).
func (r *VerificationRepo) ListByStatus(ctx context.Context, status domain.VerificationStatus) ([]domain.VerificationRecord, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("status-index"),
		KeyConditionExpression: aws.String("#s = :v"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: string(status)},
		},
	})
	if err != nil {
		return nil, err
	}
	var records []domain.VerificationRecord
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// MarkVerified transitions a record from pending to verified, stamping
// verified_at. The ConditionExpression makes the transition a compare-and-swap:
// under concurrent confirmations only one caller wins, the rest get ErrConflict.
func (r *VerificationRepo) MarkVerified(ctx context.Context, verificationID string, verifiedAt time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("verification_id", verificationID),
		UpdateExpression:    aws.String("SET #s = :verified, verified_at = :at"),
		ConditionExpression: aws.String("#s = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":verified": &types.AttributeValueMemberS{Value: string(domain.StatusVerified)},
			":pending":  &types.AttributeValueMemberS{Value: string(domain.StatusPending)},
			":at":       &types.AttributeValueMemberS{Value: verifiedAt.UTC().Format(time.RFC3339)},
		},
	})
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("record is not pending: %w", domain.ErrConflict)
	}
	return err
}

// MarkExpired transitions a pending record to expired.
func (r *VerificationRepo) MarkExpired(ctx context.Context, verificationID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("verification_id", verificationID),
		UpdateExpression:    aws.String("SET #s = :expired"),
		ConditionExpression: aws.String("#s = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expired": &types.AttributeValueMemberS{Value: string(domain.StatusExpired)},
			":pending": &types.AttributeValueMemberS{Value: string(domain.StatusPending)},
		},
	})
	if isConditionalCheckFailed(err) {
		// Someone else already moved it; the caller re-reads.
		return nil
	}
	return err
}

// Update applies a partial update to arbitrary fields.
func (r *VerificationRepo) Update(ctx context.Context, verificationID string, updates map[string]interface{}) error {
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("verification_id", verificationID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	return err
}

// Delete removes a record. Used to clear stale pending/rejected/expired
// attempts before a fresh submission; verified records are never deleted
// through normal flow.
func (r *VerificationRepo) Delete(ctx context.Context, verificationID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("verification_id", verificationID),
	})
	return err
}

func (r *VerificationRepo) queryGSI(ctx context.Context, indexName, attr, value string) (*domain.VerificationRecord, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexName),
		KeyConditionExpression: aws.String("#a = :v"),
		ExpressionAttributeNames: map[string]string{
			"#a": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	var v domain.VerificationRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func isConditionalCheckFailed(err error) bool {
	var ccfe *types.ConditionalCheckFailedException
	return errors.As(err, &ccfe)
}
