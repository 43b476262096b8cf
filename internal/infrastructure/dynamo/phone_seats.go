package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/campusgate/verify-api/internal/domain"
)

// phoneSeat records that a phone number has been used by a verified record.
// A phone number is a one-time seat: once claimed it can never verify another
// identity.
type phoneSeat struct {
	PhoneNumber     string    `dynamodbav:"phone_number"`
	EmailUniversity string    `dynamodbav:"email_university"`
	VerificationID  string    `dynamodbav:"verification_id"`
	ClaimedAt       time.Time `dynamodbav:"claimed_at"`
}

// PhoneSeatRepo manages the phone_seats table. PK: phone_number.
type PhoneSeatRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewPhoneSeatRepo(client *dynamodb.Client, tableName string) *PhoneSeatRepo {
	return &PhoneSeatRepo{client: client, tableName: tableName}
}

// Claim atomically takes the seat for a phone number. The condition allows a
// re-claim only by the exact record that already holds the seat, so a retried
// confirmation stays idempotent while every other record, including a
// concurrent duplicate for the same (email, university) pair, gets
// ErrConflict. This write, not the application-level pre-check, is what
// enforces global phone uniqueness under concurrent submissions.
func (r *PhoneSeatRepo) Claim(ctx context.Context, phoneNumber, emailUniversity, verificationID string) error {
	seat := phoneSeat{
		PhoneNumber:     phoneNumber,
		EmailUniversity: emailUniversity,
		VerificationID:  verificationID,
		ClaimedAt:       time.Now().UTC(),
	}
	item, err := attributevalue.MarshalMap(seat)
	if err != nil {
		return fmt.Errorf("marshal phone seat: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(phone_number) OR verification_id = :vid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":vid": &types.AttributeValueMemberS{Value: verificationID},
		},
	})
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("phone number already used for verification: %w", domain.ErrConflict)
	}
	return err
}

// Holder returns the (email, university) key currently holding the seat for a
// phone number, or ErrNotFound when the seat is free.
func (r *PhoneSeatRepo) Holder(ctx context.Context, phoneNumber string) (string, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("phone_number", phoneNumber),
	})
	if err != nil {
		return "", err
	}
	if out.Item == nil {
		return "", fmt.Errorf("phone seat not found: %w", domain.ErrNotFound)
	}
	var seat phoneSeat
	if err := attributevalue.UnmarshalMap(out.Item, &seat); err != nil {
		return "", err
	}
	return seat.EmailUniversity, nil
}
