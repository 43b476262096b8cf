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

// emailSeat records that an (email, university) pair has reached verified.
// It is the storage-level guard for one-verified-record-per-pair: duplicate
// pending records can coexist, but only the one that takes this seat can
// transition to verified.
type emailSeat struct {
	EmailUniversity string    `dynamodbav:"email_university"`
	VerificationID  string    `dynamodbav:"verification_id"`
	ClaimedAt       time.Time `dynamodbav:"claimed_at"`
}

// EmailSeatRepo manages the email_seats table. PK: email_university.
type EmailSeatRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewEmailSeatRepo(client *dynamodb.Client, tableName string) *EmailSeatRepo {
	return &EmailSeatRepo{client: client, tableName: tableName}
}

// Claim atomically takes the seat for an (email, university) key. Like the
// phone seat, a re-claim passes only for the record already holding the seat;
// a concurrent duplicate record for the same key gets ErrConflict.
func (r *EmailSeatRepo) Claim(ctx context.Context, emailUniversity, verificationID string) error {
	seat := emailSeat{
		EmailUniversity: emailUniversity,
		VerificationID:  verificationID,
		ClaimedAt:       time.Now().UTC(),
	}
	item, err := attributevalue.MarshalMap(seat)
	if err != nil {
		return fmt.Errorf("marshal email seat: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(email_university) OR verification_id = :vid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":vid": &types.AttributeValueMemberS{Value: verificationID},
		},
	})
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("verification already completed for this email: %w", domain.ErrConflict)
	}
	return err
}

// Release frees the seat, but only if the given record still holds it. Used
// to roll back a claim when the rest of the verify transition fails; a
// no-longer-matching holder means someone else won and there is nothing to
// undo.
func (r *EmailSeatRepo) Release(ctx context.Context, emailUniversity, verificationID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("email_university", emailUniversity),
		ConditionExpression: aws.String("verification_id = :vid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":vid": &types.AttributeValueMemberS{Value: verificationID},
		},
	})
	if isConditionalCheckFailed(err) {
		return nil
	}
	return err
}
