package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/campusgate/verify-api/internal/domain"
)

// UniversityRepo provides read-only access to the universities reference table.
// PK: university_id. The table is seeded out of band.
type UniversityRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewUniversityRepo(client *dynamodb.Client, tableName string) *UniversityRepo {
	return &UniversityRepo{client: client, tableName: tableName}
}

func (r *UniversityRepo) Get(ctx context.Context, universityID string) (*domain.University, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("university_id", universityID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("university not found: %w", domain.ErrNotFound)
	}
	var u domain.University
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// List returns all universities. The table is small reference data, so a
// full scan is acceptable here.
func (r *UniversityRepo) List(ctx context.Context) ([]domain.University, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(r.tableName),
	})
	if err != nil {
		return nil, err
	}
	var universities []domain.University
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &universities); err != nil {
		return nil, err
	}
	return universities, nil
}
