package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultDatabase     = "ATS_Test"
	DefaultHistoryLimit = 20
)

// Mongo is the MongoDB backed store for users and upload records.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

func Connect(ctx context.Context, uri, database string) (*Mongo, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database = strings.TrimSpace(database); database == "" {
		database = DefaultDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Mongo{client: client, db: client.Database(database)}, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *Mongo) InsertUpload(ctx context.Context, coll Collection, rec UploadRecord) error {
	if _, err := m.db.Collection(string(coll)).InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert into %s: %w", coll, err)
	}
	return nil
}

// RecentUploads returns the user's single-candidate uploads, newest first.
func (m *Mongo) RecentUploads(ctx context.Context, userID string, limit int64) ([]UploadRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(historyLimit(limit))

	cur, err := m.db.Collection(string(EmployeeUploads)).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", EmployeeUploads, err)
	}

	records := make([]UploadRecord, 0)
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", EmployeeUploads, err)
	}
	return records, nil
}

// RecentBatches groups the user's multi-candidate uploads by batch id, newest first.
func (m *Mongo) RecentBatches(ctx context.Context, userID string, limit int64) ([]BatchSummary, error) {
	cur, err := m.db.Collection(string(EmployerUploads)).Aggregate(ctx, batchHistoryPipeline(userID, historyLimit(limit)))
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", EmployerUploads, err)
	}

	batches := make([]BatchSummary, 0)
	if err := cur.All(ctx, &batches); err != nil {
		return nil, fmt.Errorf("decode %s: %w", EmployerUploads, err)
	}
	return batches, nil
}

func batchHistoryPipeline(userID string, limit int64) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "user_id", Value: userID}}}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: 1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$employer_id"},
			{Key: "jd_text", Value: bson.D{{Key: "$first", Value: "$jd_text"}}},
			{Key: "created_at", Value: bson.D{{Key: "$first", Value: "$created_at"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}}}},
		{{Key: "$limit", Value: limit}},
	}
}

func historyLimit(limit int64) int64 {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

func (m *Mongo) FindUser(ctx context.Context, userType UserType, email string) (*User, error) {
	var user User
	err := m.db.Collection(userType.Collection()).FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s %q: %w", userType, email, err)
	}
	return &user, nil
}

// CreateUser inserts u into its type's collection and returns the new id.
func (m *Mongo) CreateUser(ctx context.Context, u *User) (string, error) {
	res, err := m.db.Collection(u.UserType.Collection()).InsertOne(ctx, u)
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", u.UserType, err)
	}

	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		u.ID = id
		return id.Hex(), nil
	}
	return fmt.Sprint(res.InsertedID), nil
}
