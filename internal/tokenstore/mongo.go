package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"github.com/teemow/slotfinder/internal/logging"
)

const (
	defaultMongoDatabase  = "slotfinder"
	credentialsCollection = "credentials"
)

type mongoCredential struct {
	Identity     string    `bson:"_id"`
	AccessToken  string    `bson:"access_token,omitempty"`
	RefreshToken string    `bson:"refresh_token,omitempty"`
	TokenType    string    `bson:"token_type,omitempty"`
	Expiry       time.Time `bson:"expiry,omitempty"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// MongoStore keeps one document per identity. Put issues a single upserting
// $set of the present fields, which MongoDB applies atomically per document.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	sealer *Sealer
	logger *slog.Logger
}

// NewMongoStore connects to uri and uses the credentials collection of
// database.
func NewMongoStore(ctx context.Context, uri, database string, sealer *Sealer) (*MongoStore, error) {
	if database == "" {
		database = defaultMongoDatabase
	}

	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(credentialsCollection),
		sealer: sealer,
		logger: slog.Default(),
	}, nil
}

func (s *MongoStore) Get(ctx context.Context, identity string) (*Credential, error) {
	if identity == "" {
		return nil, ErrEmptyIdentity
	}

	var doc mongoCredential
	err := s.coll.FindOne(ctx, bson.M{"_id": identity}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}

	cred, err := s.sealer.openCredential(Credential{
		AccessToken:  doc.AccessToken,
		RefreshToken: doc.RefreshToken,
		TokenType:    doc.TokenType,
		Expiry:       doc.Expiry,
	})
	if err != nil {
		return nil, err
	}
	if !cred.Expiry.IsZero() {
		cred.Expiry = cred.Expiry.UTC()
	}
	return &cred, nil
}

func (s *MongoStore) Put(ctx context.Context, identity string, partial Credential) error {
	if identity == "" {
		return ErrEmptyIdentity
	}

	sealed, err := s.sealer.sealCredential(partial)
	if err != nil {
		return err
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	if sealed.AccessToken != "" {
		set["access_token"] = sealed.AccessToken
	}
	if sealed.RefreshToken != "" {
		set["refresh_token"] = sealed.RefreshToken
	}
	if sealed.TokenType != "" {
		set["token_type"] = sealed.TokenType
	}
	if !sealed.Expiry.IsZero() {
		set["expiry"] = sealed.Expiry.UTC()
	}

	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": identity},
		bson.M{"$set": set},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	s.logger.Debug("stored credential", logging.IdentityHash(identity), "backend", "mongo")
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, identity string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": identity}); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
