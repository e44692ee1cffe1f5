// Package mongostore keeps the state snapshot in a single MongoDB document,
// {_id: "current_states", <alias key>: {...}, ...}, the layout older deployments
// already have on disk.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/onnwee/ghostbot/crypto"
	"github.com/onnwee/ghostbot/persist"
)

const (
	DefaultDatabase   = "ghost_bot"
	DefaultCollection = "user_states"
	DefaultDocumentID = "current_states"
)

// Gateway implements persist.Gateway on one document. When the sealer encrypts,
// the document holds {encryption_version, payload} instead of the flattened
// entries.
type Gateway struct {
	client *mongo.Client
	coll   *mongo.Collection
	id     string
	sealer crypto.Sealer
}

// Connect dials uri and returns a gateway on database (DefaultDatabase when empty).
func Connect(ctx context.Context, uri, database string, sealer crypto.Sealer) (*Gateway, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongodb uri is empty")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	if database == "" {
		database = DefaultDatabase
	}
	slog.Info("connected to MongoDB", slog.String("database", database), slog.String("component", "mongostore"))
	return New(client, client.Database(database).Collection(DefaultCollection), sealer), nil
}

// New wraps an existing collection.
func New(client *mongo.Client, coll *mongo.Collection, sealer crypto.Sealer) *Gateway {
	if sealer == nil {
		sealer = crypto.Plain{}
	}
	return &Gateway{client: client, coll: coll, id: DefaultDocumentID, sealer: sealer}
}

// Close disconnects the client.
func (g *Gateway) Close(ctx context.Context) error {
	if g.client == nil {
		return nil
	}
	return g.client.Disconnect(ctx)
}

// Ping checks the server.
func (g *Gateway) Ping(ctx context.Context) error { return g.client.Ping(ctx, nil) }

// LoadAll reads the snapshot document; a missing document is an empty aggregate.
func (g *Gateway) LoadAll(ctx context.Context) (persist.Aggregate, error) {
	raw, err := g.coll.FindOne(ctx, bson.M{"_id": g.id}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return persist.Aggregate{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find snapshot: %w", err)
	}
	return decodeDoc(raw, g.sealer, g.id)
}

// SaveAll replaces the snapshot document, creating it on first save.
func (g *Gateway) SaveAll(ctx context.Context, agg persist.Aggregate) error {
	doc, err := encodeDoc(g.id, agg, g.sealer)
	if err != nil {
		return err
	}
	_, err = g.coll.ReplaceOne(ctx, bson.M{"_id": g.id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

type sealedDoc struct {
	Version int    `bson:"encryption_version"`
	Payload []byte `bson:"payload"`
}

func encodeDoc(id string, agg persist.Aggregate, sealer crypto.Sealer) (bson.M, error) {
	if sealer.Version() != crypto.VersionPlain {
		plain, err := persist.Encode(agg)
		if err != nil {
			return nil, err
		}
		payload, err := sealer.Seal(plain, id)
		if err != nil {
			return nil, fmt.Errorf("encrypt snapshot: %w", err)
		}
		return bson.M{"_id": id, "encryption_version": sealer.Version(), "payload": payload}, nil
	}
	doc := bson.M{"_id": id}
	for k, v := range agg {
		doc[k] = map[string]any(v)
	}
	return doc, nil
}

func decodeDoc(raw bson.Raw, sealer crypto.Sealer, id string) (persist.Aggregate, error) {
	var sealed sealedDoc
	if err := bson.Unmarshal(raw, &sealed); err != nil {
		return nil, fmt.Errorf("decode snapshot header: %w", err)
	}
	if sealed.Version != crypto.VersionPlain {
		if sealer.Version() != sealed.Version {
			return nil, fmt.Errorf("snapshot is encrypted but ENCRYPTION_KEY not configured")
		}
		plain, err := sealer.Open(sealed.Payload, id)
		if err != nil {
			return nil, fmt.Errorf("decrypt snapshot: %w", err)
		}
		return persist.Decode(plain)
	}

	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	delete(m, "_id")
	delete(m, "encryption_version")
	b, err := bson.MarshalExtJSON(m, false, false)
	if err != nil {
		return nil, fmt.Errorf("convert snapshot: %w", err)
	}
	return persist.Decode(b)
}
