package mongodb

import (
	"context"
	"fmt"
	"time"

	productDomain "github.com/davicafu/productflow/internal/product/domain"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const collectionName = "replenishment_requests"

// ReplenishmentRepoMongoDB implementa productDomain.ReplenishmentStore.
type ReplenishmentRepoMongoDB struct {
	coll *mongo.Collection
}

var _ productDomain.ReplenishmentStore = (*ReplenishmentRepoMongoDB)(nil)

func NewReplenishmentRepoMongoDB(ctx context.Context, client *mongo.Client, dbName string) (*ReplenishmentRepoMongoDB, error) {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}

	coll := client.Database(dbName).Collection(collectionName)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "warehouseId", Value: 1}, {Key: "status", Value: 1}, {Key: "requestedAt", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("could not create replenishment index: %w", err)
	}

	return &ReplenishmentRepoMongoDB{coll: coll}, nil
}

// Se define localmente para no "contaminar" el dominio con tags de BSON.
type mongoReplenishment struct {
	EventKey        string    `bson:"_id"`
	WarehouseID     string    `bson:"warehouseId"`
	ProductID       string    `bson:"productId"`
	SKU             string    `bson:"sku"`
	QuantityReduced int       `bson:"quantityReduced"`
	Status          string    `bson:"status"`
	RequestedAt     time.Time `bson:"requestedAt"`
}

func toMongo(r productDomain.ReplenishmentRequest) mongoReplenishment {
	return mongoReplenishment{
		EventKey:        r.EventKey,
		WarehouseID:     r.WarehouseID,
		ProductID:       r.ProductID.String(),
		SKU:             r.SKU,
		QuantityReduced: r.QuantityReduced,
		Status:          string(r.Status),
		RequestedAt:     r.RequestedAt,
	}
}

func fromMongo(m mongoReplenishment) (productDomain.ReplenishmentRequest, error) {
	id, err := uuid.Parse(m.ProductID)
	if err != nil {
		return productDomain.ReplenishmentRequest{}, fmt.Errorf("invalid productId %q: %w", m.ProductID, err)
	}
	return productDomain.ReplenishmentRequest{
		EventKey:        m.EventKey,
		WarehouseID:     m.WarehouseID,
		ProductID:       id,
		SKU:             m.SKU,
		QuantityReduced: m.QuantityReduced,
		Status:          productDomain.ReplenishmentStatus(m.Status),
		RequestedAt:     m.RequestedAt.UTC(),
	}, nil
}

// Upsert solo inserta si el EventKey no existe: una reentrega no pisa el estado.
func (r *ReplenishmentRepoMongoDB) Upsert(ctx context.Context, req productDomain.ReplenishmentRequest) error {
	doc := toMongo(req)
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": doc.EventKey},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *ReplenishmentRepoMongoDB) ListPending(ctx context.Context, warehouseID string) ([]productDomain.ReplenishmentRequest, error) {
	filter := bson.M{"warehouseId": warehouseID, "status": string(productDomain.ReplenishmentPending)}
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "requestedAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []mongoReplenishment
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]productDomain.ReplenishmentRequest, 0, len(docs))
	for _, d := range docs {
		req, err := fromMongo(d)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}
