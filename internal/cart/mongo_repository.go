package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type itemDoc struct {
	ID        string               `bson:"id"`
	ProductID string               `bson:"product_id"`
	SKU       string               `bson:"sku"`
	NameEN    string               `bson:"name_en"`
	NameNO    string               `bson:"name_no"`
	Quantity  int                  `bson:"quantity"`
	Price     primitive.Decimal128 `bson:"price"`
	AddedAt   time.Time            `bson:"added_at"`
}

type cartDoc struct {
	ID        string               `bson:"_id"`
	SessionID string               `bson:"session_id"`
	Items     []itemDoc            `bson:"items"`
	Total     primitive.Decimal128 `bson:"total"`
	Version   int64                `bson:"version"`
	ExpiresAt time.Time            `bson:"expires_at"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{collection: db.Collection("carts")}
}

// CreateIndexes installs the unique session index and the TTL index the
// server uses to reap expired carts.
func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *MongoRepository) Get(ctx context.Context, sessionID string) (*Cart, error) {
	var doc cartDoc
	err := m.collection.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return fromDoc(doc)
}

func (m *MongoRepository) Insert(ctx context.Context, c *Cart) error {
	doc, err := toDoc(c)
	if err != nil {
		return err
	}
	_, err = m.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateSession
	}
	if err != nil {
		return fmt.Errorf("failed to insert cart: %w", err)
	}
	return nil
}

func (m *MongoRepository) Save(ctx context.Context, c *Cart) error {
	doc, err := toDoc(c)
	if err != nil {
		return err
	}
	filter := bson.M{"session_id": c.SessionID, "version": c.Version}
	update := bson.M{
		"$set": bson.M{
			"items":      doc.Items,
			"total":      doc.Total,
			"expires_at": doc.ExpiresAt,
			"updated_at": doc.UpdatedAt,
		},
		"$inc": bson.M{"version": 1},
	}
	res, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrStaleCart
	}
	c.Version++
	return nil
}

func (m *MongoRepository) Delete(ctx context.Context, sessionID string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"session_id": sessionID}); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

func toDoc(c *Cart) (cartDoc, error) {
	total, err := primitive.ParseDecimal128(c.Total.String())
	if err != nil {
		return cartDoc{}, fmt.Errorf("encode total: %w", err)
	}
	items := make([]itemDoc, 0, len(c.Items))
	for _, it := range c.Items {
		price, err := primitive.ParseDecimal128(it.Price.String())
		if err != nil {
			return cartDoc{}, fmt.Errorf("encode price: %w", err)
		}
		items = append(items, itemDoc{
			ID:        it.ID,
			ProductID: it.ProductID,
			SKU:       it.SKU,
			NameEN:    it.Name.EN,
			NameNO:    it.Name.NO,
			Quantity:  it.Quantity,
			Price:     price,
			AddedAt:   it.AddedAt,
		})
	}
	return cartDoc{
		ID:        c.ID,
		SessionID: c.SessionID,
		Items:     items,
		Total:     total,
		Version:   c.Version,
		ExpiresAt: c.ExpiresAt,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}, nil
}

func fromDoc(doc cartDoc) (*Cart, error) {
	total, err := decimal.NewFromString(doc.Total.String())
	if err != nil {
		return nil, fmt.Errorf("decode total: %w", err)
	}
	c := &Cart{
		ID:        doc.ID,
		SessionID: doc.SessionID,
		Items:     make([]Item, 0, len(doc.Items)),
		Total:     total,
		Version:   doc.Version,
		ExpiresAt: doc.ExpiresAt,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, it := range doc.Items {
		price, err := decimal.NewFromString(it.Price.String())
		if err != nil {
			return nil, fmt.Errorf("decode price: %w", err)
		}
		c.Items = append(c.Items, Item{
			ID:        it.ID,
			ProductID: it.ProductID,
			SKU:       it.SKU,
			Name:      catalog.Localized{EN: it.NameEN, NO: it.NameNO},
			Quantity:  it.Quantity,
			Price:     price,
			AddedAt:   it.AddedAt,
		})
	}
	return c, nil
}
