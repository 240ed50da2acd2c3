// Package database is the MongoDB backend. Rows keep the integer ids the
// clients expect, allocated from a counters collection, and the change
// feed is read from a change stream on the database.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/models"
)

const countersCollection = "counters"

type Store struct {
	client *mongo.Client
	db     *mongo.Database

	products   *mongo.Collection
	orders     *mongo.Collection
	orderItems *mongo.Collection
	profiles   *mongo.Collection
	counters   *mongo.Collection

	hub       *backend.Hub
	log       logrus.FieldLogger
	stopWatch context.CancelFunc
	watchDone chan struct{}
	now       func() time.Time
}

var _ backend.Backend = (*Store)(nil)

// ConnectMongo dials uri, selects dbName and starts the change stream.
func ConnectMongo(ctx context.Context, uri, dbName string, log logrus.FieldLogger) (*Store, error) {
	if uri == "" || dbName == "" {
		return nil, errors.New("MONGO_URI or DB_NAME not set")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	s := New(client, client.Database(dbName), log)
	if err := s.InitCollections(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.StartWatch()

	s.log.WithField("db", dbName).Info("connected to MongoDB")
	return s, nil
}

// New wraps an open database. The change stream is not started.
func New(client *mongo.Client, db *mongo.Database, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		client:     client,
		db:         db,
		products:   db.Collection(backend.TableProducts),
		orders:     db.Collection(backend.TableOrders),
		orderItems: db.Collection(backend.TableOrderItems),
		profiles:   db.Collection(backend.TableProfiles),
		counters:   db.Collection(countersCollection),
		hub:        backend.NewHub(),
		log:        log.WithField("backend", "mongo"),
		now:        time.Now,
	}
}

// InitCollections creates the indexes the queries rely on.
func (s *Store) InitCollections(ctx context.Context) error {
	_, err := s.orders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("orders indexes: %w", err)
	}
	_, err = s.orderItems.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "order_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("order_items indexes: %w", err)
	}
	return nil
}

// nextIDs reserves n consecutive ids for table and returns the first.
func (s *Store) nextIDs(ctx context.Context, table string, n int) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": table},
		bson.M{"$inc": bson.M{"seq": int64(n)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("allocate %s id: %w", table, err)
	}
	return counter.Seq - int64(n) + 1, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf(format+": %w", append(args, backend.ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	cursor, err := s.products.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	var docs []productDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	out := make([]models.Product, 0, len(docs))
	for _, d := range docs {
		p, err := d.model()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var doc productDoc
	if err := s.products.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err, "product %d", id)
	}
	p, err := doc.model()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) InsertProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	id, err := s.nextIDs(ctx, backend.TableProducts, 1)
	if err != nil {
		return nil, err
	}
	p.ID = id
	p.CreatedAt = s.now().UTC().Truncate(time.Millisecond)

	doc, err := newProductDoc(p)
	if err != nil {
		return nil, err
	}
	if _, err := s.products.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	price, err := toDecimal128(p.Price)
	if err != nil {
		return nil, err
	}

	set := bson.M{"name": p.Name, "price": price}
	update := bson.M{"$set": set}
	if p.Image != nil {
		set["image"] = *p.Image
	} else {
		update["$unset"] = bson.M{"image": ""}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc productDoc
	if err := s.products.FindOneAndUpdate(ctx, bson.M{"_id": p.ID}, update, opts).Decode(&doc); err != nil {
		return nil, notFound(err, "product %d", p.ID)
	}
	updated, err := doc.model()
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.products.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete product %d: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("product %d: %w", id, backend.ErrNotFound)
	}
	return nil
}

// orderQuery translates filter into a mongo filter and sort.
func orderQuery(filter backend.OrderFilter) (bson.M, bson.D) {
	q := bson.M{}
	if filter.UserID != "" {
		q["user_id"] = filter.UserID
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		q["status"] = bson.M{"$in": statuses}
	}

	dir := 1
	if filter.Descending {
		dir = -1
	}
	return q, bson.D{{Key: "created_at", Value: dir}, {Key: "_id", Value: dir}}
}

func (s *Store) ListOrders(ctx context.Context, filter backend.OrderFilter) ([]models.Order, error) {
	q, sort := orderQuery(filter)
	cursor, err := s.orders.Find(ctx, q, options.Find().SetSort(sort))
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	out := make([]models.Order, 0, len(docs))
	for _, d := range docs {
		o, err := d.model()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var doc orderDoc
	if err := s.orders.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err, "order %d", id)
	}
	order, err := doc.model()
	if err != nil {
		return nil, err
	}

	cursor, err := s.orderItems.Find(ctx, bson.M{"order_id": id}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("order %d items: %w", id, err)
	}
	var itemDocs []orderItemDoc
	if err := cursor.All(ctx, &itemDocs); err != nil {
		return nil, fmt.Errorf("order %d items: %w", id, err)
	}

	productIDs := make([]int64, 0, len(itemDocs))
	for _, d := range itemDocs {
		productIDs = append(productIDs, d.ProductID)
	}
	products, err := s.productsByID(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	order.OrderItems = make([]models.OrderItem, 0, len(itemDocs))
	for _, d := range itemDocs {
		it := d.model()
		if p, ok := products[it.ProductID]; ok {
			it.Product = &p
		}
		order.OrderItems = append(order.OrderItems, it)
	}
	return &order, nil
}

func (s *Store) productsByID(ctx context.Context, ids []int64) (map[int64]models.Product, error) {
	out := make(map[int64]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cursor, err := s.products.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("products by id: %w", err)
	}
	var docs []productDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("products by id: %w", err)
	}
	for _, d := range docs {
		p, err := d.model()
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, nil
}

func (s *Store) InsertOrder(ctx context.Context, in models.NewOrder) (*models.Order, error) {
	total, err := toDecimal128(in.Total)
	if err != nil {
		return nil, err
	}
	id, err := s.nextIDs(ctx, backend.TableOrders, 1)
	if err != nil {
		return nil, err
	}

	doc := orderDoc{
		ID:        id,
		UserID:    in.UserID,
		Status:    string(models.StatusNew),
		Total:     total,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.orders.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	o, err := doc.model()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc orderDoc
	err := s.orders.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": string(status)}},
		opts,
	).Decode(&doc)
	if err != nil {
		return nil, notFound(err, "order %d", id)
	}
	o, err := doc.model()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// InsertOrderItems rejects rows for unknown orders the way a foreign key
// would.
func (s *Store) InsertOrderItems(ctx context.Context, items []models.NewOrderItem) ([]models.OrderItem, error) {
	if len(items) == 0 {
		return []models.OrderItem{}, nil
	}

	orderIDs := make(map[int64]struct{})
	for _, it := range items {
		orderIDs[it.OrderID] = struct{}{}
	}
	for id := range orderIDs {
		n, err := s.orders.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return nil, fmt.Errorf("order_items: %w", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("order_items: order %d: %w", id, backend.ErrNotFound)
		}
	}

	first, err := s.nextIDs(ctx, backend.TableOrderItems, len(items))
	if err != nil {
		return nil, err
	}

	docs := make([]any, 0, len(items))
	out := make([]models.OrderItem, 0, len(items))
	for i, it := range items {
		d := orderItemDoc{
			ID:        first + int64(i),
			OrderID:   it.OrderID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Size:      string(it.Size),
		}
		docs = append(docs, d)
		out = append(out, d.model())
	}
	if _, err := s.orderItems.InsertMany(ctx, docs); err != nil {
		return nil, fmt.Errorf("insert order_items: %w", err)
	}
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var doc profileDoc
	if err := s.profiles.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err, "profile %s", id)
	}
	p := doc.model()
	return &p, nil
}

// PutProfile creates or replaces a profile.
func (s *Store) PutProfile(ctx context.Context, p models.Profile) error {
	doc := profileDoc{ID: p.ID, Group: string(p.Group), ExpoPushToken: p.ExpoPushToken}
	_, err := s.profiles.ReplaceOne(ctx, bson.M{"_id": p.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put profile %s: %w", p.ID, err)
	}
	return nil
}

// SetPushToken upserts the profile, defaulting the group of a new one to USER.
func (s *Store) SetPushToken(ctx context.Context, userID, token string) (*models.Profile, error) {
	update := bson.M{
		"$set":         bson.M{"expo_push_token": token},
		"$setOnInsert": bson.M{"group": string(models.GroupUser)},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc profileDoc
	if err := s.profiles.FindOneAndUpdate(ctx, bson.M{"_id": userID}, update, opts).Decode(&doc); err != nil {
		return nil, fmt.Errorf("set push token %s: %w", userID, err)
	}
	p := doc.model()
	return &p, nil
}

func (s *Store) Subscribe(ctx context.Context, cfg backend.SubscribeConfig) (backend.Subscription, error) {
	return s.hub.Subscribe(ctx, cfg)
}

func (s *Store) Close(ctx context.Context) error {
	if s.stopWatch != nil {
		s.stopWatch()
		<-s.watchDone
	}
	s.hub.CloseAll()
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
