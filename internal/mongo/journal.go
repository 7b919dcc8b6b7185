package mongo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/appetiteclub/apt"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tanoorlab/tanoor/internal/queue"
)

// Journal is the durable record behind the Redis day state: bakery
// configuration, customer traces, bread events and the per-day state
// snapshots recovery reads. Every write is an idempotent upsert so the
// retrying caller can never duplicate a record.
type Journal struct {
	client *mongo.Client
	db     *mongo.Database
	logger apt.Logger
	config *apt.Config
	loc    *time.Location
}

func NewJournal(config *apt.Config, loc *time.Location, logger apt.Logger) *Journal {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Journal{
		logger: logger,
		config: config,
		loc:    loc,
	}
}

func (j *Journal) Start(ctx context.Context) error {
	mongoURL, _ := j.config.GetString("db.mongo.url")
	connString := mongoURL
	if connString == "" {
		connString = "mongodb://localhost:27017"
	}

	dbName, _ := j.config.GetString("db.mongo.name")
	if dbName == "" {
		dbName = "tanoor"
	}

	clientOptions := options.Client().ApplyURI(connString).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("cannot connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("cannot ping MongoDB: %w", err)
	}

	j.client = client
	j.db = client.Database(dbName)

	if err := j.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("cannot create indexes: %w", err)
	}

	j.logger.Infof("Connected to MongoDB: %s, database: %s", connString, dbName)
	return nil
}

func (j *Journal) Stop(ctx context.Context) error {
	if j.client != nil {
		if err := j.client.Disconnect(ctx); err != nil {
			return fmt.Errorf("cannot disconnect from MongoDB: %w", err)
		}
		j.logger.Info("Disconnected from MongoDB")
	}
	return nil
}

func (j *Journal) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	indexes := map[*mongo.Collection][]mongo.IndexModel{
		j.db.Collection("queue_state_snapshot"): {
			{Keys: bson.D{{Key: "bakery_id", Value: 1}, {Key: "snapshot_date", Value: 1}}, Options: unique},
		},
		j.db.Collection("customer"): {
			{Keys: bson.D{{Key: "bakery_id", Value: 1}, {Key: "register_date", Value: 1}, {Key: "ticket_id", Value: 1}}},
		},
		j.db.Collection("bread"): {
			{Keys: bson.D{{Key: "bakery_id", Value: 1}, {Key: "bake_date", Value: 1}, {Key: "index", Value: 1}}, Options: unique},
		},
		j.db.Collection("bakery_bread"): {
			{Keys: bson.D{{Key: "bakery_id", Value: 1}, {Key: "bread_type_id", Value: 1}}, Options: unique},
		},
		j.db.Collection("wait_list"): {
			{Keys: bson.D{{Key: "bakery_id", Value: 1}, {Key: "date", Value: 1}, {Key: "ticket_id", Value: 1}}, Options: unique},
		},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) today() string {
	return time.Now().In(j.loc).Format("2006-01-02")
}

type bakeryDoc struct {
	ID          int    `bson:"_id"`
	Token       string `bson:"token"`
	BakingTimeS int    `bson:"baking_time_s"`
	TimeoutSec  int    `bson:"timeout_sec"`
	Active      bool   `bson:"active"`
}

type bakeryBreadDoc struct {
	BakeryID        int `bson:"bakery_id"`
	BreadTypeID     int `bson:"bread_type_id"`
	PreparationTime int `bson:"preparation_time"`
}

// Config assembles the bakery configuration from the bakery document and
// its bread type rows.
func (j *Journal) Config(ctx context.Context, bakeryID int) (*queue.BakeryConfig, error) {
	var doc bakeryDoc
	err := j.db.Collection("bakery").FindOne(ctx, bson.M{"_id": bakeryID, "active": true}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, queue.NotFoundError(queue.ReasonBakeryMissing)
	}
	if err != nil {
		return nil, queue.Transient(err)
	}

	cursor, err := j.db.Collection("bakery_bread").Find(ctx, bson.M{"bakery_id": bakeryID})
	if err != nil {
		return nil, queue.Transient(err)
	}
	defer cursor.Close(ctx)

	var breads []bakeryBreadDoc
	if err := cursor.All(ctx, &breads); err != nil {
		return nil, queue.Transient(err)
	}
	if len(breads) == 0 {
		return nil, queue.NotFoundError(queue.ReasonBakeryMissing)
	}

	cfg := &queue.BakeryConfig{
		BakeryID:    bakeryID,
		Token:       doc.Token,
		BakingTimeS: doc.BakingTimeS,
		TimeoutS:    doc.TimeoutSec,
		PrepTimes:   make(map[int]int, len(breads)),
	}
	for _, b := range breads {
		cfg.PrepTimes[b.BreadTypeID] = b.PreparationTime
	}
	return cfg, nil
}

func (j *Journal) ActiveBakeries(ctx context.Context) ([]int, error) {
	cursor, err := j.db.Collection("bakery").Find(ctx, bson.M{"active": true})
	if err != nil {
		return nil, queue.Transient(err)
	}
	defer cursor.Close(ctx)

	var docs []bakeryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, queue.Transient(err)
	}
	ids := make([]int, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

func (j *Journal) SetTimeout(ctx context.Context, bakeryID, timeoutS int) error {
	_, err := j.db.Collection("bakery").UpdateOne(ctx,
		bson.M{"_id": bakeryID},
		bson.M{"$set": bson.M{"timeout_sec": timeoutS}},
	)
	if err != nil {
		return queue.Transient(err)
	}
	return nil
}

func (j *Journal) RegisterCustomer(ctx context.Context, rec queue.CustomerRecord) error {
	date := rec.RegisteredAt.In(j.loc).Format("2006-01-02")
	_, err := j.db.Collection("customer").UpdateOne(ctx,
		bson.M{"_id": rec.ID},
		bson.M{"$set": bson.M{
			"bakery_id":     rec.BakeryID,
			"ticket_id":     rec.TicketNumber,
			"token":         rec.Token,
			"is_in_queue":   rec.InQueue,
			"register_date": date,
			"registered_at": rec.RegisteredAt,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return queue.Transient(err)
	}

	coll := j.db.Collection("customer_bread")
	for breadTypeID, count := range rec.Requirements {
		_, err := coll.UpdateOne(ctx,
			bson.M{"customer_id": rec.ID, "bread_type_id": breadTypeID},
			bson.M{"$set": bson.M{"count": count}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return queue.Transient(err)
		}
	}
	return nil
}

func (j *Journal) SetInQueue(ctx context.Context, bakeryID, ticket int, inQueue bool) error {
	_, err := j.db.Collection("customer").UpdateMany(ctx,
		bson.M{"bakery_id": bakeryID, "ticket_id": ticket, "register_date": j.today()},
		bson.M{"$set": bson.M{"is_in_queue": inQueue}},
	)
	if err != nil {
		return queue.Transient(err)
	}
	return nil
}

func (j *Journal) RecordWaitList(ctx context.Context, bakeryID, ticket int, requirements map[int]int) error {
	_, err := j.db.Collection("wait_list").UpdateOne(ctx,
		bson.M{"bakery_id": bakeryID, "date": j.today(), "ticket_id": ticket},
		bson.M{"$set": bson.M{"requirements": stringKeys(requirements)}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return queue.Transient(err)
	}
	return nil
}

func (j *Journal) RecordBread(ctx context.Context, bakeryID int, bread queue.Bread) error {
	_, err := j.db.Collection("bread").UpdateOne(ctx,
		bson.M{"bakery_id": bakeryID, "bake_date": j.today(), "index": bread.Index},
		bson.M{"$set": bson.M{
			"belongs_to": bread.Owner,
			"baked_at":   bread.ReadyAt,
			"consumed":   false,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return queue.Transient(err)
	}
	return nil
}

func (j *Journal) ConsumeBreads(ctx context.Context, bakeryID, ticket int) error {
	_, err := j.db.Collection("bread").UpdateMany(ctx,
		bson.M{"bakery_id": bakeryID, "bake_date": j.today(), "belongs_to": ticket},
		bson.M{"$set": bson.M{"consumed": true}},
	)
	if err != nil {
		return queue.Transient(err)
	}
	return nil
}

func (j *Journal) SaveSnapshot(ctx context.Context, bakeryID int, date string, state []byte) error {
	_, err := j.db.Collection("queue_state_snapshot").UpdateOne(ctx,
		bson.M{"bakery_id": bakeryID, "snapshot_date": date},
		bson.M{"$set": bson.M{"state_json": string(state), "updated_at": time.Now()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return queue.Transient(err)
	}
	return nil
}

func (j *Journal) LoadSnapshot(ctx context.Context, bakeryID int, date string) ([]byte, error) {
	var doc struct {
		StateJSON string `bson:"state_json"`
	}
	err := j.db.Collection("queue_state_snapshot").
		FindOne(ctx, bson.M{"bakery_id": bakeryID, "snapshot_date": date}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, queue.NotFoundError("no snapshot for date")
	}
	if err != nil {
		return nil, queue.Transient(err)
	}
	return []byte(doc.StateJSON), nil
}

func (j *Journal) LastTicketNumber(ctx context.Context, bakeryID int, date string) (int, error) {
	var doc struct {
		TicketID int `bson:"ticket_id"`
	}
	err := j.db.Collection("customer").
		FindOne(ctx,
			bson.M{"bakery_id": bakeryID, "register_date": date},
			options.FindOne().SetSort(bson.D{{Key: "ticket_id", Value: -1}}),
		).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, queue.Transient(err)
	}
	return doc.TicketID, nil
}

func stringKeys(m map[int]int) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		out[strconv.Itoa(k)] = v
	}
	return out
}
