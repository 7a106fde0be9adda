package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"tasklist-api/domain"
)

const (
	// Timeout operations after N seconds
	mongoConnectTimeout = 10 * time.Second
	defaultMongoDB      = "tasklist"
)

// Mongo stores tasks as documents in a MongoDB collection.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type taskDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Text      string             `bson:"text"`
	Completed bool               `bson:"completed"`
	Owner     string             `bson:"owner,omitempty"`
	CreatedAt int64              `bson:"createdAt"`
}

func (d taskDocument) task() domain.Task {
	return domain.Task{
		ID:        d.ID.Hex(),
		Text:      d.Text,
		Completed: d.Completed,
		Owner:     d.Owner,
		CreatedAt: d.CreatedAt,
	}
}

// NewMongo connects to the deployment at uri, authenticating as username
// with accessKey. The database comes from the URI path, defaulting to
// "tasklist".
func NewMongo(ctx context.Context, uri, username, accessKey, collection string) (*Mongo, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, fmt.Errorf("mongo uri: %w", err)
	}
	database := cs.Database
	if database == "" {
		database = defaultMongoDB
	}

	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	opts := options.Client().ApplyURI(uri).SetAuth(options.Credential{
		Username: username,
		Password: accessKey,
	})
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	// Force a connection to verify the connection string
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo index: %w", err)
	}
	return &Mongo{client: client, coll: coll}, nil
}

func ownerFilter(owner string) bson.M {
	if owner == "" {
		return bson.M{}
	}
	return bson.M{"owner": owner}
}

// idFilter matches a single visible task. ok is false when id cannot be an
// ObjectID, in which case nothing can match.
func idFilter(owner, id string) (filter bson.M, ok bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, false
	}
	filter = ownerFilter(owner)
	filter["_id"] = oid
	return filter, true
}

func patchUpdate(patch domain.TaskPatch) bson.M {
	set := bson.M{}
	if patch.Text != nil {
		set["text"] = *patch.Text
	}
	if patch.Completed != nil {
		set["completed"] = *patch.Completed
	}
	return bson.M{"$set": set}
}

// ListTasks returns tasks newest first.
func (m *Mongo) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := m.coll.Find(ctx, ownerFilter(owner), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []taskDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(docs))
	for _, d := range docs {
		tasks = append(tasks, d.task())
	}
	return tasks, nil
}

func (m *Mongo) InsertTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	doc := taskDocument{
		ID:        primitive.NewObjectID(),
		Text:      task.Text,
		Completed: task.Completed,
		Owner:     task.Owner,
		CreatedAt: domain.NextTimestamp(),
	}
	if _, err := m.coll.InsertOne(ctx, doc); err != nil {
		return domain.Task{}, err
	}
	return doc.task(), nil
}

func (m *Mongo) UpdateTask(ctx context.Context, owner, id string, patch domain.TaskPatch) (domain.Task, error) {
	filter, ok := idFilter(owner, id)
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}

	var res *mongo.SingleResult
	if patch.Empty() {
		res = m.coll.FindOne(ctx, filter)
	} else {
		after := options.After
		res = m.coll.FindOneAndUpdate(ctx, filter, patchUpdate(patch), &options.FindOneAndUpdateOptions{ReturnDocument: &after})
	}

	var doc taskDocument
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Task{}, domain.ErrNotFound
		}
		return domain.Task{}, err
	}
	return doc.task(), nil
}

func (m *Mongo) DeleteTask(ctx context.Context, owner, id string) error {
	filter, ok := idFilter(owner, id)
	if !ok {
		return domain.ErrNotFound
	}
	res, err := m.coll.DeleteOne(ctx, filter)
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
