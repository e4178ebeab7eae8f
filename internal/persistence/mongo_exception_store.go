package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/caseflow/pkg/api"
)

// MongoExceptionStore keeps case exceptions in a MongoDB collection.
// Exceptions are documents with no cross-row invariants, so they fit a
// document store well; instances and step records stay in SQL.
type MongoExceptionStore struct {
	coll *mongo.Collection
}

var _ ExceptionStore = (*MongoExceptionStore)(nil)

// NewMongoExceptionStore creates a Mongo-backed exception store.
// dbName defaults to "caseflow", collName to "case_exceptions".
func NewMongoExceptionStore(client *mongo.Client, dbName, collName string) *MongoExceptionStore {
	if dbName == "" {
		dbName = "caseflow"
	}
	if collName == "" {
		collName = "case_exceptions"
	}
	return &MongoExceptionStore{
		coll: client.Database(dbName).Collection(collName),
	}
}

type mongoExceptionDoc struct {
	ID                string     `bson:"_id"`
	Type              string     `bson:"type"`
	Severity          string     `bson:"severity"`
	Description       string     `bson:"description"`
	AffectedEntityIDs []string   `bson:"affected_entity_ids,omitempty"`
	Status            string     `bson:"status"`
	DetectedAt        time.Time  `bson:"detected_at"`
	ResolvedAt        *time.Time `bson:"resolved_at,omitempty"`
	ResolvedBy        string     `bson:"resolved_by,omitempty"`
}

func toExceptionDoc(ex *api.CaseException) mongoExceptionDoc {
	return mongoExceptionDoc{
		ID:                ex.ID,
		Type:              string(ex.Type),
		Severity:          string(ex.Severity),
		Description:       ex.Description,
		AffectedEntityIDs: ex.AffectedEntityIDs,
		Status:            string(ex.Status),
		DetectedAt:        ex.DetectedAt.UTC(),
		ResolvedAt:        ex.ResolvedAt,
		ResolvedBy:        ex.ResolvedBy,
	}
}

func (d mongoExceptionDoc) toException() *api.CaseException {
	ex := &api.CaseException{
		ID:                d.ID,
		Type:              api.ExceptionType(d.Type),
		Severity:          api.Severity(d.Severity),
		Description:       d.Description,
		AffectedEntityIDs: d.AffectedEntityIDs,
		Status:            api.ExceptionStatus(d.Status),
		DetectedAt:        d.DetectedAt.UTC(),
		ResolvedBy:        d.ResolvedBy,
	}
	if d.ResolvedAt != nil {
		t := d.ResolvedAt.UTC()
		ex.ResolvedAt = &t
	}
	return ex
}

func (s *MongoExceptionStore) SaveException(ctx context.Context, ex *api.CaseException) error {
	_, err := s.coll.InsertOne(ctx, toExceptionDoc(ex))
	return err
}

func (s *MongoExceptionStore) GetException(ctx context.Context, id string) (*api.CaseException, error) {
	var doc mongoExceptionDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, api.ErrExceptionNotFound
		}
		return nil, err
	}
	return doc.toException(), nil
}

func (s *MongoExceptionStore) ListExceptions(ctx context.Context, filter api.ExceptionFilter) ([]*api.CaseException, error) {
	bfilter := bson.M{}
	if filter.Type != "" {
		bfilter["type"] = string(filter.Type)
	}
	if filter.Status != "" {
		bfilter["status"] = string(filter.Status)
	}
	if filter.Severity != "" {
		bfilter["severity"] = string(filter.Severity)
	}

	opts := options.Find().SetSort(bson.D{{Key: "detected_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, bfilter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []*api.CaseException
	for cur.Next(ctx) {
		var doc mongoExceptionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		results = append(results, doc.toException())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *MongoExceptionStore) ResolveException(ctx context.Context, id, actor string, at time.Time) (*api.CaseException, error) {
	at = at.UTC()
	update := bson.M{
		"$set": bson.M{
			"status":      string(api.ExceptionResolved),
			"resolved_at": at,
			"resolved_by": actor,
		},
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id, "status": string(api.ExceptionOpen)}, update)
	if err != nil {
		return nil, err
	}

	ex, err := s.GetException(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, api.ErrExceptionResolved
	}
	return ex, nil
}
