package mongostore

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/steinarvk/natours/lib/docstore"
)

var schema = &docstore.Schema{
	Collection: "tours",
	Fields: []docstore.Field{
		{Name: "price", Kind: docstore.Number},
		{Name: "difficulty", Kind: docstore.String},
		{Name: "secretTour", Kind: docstore.Boolean},
	},
	PreFind: []docstore.Predicate{{"secretTour": map[string]interface{}{"$ne": true}}},
}

func TestFilterDocument(t *testing.T) {
	compiled, err := schema.Compile(docstore.NewQuery().Find(docstore.Predicate{
		"price":      map[string]interface{}{"$gte": "100"},
		"difficulty": []interface{}{"easy", "medium"},
	}))
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}

	got, err := filterDocument(compiled.Filter)
	if err != nil {
		t.Fatalf("filterDocument error: %v", err)
	}

	want := bson.M{"$and": bson.A{
		bson.M{"secretTour": bson.M{"$ne": true}},
		bson.M{"$and": bson.A{
			bson.M{"difficulty": bson.M{"$in": []interface{}{"easy", "medium"}}},
			bson.M{"price": bson.M{"$gte": 100.0}},
		}},
	}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v\nwant %#v", got, want)
	}
}

func TestFilterDocumentEmpty(t *testing.T) {
	compiled, err := schema.Compile(docstore.NewQuery().WithoutMiddleware())
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	got, err := filterDocument(compiled.Filter)
	if err != nil {
		t.Fatalf("filterDocument error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty filter, got %v", got)
	}
}

func TestSortAndProjectionDocuments(t *testing.T) {
	sortDoc := sortDocument([]docstore.CompiledSortKey{{Field: "price", Descending: true}, {Field: "name"}})
	if !reflect.DeepEqual(sortDoc, bson.D{{Key: "price", Value: -1}, {Key: "name", Value: 1}}) {
		t.Fatalf("unexpected sort %v", sortDoc)
	}

	proj := projectionDocument(docstore.CompiledProjection{Inclusive: true, Fields: []string{"name"}, ExcludeID: true})
	if !reflect.DeepEqual(proj, bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 0}}) {
		t.Fatalf("unexpected projection %v", proj)
	}
}

func TestParseDuplicateKeyMessage(t *testing.T) {
	err := parseDuplicateKeyMessage("tours", `E11000 duplicate key error collection: natours.tours index: name_1 dup key: { name: "The Forest Hiker" }`)
	if err.Index != "name_1" || err.Value != "The Forest Hiker" || !reflect.DeepEqual(err.Fields, []string{"name"}) {
		t.Fatalf("unexpected %+v", err)
	}
}

func TestNormalize(t *testing.T) {
	when := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	got := normalize(bson.M{
		"n":    int32(3),
		"when": primitive.NewDateTimeFromTime(when),
		"list": bson.A{int64(1), bson.D{{Key: "a", Value: "b"}}},
	})
	want := map[string]interface{}{
		"n":    3.0,
		"when": "2021-03-04T05:06:07.000Z",
		"list": []interface{}{1.0, map[string]interface{}{"a": "b"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestInsertedBeforeFailure(t *testing.T) {
	docs := []docstore.Document{{"_id": "a"}, {"_id": "b"}, {"_id": "c"}}

	dup := func(index int) mongo.WriteError {
		return mongo.WriteError{Index: index, Code: 11000, Message: "E11000 duplicate key error"}
	}

	testcases := []struct {
		err   error
		ids   bson.A
		known bool
	}{
		{mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{{WriteError: dup(0)}}}, bson.A{}, true},
		{mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{{WriteError: dup(2)}}}, bson.A{"a", "b"}, true},
		{fmt.Errorf("insert: %w", mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{{WriteError: dup(1)}}}), bson.A{"a"}, true},
		{mongo.BulkWriteException{}, nil, false},
		{errors.New("connection reset"), nil, false},
	}

	for _, tc := range testcases {
		ids, known := insertedBeforeFailure(docs, tc.err)
		if known != tc.known || !reflect.DeepEqual(ids, tc.ids) {
			t.Fatalf("insertedBeforeFailure(%v) = %v, %v; want %v, %v", tc.err, ids, known, tc.ids, tc.known)
		}
	}
}
