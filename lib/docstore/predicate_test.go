package docstore

import (
	"encoding/json"
	"errors"
	"testing"
)

func mustDoc(t *testing.T, s string) Document {
	t.Helper()
	var doc Document
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		t.Fatalf("bad test document %q: %v", s, err)
	}
	return doc
}

func TestPredicateMatch(t *testing.T) {
	doc := mustDoc(t, `{
		"name": "The Forest Hiker",
		"price": 397,
		"difficulty": "easy",
		"startDates": ["2021-04-25T09:00:00.000Z", "2021-07-20T09:00:00.000Z"],
		"startLocation": {"address": "Banff, CAN", "coordinates": [-115.57, 51.17]},
		"secretTour": false
	}`)

	testcases := []struct {
		predicate Predicate
		want      bool
	}{
		{Predicate{"price": 397.0}, true},
		{Predicate{"price": map[string]interface{}{"$gte": 397.0}}, true},
		{Predicate{"price": map[string]interface{}{"$gt": 397.0}}, false},
		{Predicate{"price": map[string]interface{}{"$gte": 100.0, "$lt": 400.0}}, true},
		{Predicate{"price": map[string]interface{}{"$lt": "1000"}}, false},
		{Predicate{"difficulty": map[string]interface{}{"$in": []interface{}{"easy", "medium"}}}, true},
		{Predicate{"difficulty": map[string]interface{}{"$nin": []interface{}{"easy"}}}, false},
		{Predicate{"startDates": "2021-07-20T09:00:00.000Z"}, true},
		{Predicate{"startDates": map[string]interface{}{"$gte": "2021-06-01"}}, true},
		{Predicate{"startLocation.address": "Banff, CAN"}, true},
		{Predicate{"startLocation": map[string]interface{}{"address": "Banff, CAN"}}, false},
		{Predicate{"secretTour": map[string]interface{}{"$ne": true}}, true},
		{Predicate{"missing": nil}, true},
		{Predicate{"missing": map[string]interface{}{"$ne": true}}, true},
		{Predicate{"missing": map[string]interface{}{"$gt": 0.0}}, false},
		{Predicate{"$or": []interface{}{
			map[string]interface{}{"price": 1.0},
			map[string]interface{}{"difficulty": "easy"},
		}}, true},
		{Predicate{"$and": []interface{}{
			map[string]interface{}{"price": 397.0},
			map[string]interface{}{"difficulty": "hard"},
		}}, false},
	}

	for i, tc := range testcases {
		node, err := ParsePredicate(tc.predicate)
		if err != nil {
			t.Fatalf("[%d] ParsePredicate(%v) error: %v", i, tc.predicate, err)
		}
		if got := node.Match(doc); got != tc.want {
			t.Errorf("[%d] %v: got %v want %v", i, tc.predicate, got, tc.want)
		}
	}
}

func TestParsePredicateRejects(t *testing.T) {
	testcases := []Predicate{
		{"$where": "1"},
		{"price": map[string]interface{}{"$regex": "x"}},
		{"price": map[string]interface{}{"$gte": 1.0, "plain": 2.0}},
		{"price": map[string]interface{}{"$in": 5.0}},
		{"price": map[string]interface{}{"$gt": map[string]interface{}{"a": 1.0}}},
		{"$or": "price"},
		{"": 1.0},
	}

	for i, p := range testcases {
		_, err := ParsePredicate(p)
		var qerr *QueryError
		if !errors.As(err, &qerr) {
			t.Errorf("[%d] ParsePredicate(%v) = %v, want QueryError", i, p, err)
		}
	}
}

func TestCompareValuesOrdersAcrossTypes(t *testing.T) {
	ordered := []interface{}{
		nil,
		-3.0,
		2.0,
		"apple",
		"banana",
		map[string]interface{}{"a": 1.0},
		[]interface{}{1.0},
		false,
		true,
	}
	for i := 0; i+1 < len(ordered); i++ {
		if c := CompareValues(ordered[i], ordered[i+1]); c != -1 {
			t.Errorf("CompareValues(%v, %v) = %d, want -1", ordered[i], ordered[i+1], c)
		}
		if c := CompareValues(ordered[i+1], ordered[i]); c != 1 {
			t.Errorf("CompareValues(%v, %v) = %d, want 1", ordered[i+1], ordered[i], c)
		}
	}
}
