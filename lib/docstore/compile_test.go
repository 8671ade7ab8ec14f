package docstore

import (
	"errors"
	"reflect"
	"testing"
)

func testSchema() *Schema {
	return &Schema{
		Collection: "tours",
		Fields: []Field{
			{Name: "name", Kind: String, Required: true, Trim: true, Unique: true,
				MinLength: Bound(3, ""), MaxLength: Bound(40, "A tour name must have less or equal then 40 characters")},
			{Name: "price", Kind: Number, Required: true, RequiredMessage: "A tour must have a price"},
			{Name: "difficulty", Kind: String, Enum: []string{"easy", "medium", "difficult"}},
			{Name: "ratingsAverage", Kind: Number, Default: func() interface{} { return 4.5 },
				Min: Bound(1, ""), Max: Bound(5, "")},
			{Name: "priceDiscount", Kind: Number, Validators: []Validator{{
				Check: func(doc Document, value interface{}) bool {
					price, _ := toFloat(doc["price"])
					discount, _ := toFloat(value)
					return discount < price
				},
				Message: "Discount price ({VALUE}) should be below regular price",
			}}},
			{Name: "startDates", Kind: Date, Array: true},
			{Name: "guides", Kind: ObjectID, Array: true},
			{Name: "startLocation", Kind: Object, Fields: []Field{
				{Name: "type", Kind: String, Default: func() interface{} { return "Point" }},
				{Name: "description", Kind: String},
			}},
			{Name: "secretTour", Kind: Boolean, Default: func() interface{} { return false }},
			{Name: "createdAt", Kind: Date, Hidden: true},
		},
		PreFind: []Predicate{{"secretTour": map[string]interface{}{"$ne": true}}},
	}
}

func TestCompileCastsOperands(t *testing.T) {
	q := NewQuery().Find(Predicate{
		"price":      map[string]interface{}{"$gte": "500"},
		"difficulty": []interface{}{"easy", "medium"},
	})

	compiled, err := testSchema().Compile(q)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}

	root := compiled.Filter.(*LogicalNode)
	if len(root.Children) != 2 {
		t.Fatalf("expected PreFind and user predicates, got %d children", len(root.Children))
	}

	user := root.Children[1].(*LogicalNode)
	difficulty := user.Children[0].(*FieldNode)
	if difficulty.Operator != OpIn || difficulty.Kind != String {
		t.Fatalf("expected $in on String for array operand, got %s on %s", difficulty.Operator, difficulty.Kind)
	}
	price := user.Children[1].(*FieldNode)
	if price.Value != 500.0 {
		t.Fatalf("expected price operand cast to 500, got %#v", price.Value)
	}
}

func TestCompileWithoutMiddleware(t *testing.T) {
	compiled, err := testSchema().Compile(NewQuery().WithoutMiddleware())
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	if n := len(compiled.Filter.(*LogicalNode).Children); n != 0 {
		t.Fatalf("expected no predicates, got %d", n)
	}
}

func TestCompileReportsCastErrors(t *testing.T) {
	testcases := []Predicate{
		{"price": map[string]interface{}{"$lt": "cheap"}},
		{"_id": "not-an-id"},
		{"startDates": map[string]interface{}{"$gte": "someday"}},
	}
	for i, p := range testcases {
		_, err := testSchema().Compile(NewQuery().Find(p))
		var cerr *CastError
		if !errors.As(err, &cerr) {
			t.Errorf("[%d] expected CastError, got %v", i, err)
		}
	}
}

func TestCompileUnknownFieldsAreNotCast(t *testing.T) {
	compiled, err := testSchema().Compile(NewQuery().Find(Predicate{"nonsense": "42"}).WithoutMiddleware())
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	node := compiled.Filter.(*LogicalNode).Children[0].(*LogicalNode).Children[0].(*FieldNode)
	if node.Kind != Mixed || node.Value != "42" {
		t.Fatalf("unexpected node %+v", node)
	}
}

func TestCompileRejectsNegativePagination(t *testing.T) {
	for _, q := range []Query{NewQuery().Skip(-10), NewQuery().Limit(-1)} {
		_, err := testSchema().Compile(q)
		var qerr *QueryError
		if !errors.As(err, &qerr) {
			t.Errorf("expected QueryError, got %v", err)
		}
	}
}

func TestCompileProjection(t *testing.T) {
	testcases := []struct {
		fields []ProjectionField
		want   CompiledProjection
	}{
		{nil, CompiledProjection{Fields: []string{"createdAt"}}},
		{Exclude("__v"), CompiledProjection{Fields: []string{"__v", "createdAt"}}},
		{Include("name", "price"), CompiledProjection{Inclusive: true, Fields: []string{"name", "price"}}},
		{ParseProjection([]string{"name", "-_id"}), CompiledProjection{Inclusive: true, Fields: []string{"name"}, ExcludeID: true}},
		{Include("createdAt"), CompiledProjection{Inclusive: true, Fields: []string{"createdAt"}}},
	}

	for i, tc := range testcases {
		got, err := testSchema().compileProjection(tc.fields)
		if err != nil {
			t.Fatalf("[%d] compileProjection error: %v", i, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("[%d] got %+v want %+v", i, got, tc.want)
		}
	}
}

func TestCompileRejectsMixedProjection(t *testing.T) {
	_, err := testSchema().Compile(NewQuery().Select(ParseProjection([]string{"name", "-price"})...))
	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected QueryError, got %v", err)
	}
}

func TestProjectionApply(t *testing.T) {
	doc := mustDoc(t, `{"_id": "x", "name": "n", "price": 1, "startLocation": {"type": "Point", "description": "d"}}`)

	got := CompiledProjection{Inclusive: true, Fields: []string{"name", "startLocation.description"}}.Apply(doc)
	want := mustDoc(t, `{"_id": "x", "name": "n", "startLocation": {"description": "d"}}`)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("inclusive: got %v want %v", got, want)
	}

	got = CompiledProjection{Fields: []string{"price", "_id"}}.Apply(doc)
	want = mustDoc(t, `{"name": "n", "startLocation": {"type": "Point", "description": "d"}}`)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("exclusive: got %v want %v", got, want)
	}

	if _, ok := doc["price"]; !ok {
		t.Fatalf("Apply modified its input")
	}
}

func TestQueryIsImmutable(t *testing.T) {
	base := NewQuery().Find(Predicate{"price": 1.0}).Sort(ParseSortKey("price"))
	a := base.Find(Predicate{"difficulty": "easy"}).Sort(ParseSortKey("-price")).Skip(10).Limit(5)
	b := base.Select(Include("name")...)

	if n := len(base.Predicates()); n != 1 {
		t.Fatalf("base has %d predicates, want 1", n)
	}
	if keys := base.SortKeys(); len(keys) != 1 || keys[0].Descending {
		t.Fatalf("base sort modified: %v", keys)
	}
	if skip, limit := base.Pagination(); skip != 0 || limit != 0 {
		t.Fatalf("base pagination modified: %d %d", skip, limit)
	}
	if len(base.Projection()) != 0 || len(b.Projection()) != 1 {
		t.Fatalf("projection leaked between branches")
	}
	if keys := a.SortKeys(); len(keys) != 1 || !keys[0].Descending {
		t.Fatalf("expected merged descending key, got %v", keys)
	}
}
