package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAll(t *testing.T, texts ...string) []*Statement {
	t.Helper()
	out := make([]*Statement, 0, len(texts))
	for _, text := range texts {
		s, err := Parse(text)
		require.NoError(t, err, text)
		out = append(out, s)
	}
	return out
}

func TestResolve_DefaultAndKeyed(t *testing.T) {
	list := parseAll(t,
		"select * from foo",
		"select first from foo where id = `integer:id`",
	)

	got := Resolve(list, nil)
	require.NotNil(t, got)
	assert.Same(t, list[0], got)

	got = Resolve(list, []string{})
	assert.Same(t, list[0], got)

	got = Resolve(list, []string{"id"})
	require.NotNil(t, got)
	assert.Same(t, list[1], got)
	assert.Equal(t, "select first from foo where id = ?", got.PreparedText())
}

func TestResolve(t *testing.T) {
	list := parseAll(t,
		"select * from car where make = `varchar:make`",
		"select * from car where make = `varchar:make` and mpg > `integer:mpg`",
		"call car_report(`varchar:region`, `cursor:cars`)",
		"`integer:total` = call car_count(`varchar:model`, `integer:year`)",
	)

	tests := []struct {
		name string
		keys []string
		want int
	}{
		{"one key", []string{"make"}, 0},
		{"case insensitive", []string{"MAKE"}, 0},
		{"two keys any order", []string{"mpg", "make"}, 1},
		{"callable ignores out parameters", []string{"region"}, 2},
		{"function inputs", []string{"year", "model"}, 3},
		{"function return is not an input", []string{"total"}, -1},
		{"out parameter name is not an input", []string{"region", "cars"}, -1},
		{"unknown key", []string{"color"}, -1},
		{"subset of keys", []string{"mpg"}, -1},
		{"too many keys", []string{"make", "mpg", "year"}, -1},
		{"no keys and no default", nil, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(list, tt.keys)
			if tt.want < 0 {
				assert.Nil(t, got)
				return
			}
			assert.Same(t, list[tt.want], got)
		})
	}
}

func TestResolve_NoArgumentCallable(t *testing.T) {
	list := parseAll(t,
		"select * from car where id = `integer:id`",
		"`integer:total` = call car_count()",
	)
	assert.Same(t, list[1], Resolve(list, nil))

	// A default statement wins over the callable regardless of order.
	list = parseAll(t,
		"`integer:total` = call car_count()",
		"select * from car",
	)
	assert.Same(t, list[1], Resolve(list, nil))
}

func TestResolve_DefaultNeedsEmptyPreparedText(t *testing.T) {
	list := parseAll(t,
		"insert into car (id, make) values (`pkey:id`, 'Lada')",
		"call car_totals(`integer:cars:out`, `integer:makes:out`)",
	)
	assert.Nil(t, Resolve(list, nil))

	list = parseAll(t,
		"insert into car (id, make) values (`pkey:id`, 'Lada')",
		"insert into car (make) values ('Lada')",
	)
	assert.Same(t, list[1], Resolve(list, nil))
}

func TestResolve_CallableInAndOutShareName(t *testing.T) {
	list := parseAll(t, "call restock(`integer:qty`, `integer:qty:out`)")
	assert.Same(t, list[0], Resolve(list, []string{"qty"}))
	assert.Nil(t, Resolve(list, nil))
}

func TestResolve_Deterministic(t *testing.T) {
	list := parseAll(t,
		"select * from car",
		"select * from car where id = `integer:id`",
		"select * from car where make = `varchar:make` and model = `varchar:model`",
	)
	keys := []string{"model", "make"}
	first := Resolve(list, keys)
	for i := 0; i < 50; i++ {
		assert.Same(t, first, Resolve(list, keys))
	}
}

func TestCheckSignatures(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		collide bool
	}{
		{
			name:  "distinct signatures",
			texts: []string{"select * from foo", "select * from foo where id = `integer:id`", "call p(`varchar:name`, `cursor:c`)"},
		},
		{
			name:    "same keys different order",
			texts:   []string{"select * from foo where a = `integer:a` and b = `integer:b`", "select * from bar where b = `integer:b` and a = `integer:a`"},
			collide: true,
		},
		{
			name:    "types are ignored",
			texts:   []string{"select * from foo where id = `integer:id`", "select * from foo where id = `varchar:ID`"},
			collide: true,
		},
		{
			name:    "two unparameterized statements",
			texts:   []string{"select * from foo", "select * from bar"},
			collide: true,
		},
		{
			name:    "unparameterized statement and out-only function",
			texts:   []string{"select * from foo", "`integer:n` = call foo_count()"},
			collide: true,
		},
		{
			name:    "callable inputs against statement keys",
			texts:   []string{"select * from foo where name = `varchar:name`", "call p(`varchar:name`, `cursor:c`)"},
			collide: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSignatures(parseAll(t, tt.texts...))
			if !tt.collide {
				assert.NoError(t, err)
				return
			}
			var collision *SignatureCollisionError
			require.ErrorAs(t, err, &collision)
			assert.Equal(t, tt.texts[0], collision.First)
			assert.Equal(t, tt.texts[1], collision.Second)
		})
	}
}

func TestCheckSignatures_Unreachable(t *testing.T) {
	tests := []struct {
		name        string
		texts       []string
		unreachable bool
	}{
		{name: "primary key only insert", texts: []string{"insert into car (id, make) values (`pkey:id`, 'Lada')"}, unreachable: true},
		{name: "procedure with outs only", texts: []string{"call car_totals(`integer:cars:out`, `cursor:rows`)"}, unreachable: true},
		{name: "procedure with one out", texts: []string{"call car_totals(`cursor:rows`)"}},
		{name: "function without arguments", texts: []string{"`integer:n` = call car_count()"}},
		{name: "insert without markers", texts: []string{"insert into car (make) values ('Lada')"}},
		{name: "primary key insert with values", texts: []string{"insert into car (id, make) values (`pkey:id`, `varchar:make`)"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSignatures(parseAll(t, tt.texts...))
			if !tt.unreachable {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrUnreachableStatement)
			assert.Contains(t, err.Error(), tt.texts[0])
		})
	}
}
