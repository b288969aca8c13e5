package client_test

import (
	"testing"

	"github.com/jaxron/conndef/pkg/client"
	"github.com/jaxron/conndef/pkg/params"
	"github.com/stretchr/testify/assert"
)

func TestQuery(t *testing.T) {
	t.Parallel()

	t.Run("Get", func(t *testing.T) {
		t.Parallel()

		q := client.Query{
			{Key: "foo", Value: "bar"},
			{Key: "baz", Value: "qux"},
			{Key: "baz", Value: "quux"},
		}

		assert.Equal(t, "bar", q.Get("foo"))
		assert.Equal(t, "qux", q.Get("baz"))
		assert.Equal(t, "", q.Get("nonexistent"))
		assert.True(t, q.Has("baz"))
		assert.False(t, q.Has("nonexistent"))
	})

	t.Run("Set", func(t *testing.T) {
		t.Parallel()

		q := client.Query{}

		q.Set("foo", "bar")
		assert.Equal(t, client.Query{{Key: "foo", Value: "bar"}}, q)

		q.Add("other", "1")
		q.Add("foo", "again")
		q.Set("foo", "baz")
		assert.Equal(t, client.Query{
			{Key: "foo", Value: "baz"},
			{Key: "other", Value: "1"},
		}, q)
	})

	t.Run("Add", func(t *testing.T) {
		t.Parallel()

		q := client.Query{}

		q.Add("foo", "bar")
		q.Add("foo", "baz")
		assert.Equal(t, client.Query{
			{Key: "foo", Value: "bar"},
			{Key: "foo", Value: "baz"},
		}, q)

		q.Add("", "ignored")
		assert.Len(t, q, 2)
	})

	t.Run("AddPairs keeps bare pairs bare", func(t *testing.T) {
		t.Parallel()

		q := client.Query{}
		q.AddPairs(
			params.Pair{Key: "flag", Bare: true},
			params.Pair{Key: "", Value: "x"},
			params.Pair{Key: "a", Value: "1"},
		)

		assert.Equal(t, "flag&a=1", q.Encode())
	})

	t.Run("Encode", func(t *testing.T) {
		t.Parallel()

		q := client.Query{
			{Key: "foo", Value: "bar"},
			{Key: "baz", Value: "qux"},
			{Key: "baz", Value: "quux"},
			{Key: "empty", Value: ""},
			{Key: "space", Value: "hello world"},
			{Key: "special", Value: "!@#$%^&*()"},
		}

		assert.Equal(t,
			"foo=bar&baz=qux&baz=quux&empty=&space=hello+world&special=%21%40%23%24%25%5E%26%2A%28%29",
			q.Encode(),
		)
	})

	t.Run("Encode empty query", func(t *testing.T) {
		t.Parallel()

		q := client.Query{}
		assert.Equal(t, "", q.Encode())
	})
}
