package storage

import (
	"path/filepath"
	"testing"

	"github.com/frankban/quicktest"
)

func TestSaveStateGetSetRoundTrip(t *testing.T) {
	c := quicktest.New(t)
	path := filepath.Join(t.TempDir(), "save.bolt")
	s, err := Open(path)
	c.Assert(err, quicktest.IsNil)
	defer s.Close()

	_, ok, err := s.Get("world_chunks")
	c.Assert(err, quicktest.IsNil)
	c.Assert(ok, quicktest.IsFalse)

	c.Assert(s.Set("world_chunks", []byte("hello")), quicktest.IsNil)
	data, ok, err := s.Get("world_chunks")
	c.Assert(err, quicktest.IsNil)
	c.Assert(ok, quicktest.IsTrue)
	c.Assert(string(data), quicktest.Equals, "hello")
}

func TestSaveStateDeleteAndForEach(t *testing.T) {
	c := quicktest.New(t)
	path := filepath.Join(t.TempDir(), "save.bolt")
	s, err := Open(path)
	c.Assert(err, quicktest.IsNil)
	defer s.Close()

	c.Assert(s.Set("a", []byte("1")), quicktest.IsNil)
	c.Assert(s.Set("b", []byte("2")), quicktest.IsNil)

	seen := map[string]string{}
	c.Assert(s.ForEach(func(key string, data []byte) error {
		seen[key] = string(data)
		return nil
	}), quicktest.IsNil)
	c.Assert(seen, quicktest.DeepEquals, map[string]string{"a": "1", "b": "2"})

	c.Assert(s.Delete("a"), quicktest.IsNil)
	_, ok, err := s.Get("a")
	c.Assert(err, quicktest.IsNil)
	c.Assert(ok, quicktest.IsFalse)
}

func TestSaveStateReopenPersists(t *testing.T) {
	c := quicktest.New(t)
	path := filepath.Join(t.TempDir(), "save.bolt")
	s, err := Open(path)
	c.Assert(err, quicktest.IsNil)
	c.Assert(s.Set("k", []byte("v")), quicktest.IsNil)
	c.Assert(s.Close(), quicktest.IsNil)

	reopened, err := Open(path)
	c.Assert(err, quicktest.IsNil)
	defer reopened.Close()
	data, ok, err := reopened.Get("k")
	c.Assert(err, quicktest.IsNil)
	c.Assert(ok, quicktest.IsTrue)
	c.Assert(string(data), quicktest.Equals, "v")
}
