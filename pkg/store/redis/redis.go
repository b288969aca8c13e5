// Package redis stores connection definitions in Redis.
//
// Layout under the key prefix P:
//
//	P:seq          counter for definition ids
//	P:def:<id>     definition as JSON
//	P:ids          sorted set of ids, scored by id
//	P:names        hash of name to id
//	P:history:<id> list of history entries as JSON, oldest first
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/jaxron/conndef/pkg/connection"
	"github.com/jaxron/conndef/pkg/store"
	"github.com/redis/rueidis"
)

// DefaultPrefix is used when no key prefix is configured.
const DefaultPrefix = "conndef"

// releaseTimeout bounds the cleanup after a failed write.
const releaseTimeout = 5 * time.Second

// Keys names the Redis keys used under one prefix.
type Keys struct {
	Prefix string
}

func (k Keys) Seq() string { return k.Prefix + ":seq" }
func (k Keys) IDs() string { return k.Prefix + ":ids" }
func (k Keys) Names() string { return k.Prefix + ":names" }
func (k Keys) Def(id int) string { return k.Prefix + ":def:" + strconv.Itoa(id) }
func (k Keys) History(id int) string { return k.Prefix + ":history:" + strconv.Itoa(id) }

// Store is a store.Store backed by Redis.
type Store struct {
	client rueidis.Client
	keys   Keys
	logger logger.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an existing client.
func New(client rueidis.Client, prefix string, l logger.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if l == nil {
		l = &logger.NoOpLogger{}
	}
	return &Store{client: client, keys: Keys{Prefix: prefix}, logger: l}
}

// Dial creates a client from clientOptions and wraps it.
func Dial(clientOptions rueidis.ClientOption, prefix string, l logger.Logger) (*Store, error) {
	client, err := rueidis.NewClient(clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client: %w", err)
	}
	return New(client, prefix, l), nil
}

// Ping checks that Redis answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// Close releases the client.
func (s *Store) Close() {
	s.client.Close()
}

func (s *Store) Create(ctx context.Context, def *connection.Definition) (int, error) {
	id, err := s.client.Do(ctx, s.client.B().Incr().Key(s.keys.Seq()).Build()).AsInt64()
	if err != nil {
		return 0, err
	}

	claimed, err := s.claimName(ctx, def.Name, int(id))
	if err != nil {
		return 0, err
	}
	if !claimed {
		return 0, store.ErrNameExists
	}

	def.ID = int(id)
	data, err := Encode(def)
	if err != nil {
		s.releaseName(ctx, def.Name, def.ID)
		return 0, err
	}

	err = s.exec(ctx,
		s.client.B().Set().Key(s.keys.Def(def.ID)).Value(rueidis.BinaryString(data)).Build(),
		s.client.B().Zadd().Key(s.keys.IDs()).ScoreMember().ScoreMember(float64(def.ID), strconv.Itoa(def.ID)).Build(),
	)
	if err != nil {
		s.releaseName(ctx, def.Name, def.ID)
		return 0, err
	}

	s.logger.WithFields(logger.Int("id", def.ID), logger.String("name", def.Name)).Debug("Created connection definition")
	return def.ID, nil
}

// Update replaces the stored definition. A rename claims the new name first
// and drops the old one in the same transaction as the write.
func (s *Store) Update(ctx context.Context, def *connection.Definition) error {
	current, err := s.Get(ctx, def.ID)
	if err != nil {
		return err
	}

	renamed := current.Name != def.Name
	if renamed {
		claimed, err := s.claimName(ctx, def.Name, def.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return store.ErrNameExists
		}
	}

	data, err := Encode(def)
	if err != nil {
		if renamed {
			s.releaseName(ctx, def.Name, def.ID)
		}
		return err
	}

	cmds := rueidis.Commands{s.client.B().Set().Key(s.keys.Def(def.ID)).Value(rueidis.BinaryString(data)).Build()}
	if renamed {
		cmds = append(cmds, s.client.B().Hdel().Key(s.keys.Names()).Field(current.Name).Build())
	}
	if err := s.exec(ctx, cmds...); err != nil {
		if renamed {
			s.releaseName(ctx, def.Name, def.ID)
		}
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int) (*connection.Definition, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.keys.Def(id)).Build()).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return Decode(data)
}

func (s *Store) GetByName(ctx context.Context, name string) (*connection.Definition, error) {
	id, err := s.client.Do(ctx, s.client.B().Hget().Key(s.keys.Names()).Field(name).Build()).AsInt64()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s.Get(ctx, int(id))
}

func (s *Store) List(ctx context.Context, search string) ([]*connection.Definition, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	return store.Filter(all, search), nil
}

func (s *Store) Page(ctx context.Context, search string, pageNo, pageSize int) ([]*connection.Definition, int, error) {
	matched, err := s.List(ctx, search)
	if err != nil {
		return nil, 0, err
	}
	return store.Slice(matched, pageNo, pageSize), len(matched), nil
}

func (s *Store) AppendHistory(ctx context.Context, entry *connection.HistoryEntry) error {
	data, err := sonic.Marshal(entry)
	if err != nil {
		return err
	}
	cmd := s.client.B().Rpush().Key(s.keys.History(entry.ConnectionDefinitionID)).Element(rueidis.BinaryString(data)).Build()
	return s.client.Do(ctx, cmd).Error()
}

func (s *Store) History(ctx context.Context, id int) ([]*connection.HistoryEntry, error) {
	raw, err := s.client.Do(ctx, s.client.B().Lrange().Key(s.keys.History(id)).Start(0).Stop(-1).Build()).AsStrSlice()
	if err != nil {
		return nil, err
	}

	entries := make([]*connection.HistoryEntry, 0, len(raw))
	for _, r := range raw {
		var e connection.HistoryEntry
		if err := sonic.UnmarshalString(r, &e); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// all loads every stored definition in id order.
func (s *Store) all(ctx context.Context) ([]*connection.Definition, error) {
	ids, err := s.client.Do(ctx, s.client.B().Zrange().Key(s.keys.IDs()).Min("0").Max("-1").Build()).AsStrSlice()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*connection.Definition{}, nil
	}

	keys := make([]string, len(ids))
	for i, raw := range ids {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("bad id %q in %s: %w", raw, s.keys.IDs(), err)
		}
		keys[i] = s.keys.Def(id)
	}

	values, err := s.client.Do(ctx, s.client.B().Mget().Key(keys...).Build()).ToArray()
	if err != nil {
		return nil, err
	}

	defs := make([]*connection.Definition, 0, len(values))
	for i, v := range values {
		data, err := v.AsBytes()
		if err != nil {
			if rueidis.IsRedisNil(err) {
				s.logger.WithFields(logger.String("key", keys[i])).Warn("Indexed connection definition is missing")
				continue
			}
			return nil, err
		}
		def, err := Decode(data)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// exec runs cmds inside MULTI/EXEC and returns the first error.
func (s *Store) exec(ctx context.Context, cmds ...rueidis.Completed) error {
	tx := make(rueidis.Commands, 0, len(cmds)+2)
	tx = append(tx, s.client.B().Multi().Build())
	tx = append(tx, cmds...)
	tx = append(tx, s.client.B().Exec().Build())

	resps := s.client.DoMulti(ctx, tx...)
	for _, resp := range resps {
		if err := resp.Error(); err != nil {
			return err
		}
	}

	// EXEC answers with one reply per queued command
	replies, err := resps[len(resps)-1].ToArray()
	if err != nil {
		return err
	}
	for _, r := range replies {
		if err := r.Error(); err != nil {
			return err
		}
	}
	return nil
}

// releaseName drops the claim of id on name. It runs even when ctx is done,
// since it undoes a claim made under ctx.
func (s *Store) releaseName(ctx context.Context, name string, id int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	holder, err := s.client.Do(ctx, s.client.B().Hget().Key(s.keys.Names()).Field(name).Build()).AsInt64()
	if err != nil || int(holder) != id {
		return
	}
	if err := s.client.Do(ctx, s.client.B().Hdel().Key(s.keys.Names()).Field(name).Build()).Error(); err != nil {
		s.logger.WithFields(logger.String("name", name), logger.Int("id", id), logger.Err(err)).Error("Releasing name claim failed")
	}
}

// claimName records name for id unless another id holds it already.
func (s *Store) claimName(ctx context.Context, name string, id int) (bool, error) {
	set, err := s.client.Do(ctx, s.client.B().Hsetnx().Key(s.keys.Names()).Field(name).Value(strconv.Itoa(id)).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	if set == 1 {
		return true, nil
	}

	holder, err := s.client.Do(ctx, s.client.B().Hget().Key(s.keys.Names()).Field(name).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return int(holder) == id, nil
}

// Encode serializes a definition the way it is stored.
func Encode(def *connection.Definition) ([]byte, error) {
	return sonic.Marshal(def)
}

// Decode parses a stored definition.
func Decode(data []byte) (*connection.Definition, error) {
	var def connection.Definition
	if err := sonic.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return &def, nil
}
