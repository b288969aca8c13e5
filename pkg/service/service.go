// Package service implements the operations on saved connection definitions.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/jaxron/conndef/pkg/connection"
	"github.com/jaxron/conndef/pkg/metrics"
	"github.com/jaxron/conndef/pkg/store"
	"github.com/jaxron/conndef/pkg/tester"
)

var (
	ErrNotFound           = store.ErrNotFound
	ErrNameExists         = store.ErrNameExists
	ErrDescriptionTooLong = errors.New("description is too long")
	ErrInvalidPage        = errors.New("invalid page")
)

// Config limits what Connections accepts.
type Config struct {
	MaxDescriptionLength int `mapstructure:"maxDescriptionLength"`
	MaxPageSize          int `mapstructure:"maxPageSize"`
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{MaxDescriptionLength: 255, MaxPageSize: 100}
}

// Tester sends the request a definition describes.
type Tester interface {
	Test(ctx context.Context, def *connection.Definition) (*tester.Result, error)
}

// PageInfo is one page of definitions.
type PageInfo struct {
	TotalList   []*connection.Definition `json:"totalList"`
	Total       int                      `json:"total"`
	CurrentPage int                      `json:"currentPage"`
	PageSize    int                      `json:"pageSize"`
	TotalPage   int                      `json:"totalPage"`
}

// Connections manages connection definitions.
type Connections struct {
	store  store.Store
	tester Tester
	cfg    Config
	logger logger.Logger
	now    func() time.Time
}

// New creates a Connections service. Zero limits in cfg take their defaults.
func New(s store.Store, t Tester, cfg Config, l logger.Logger) *Connections {
	def := DefaultConfig()
	if cfg.MaxDescriptionLength <= 0 {
		cfg.MaxDescriptionLength = def.MaxDescriptionLength
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = def.MaxPageSize
	}
	if l == nil {
		l = &logger.NoOpLogger{}
	}
	return &Connections{store: s, tester: t, cfg: cfg, logger: l, now: time.Now}
}

// Save creates the definition described by f, or updates it when f carries
// an id. Names are unique. An update bumps the version number and, once
// stored, appends the replaced version to the history.
func (c *Connections) Save(ctx context.Context, f *connection.Form) (*connection.Definition, error) {
	def, err := f.Definition()
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(def.Description) > c.cfg.MaxDescriptionLength {
		c.logger.WithFields(logger.String("name", def.Name)).Warn("Parameter description is too long")
		return nil, ErrDescriptionTooLong
	}

	if def.ID > 0 {
		err = c.update(ctx, def)
		metrics.RecordSave("update", err)
	} else {
		err = c.create(ctx, def)
		metrics.RecordSave("create", err)
	}
	if err != nil {
		return nil, err
	}
	return def, nil
}

func (c *Connections) create(ctx context.Context, def *connection.Definition) error {
	if err := c.checkName(ctx, def.Name, 0); err != nil {
		return err
	}

	now := c.now()
	def.Version = 1
	def.CreateTime = now
	def.UpdateTime = now

	if _, err := c.store.Create(ctx, def); err != nil {
		return fmt.Errorf("create %q: %w", def.Name, err)
	}

	c.logger.WithFields(logger.Int("id", def.ID), logger.String("name", def.Name)).Info("Connection definition created")
	return nil
}

func (c *Connections) update(ctx context.Context, def *connection.Definition) error {
	current, err := c.store.Get(ctx, def.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.logger.WithFields(logger.Int("id", def.ID)).Warn("Connection definition with the id does not exist")
		}
		return err
	}
	if err := c.checkName(ctx, def.Name, def.ID); err != nil {
		return err
	}

	now := c.now()
	def.Version = current.Version + 1
	def.CreateTime = current.CreateTime
	def.UpdateTime = now
	if def.HTTPCheckCondition == "" {
		def.HTTPCheckCondition = current.HTTPCheckCondition
	}

	if err := c.store.Update(ctx, def); err != nil {
		return fmt.Errorf("update %d: %w", def.ID, err)
	}

	// The replaced version is recorded only once the update is stored
	if err := c.store.AppendHistory(ctx, &connection.HistoryEntry{
		ConnectionDefinitionID: current.ID,
		Version:                current.Version,
		Definition:             *current,
		RecordTime:             now,
	}); err != nil {
		return fmt.Errorf("record history of %d: %w", def.ID, err)
	}

	c.logger.WithFields(logger.Int("id", def.ID), logger.Int("version", def.Version)).Info("Connection definition updated")
	return nil
}

// checkName fails with ErrNameExists when a definition other than id uses name.
func (c *Connections) checkName(ctx context.Context, name string, id int) error {
	existing, err := c.store.GetByName(ctx, name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != id:
		c.logger.WithFields(logger.String("name", name)).Warn("Connection definition with the same name already exists")
		return fmt.Errorf("%w: %s", ErrNameExists, name)
	}
	return nil
}

// Get returns the definition with the given id.
func (c *Connections) Get(ctx context.Context, id int) (*connection.Definition, error) {
	return c.store.Get(ctx, id)
}

// List returns every definition whose name contains search.
func (c *Connections) List(ctx context.Context, search string) ([]*connection.Definition, error) {
	return c.store.List(ctx, search)
}

// Page returns one page of the definitions whose name contains search.
func (c *Connections) Page(ctx context.Context, search string, pageNo, pageSize int) (*PageInfo, error) {
	if pageNo < 1 || pageSize < 1 || pageSize > c.cfg.MaxPageSize {
		return nil, fmt.Errorf("%w: pageNo=%d pageSize=%d", ErrInvalidPage, pageNo, pageSize)
	}

	items, total, err := c.store.Page(ctx, search, pageNo, pageSize)
	if err != nil {
		return nil, err
	}
	return &PageInfo{
		TotalList:   items,
		Total:       total,
		CurrentPage: pageNo,
		PageSize:    pageSize,
		TotalPage:   (total + pageSize - 1) / pageSize,
	}, nil
}

// History returns the recorded versions of a definition, oldest first.
func (c *Connections) History(ctx context.Context, id int) ([]*connection.HistoryEntry, error) {
	if _, err := c.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return c.store.History(ctx, id)
}

// Test sends the request described by f without saving it.
func (c *Connections) Test(ctx context.Context, f *connection.Form) (*tester.Result, error) {
	def, err := f.Definition()
	if err != nil {
		return nil, err
	}

	result, err := c.tester.Test(ctx, def)
	if err != nil {
		return nil, err
	}
	metrics.RecordConnectionTest(string(def.HTTPMethod), result.HTTPCode, float64(result.CostTime)/1000)
	return result, nil
}
