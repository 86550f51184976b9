// Package config loads the dotted configuration file.
//
// The file is HCL:
//
//	tree {
//	  parent_field  = "parent_id"
//	  order         = ["name asc"]
//	  counter_cache = true
//	}
//
//	store {
//	  dsn   = "dotted.db"
//	  table = "nodes"
//	}
//
//	log {
//	  level  = "info"
//	  format = "text"
//	}
//
// Every block and attribute is optional.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/agentic-research/dotted/internal/sqlitestore"
	"github.com/agentic-research/dotted/internal/tree"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "dotted.hcl"

// Config is the resolved configuration.
type Config struct {
	Tree  Tree
	Store Store
	Log   Log
}

// Tree configures path maintenance.
type Tree struct {
	ParentField  string
	Order        []tree.Order
	CounterCache bool
}

// Store configures the SQLite store.
type Store struct {
	DSN   string
	Table string
}

// Log configures the logger.
type Log struct {
	Level  string
	Format string
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Tree:  Tree{ParentField: string(tree.FieldParentID)},
		Store: Store{DSN: "dotted.db", Table: "nodes"},
		Log:   Log{Level: "info", Format: "text"},
	}
}

type hclFile struct {
	Tree  *hclTree  `hcl:"tree,block"`
	Store *hclStore `hcl:"store,block"`
	Log   *hclLog   `hcl:"log,block"`
}

type hclTree struct {
	ParentField  string   `hcl:"parent_field,optional"`
	Order        []string `hcl:"order,optional"`
	CounterCache bool     `hcl:"counter_cache,optional"`
}

type hclStore struct {
	DSN   string `hcl:"dsn,optional"`
	Table string `hcl:"table,optional"`
}

type hclLog struct {
	Level  string `hcl:"level,optional"`
	Format string `hcl:"format,optional"`
}

// Load reads path from fs. A missing file yields Default().
func Load(fs billy.Filesystem, path string) (*Config, error) {
	src, err := util.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(src, path)
}

// Parse decodes HCL source. filename is only used in diagnostics.
func Parse(src []byte, filename string) (*Config, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config %s: %w", filename, diags)
	}
	var raw hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config %s: %w", filename, diags)
	}

	cfg := Default()
	if t := raw.Tree; t != nil {
		if t.ParentField != "" {
			cfg.Tree.ParentField = t.ParentField
		}
		cfg.Tree.CounterCache = t.CounterCache
		for _, expr := range t.Order {
			o, err := ParseOrder(expr)
			if err != nil {
				return nil, fmt.Errorf("config %s: %w", filename, err)
			}
			cfg.Tree.Order = append(cfg.Tree.Order, o)
		}
	}
	if s := raw.Store; s != nil {
		if s.DSN != "" {
			cfg.Store.DSN = s.DSN
		}
		if s.Table != "" {
			cfg.Store.Table = s.Table
		}
	}
	if l := raw.Log; l != nil {
		if l.Level != "" {
			cfg.Log.Level = l.Level
		}
		if l.Format != "" {
			cfg.Log.Format = l.Format
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", filename, err)
	}
	return cfg, nil
}

// ParseOrder parses "field" or "field asc|desc".
func ParseOrder(expr string) (tree.Order, error) {
	fields := strings.Fields(expr)
	if len(fields) == 0 || len(fields) > 2 {
		return tree.Order{}, fmt.Errorf("invalid order %q", expr)
	}
	o := tree.Order{Field: tree.Field(strings.ToLower(fields[0]))}
	if !tree.Orderable(o.Field) {
		return tree.Order{}, fmt.Errorf("invalid order %q: unknown field %q", expr, fields[0])
	}
	if len(fields) == 2 {
		switch strings.ToLower(fields[1]) {
		case "asc":
		case "desc":
			o.Desc = true
		default:
			return tree.Order{}, fmt.Errorf("invalid order %q: direction must be asc or desc", expr)
		}
	}
	return o, nil
}

// Validate checks values that cannot be caught while decoding.
func (c *Config) Validate() error {
	if c.Store.DSN == "" {
		return errors.New("store.dsn must not be empty")
	}
	if err := c.Schema().Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// TreeOptions returns the tree.Service options.
func (c *Config) TreeOptions() tree.Options {
	return tree.Options{Order: c.Tree.Order, CounterCache: c.Tree.CounterCache}
}

// Schema returns the SQLite table layout.
func (c *Config) Schema() sqlitestore.Schema {
	return sqlitestore.Schema{Table: c.Store.Table, ParentColumn: c.Tree.ParentField}
}
