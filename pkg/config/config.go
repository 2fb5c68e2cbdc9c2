// Package config provides the configuration structures for vload.
// It defines the connection settings for a Vertica cluster, the COPY
// format options used by the streaming batch writer, and the policy
// flags consumed by the migration orchestrator.
//
// Configuration is loaded from YAML files with environment-variable
// substitution. Credentials are only ever read from a config file,
// never from command-line arguments.
package config

import (
	"time"

	"github.com/vertica-tools/vload/pkg/errors"
)

// ConnectionConfig describes how to reach one Vertica cluster.
type ConnectionConfig struct {
	// Nodes lists the candidate cluster nodes as host:port pairs. One is
	// selected uniformly at random on every connect.
	Nodes []string `yaml:"nodes" json:"nodes"`
	// Database is the database name
	Database string `yaml:"database" json:"database"`
	// User is the database user
	User string `yaml:"user" json:"user"`
	// Password is the database password. Config file only.
	Password string `yaml:"password" json:"password"`
	// Reconnect forces a fresh node selection on every acquire, defeating
	// sticky load-balancer sessions
	Reconnect bool `yaml:"reconnect" json:"reconnect"`
	// ConnectTimeout bounds the dial of a single node
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	// TLSMode is passed through to the driver (none, server, server-strict)
	TLSMode string `yaml:"tls_mode" json:"tls_mode"`
}

// Validate checks the connection configuration for completeness.
func (c *ConnectionConfig) Validate() error {
	if len(c.Nodes) == 0 {
		return errors.New(errors.ErrorTypeConfig, "at least one node is required")
	}
	if c.Database == "" {
		return errors.New(errors.ErrorTypeConfig, "database name is required")
	}
	if c.User == "" {
		return errors.New(errors.ErrorTypeConfig, "user is required")
	}
	return nil
}

// CopyOptions holds the column format options of a COPY statement.
// The zero value is not usable; call DefaultCopyOptions and override.
type CopyOptions struct {
	// Delimiter separates column values within a record
	Delimiter string `yaml:"delimiter" json:"delimiter"`
	// EnclosedBy quotes column values
	EnclosedBy string `yaml:"enclosed_by" json:"enclosed_by"`
	// NullToken is the literal that represents NULL in the stream
	NullToken string `yaml:"null_token" json:"null_token"`
	// RecordTerminator ends one record
	RecordTerminator string `yaml:"record_terminator" json:"record_terminator"`
	// Skip is the number of leading records the database should ignore
	Skip int `yaml:"skip" json:"skip"`
	// RejectMax is the reject-row limit passed to the COPY statement
	// (0 disables the limit)
	RejectMax int `yaml:"reject_max" json:"reject_max"`
	// NoCommit keeps the load inside the session transaction so the caller
	// decides between commit and rollback
	NoCommit bool `yaml:"no_commit" json:"no_commit"`
	// RejectedData enables the session-scoped reject store
	RejectedData bool `yaml:"rejected_data" json:"rejected_data"`
}

// DefaultCopyOptions returns the COPY format defaults: semicolon delimiter,
// double-quote enclosure, empty null token and \x01 record terminator.
func DefaultCopyOptions() CopyOptions {
	return CopyOptions{
		Delimiter:        ";",
		EnclosedBy:       `"`,
		NullToken:        "",
		RecordTerminator: "\x01",
		Skip:             0,
		RejectMax:        0,
		NoCommit:         true,
		RejectedData:     true,
	}
}

// Validate rejects conflicting format combinations. The delimiter, the
// enclosure character and the record terminator must be pairwise distinct,
// otherwise the database cannot parse the stream unambiguously.
func (o *CopyOptions) Validate() error {
	if o.Delimiter == "" {
		return errors.New(errors.ErrorTypeConfig, "delimiter must not be empty")
	}
	if o.RecordTerminator == "" {
		return errors.New(errors.ErrorTypeConfig, "record terminator must not be empty")
	}
	if o.Delimiter == o.EnclosedBy {
		return errors.New(errors.ErrorTypeConfig, "delimiter and enclosure character conflict")
	}
	if o.Delimiter == o.RecordTerminator {
		return errors.New(errors.ErrorTypeConfig, "delimiter and record terminator conflict")
	}
	if o.EnclosedBy != "" && o.EnclosedBy == o.RecordTerminator {
		return errors.New(errors.ErrorTypeConfig, "enclosure character and record terminator conflict")
	}
	if o.Skip < 0 {
		return errors.New(errors.ErrorTypeConfig, "skip must not be negative")
	}
	if o.RejectMax < 0 {
		return errors.New(errors.ErrorTypeConfig, "reject max must not be negative")
	}
	return nil
}

// ImportField maps one source record field to a table column.
type ImportField struct {
	// Field is the key in the source record (CSV header name)
	Field string `yaml:"field" json:"field"`
	// Column is the table column; defaults to Field when empty
	Column string `yaml:"column" json:"column"`
	// DataType is the column type, used when creating the table
	DataType string `yaml:"data_type" json:"data_type"`
}

// ImportSource identifies the origin of one import.
type ImportSource struct {
	// Name is the origin system
	Name string `yaml:"name" json:"name"`
	// Type is the kind of data pulled from it
	Type string `yaml:"type" json:"type"`
	// Path uniquely identifies this extract; duplicate paths are refused
	Path string `yaml:"path" json:"path"`
}

// ImportConfig is the root configuration of the import command.
type ImportConfig struct {
	// Connection is the target cluster
	Connection ConnectionConfig `yaml:"connection" json:"connection"`
	// Table is the qualified target table
	Table string `yaml:"table" json:"table"`
	// HistoryTable overrides the batch-history table name
	HistoryTable string `yaml:"history_table" json:"history_table"`
	// Source describes where the data comes from
	Source ImportSource `yaml:"source" json:"source"`
	// Mapping binds record fields to table columns
	Mapping []ImportField `yaml:"mapping" json:"mapping"`
	// Copy holds the format options for the load
	Copy CopyOptions `yaml:"copy" json:"copy"`
}

// Validate checks the connection, the mapping and the copy options.
func (c *ImportConfig) Validate() error {
	if err := c.Connection.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "target cluster")
	}
	if c.Table == "" {
		return errors.New(errors.ErrorTypeConfig, "table name is required")
	}
	if c.Source.Name == "" || c.Source.Path == "" {
		return errors.New(errors.ErrorTypeConfig, "source name and path are required")
	}
	if len(c.Mapping) == 0 {
		return errors.New(errors.ErrorTypeConfig, "field mapping is empty")
	}
	return c.Copy.Validate()
}

// MigrateConfig is the root configuration of the migrate command.
type MigrateConfig struct {
	// Source is the cluster read from
	Source ConnectionConfig `yaml:"source" json:"source"`
	// Target is the cluster written to
	Target ConnectionConfig `yaml:"target" json:"target"`
	// Objects lists schemas ("staging") or qualified tables
	// ("staging.orders") to migrate. Empty means every non-system schema.
	Objects []string `yaml:"objects" json:"objects"`
	// Copy holds the format options for the data transfer
	Copy CopyOptions `yaml:"copy" json:"copy"`
}

// Validate checks both cluster configurations and the copy options.
func (c *MigrateConfig) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "source cluster")
	}
	if err := c.Target.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "target cluster")
	}
	return c.Copy.Validate()
}
