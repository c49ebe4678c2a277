package postgres

import _ "embed"

// Schema is the full DDL. Integration tests apply it to throwaway
// containers; deployments run it through their migration tooling.
//
//go:embed schema.sql
var Schema string
