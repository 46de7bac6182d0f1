// Package common provides the configuration and logging foundation shared by
// all wireline packages.
//
// The package focuses on:
//   - Typed configuration structs for the client, supervisor, pool and server
//     layers, with sensible defaults and formatted String() output
//   - Centralized logger initialization for all wireline package loggers
//
// Configuration is plain data: no component reads environment variables or
// files on its own. The cmd layer (or the embedding application) is
// responsible for populating the structs.
package common
