// Package inspect holds the offline CLI commands of loglens: stat, grep and
// cat. Each loads its paths into a private runtime, waits for ingestion and
// prints to the command's output.
package inspect
