// Package catalog defines the core types shared across subsystems: the
// business catalog entities, the job lifecycle vocabulary, and the
// interfaces the executors and the API layer are built against.
package catalog
