// Package control implements the inbound control plane described in spec
// §6: the operations an external façade (CLI, admin API, whatever fronts
// this pipeline) drives — start a scan, page through the Ordered Collection
// Index, manage ScheduledJobs, cancel a job. It is a plain Go API, not a
// transport: Service methods take and return typed values, and whatever
// embeds this package is responsible for exposing them over HTTP, gRPC, or
// a CLI.
package control
