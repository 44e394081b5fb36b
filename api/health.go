package api

import "github.com/srediag/txbuf/pkg/buffers"

// StatsSource exposes the counters health checks are computed from.
type StatsSource interface {
	Stats() buffers.Stats
}
