/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package buffers

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultSegmentSize is the payload capacity of one segment.
	DefaultSegmentSize = 1024
	// DefaultSegmentCount is the number of segments in the ring.
	DefaultSegmentCount = 16 << 10
	// DefaultAuditDepth is the number of audit events retained.
	DefaultAuditDepth = 1024

	// maxStorageBytes also keeps every slot index within a uint32 link.
	maxStorageBytes = math.MaxInt32
)

// OverflowPolicy decides what a write does when wraparound reaches data a
// reader has not consumed.
type OverflowPolicy string

const (
	// OverflowReject fails the write with ErrOverflow and writes nothing.
	OverflowReject OverflowPolicy = "reject"
	// OverflowDiscard overwrites the data, moves the lagging readers past it
	// and reports the miss on their next read.
	OverflowDiscard OverflowPolicy = "discard"
)

// Config is used to create a TransmissionBuffer.
type Config struct {
	// Name labels metrics, logs and the direct mapping.
	Name string `yaml:"name"`
	// SegmentCount is the number of slots in the ring.
	SegmentCount int `yaml:"segment_count"`
	// SegmentSize is the payload capacity of one slot in bytes.
	SegmentSize int `yaml:"segment_size"`
	// Direct maps the slots outside the Go heap.
	Direct bool `yaml:"direct"`
	// Overflow is the wraparound policy, OverflowReject by default.
	Overflow OverflowPolicy `yaml:"overflow"`
	// AuditDepth is the number of audit events kept. 0 disables the trail.
	AuditDepth int `yaml:"audit_depth"`

	// Registerer receives the prometheus collectors. Nil skips registration.
	Registerer prometheus.Registerer `yaml:"-"`
	// Meter and Tracer default to no-op implementations.
	Meter  metric.Meter `yaml:"-"`
	Tracer trace.Tracer `yaml:"-"`
	// Colors allocates the colors of NewReader. Nil uses the process-wide allocator.
	Colors *ColorAllocator `yaml:"-"`
	// LogOutput receives the buffer's log lines. Nil writes to stdout.
	LogOutput io.Writer `yaml:"-"`
}

// DefaultConfig is used to create a default config.
func DefaultConfig() *Config {
	return &Config{
		Name:         "default",
		SegmentCount: DefaultSegmentCount,
		SegmentSize:  DefaultSegmentSize,
		Overflow:     OverflowReject,
		AuditDepth:   DefaultAuditDepth,
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if config.SegmentCount <= 0 {
		return fmt.Errorf("%w: segment count %d must be positive", ErrInvalidConfig, config.SegmentCount)
	}
	if config.SegmentSize <= 0 {
		return fmt.Errorf("%w: segment size %d must be positive", ErrInvalidConfig, config.SegmentSize)
	}
	if _, _, err := storageSize(config.SegmentCount, config.SegmentSize); err != nil {
		return err
	}
	switch config.Overflow {
	case OverflowReject, OverflowDiscard:
	default:
		return fmt.Errorf("%w: unknown overflow policy %q", ErrInvalidConfig, config.Overflow)
	}
	if config.AuditDepth < 0 {
		return fmt.Errorf("%w: audit depth %d is negative", ErrInvalidConfig, config.AuditDepth)
	}
	return nil
}

// LoadConfig reads a YAML config file over DefaultConfig and verifies it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig and verifies the result.
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}
