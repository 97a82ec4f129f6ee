package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/langconnect/mcpd/pkg/errors"
)

// Server names become part of container names and environment values, so the
// accepted alphabet is deliberately narrow.
var serverNamePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Port bounds for MCP servers. The lower bound keeps servers out of the
// privileged range.
const (
	MinPort = 1024
	MaxPort = 65535
)

// MaxCPULimit caps the cores a single server may claim.
const MaxCPULimit = 4.0

// NormalizeName lowercases and validates a server name. Names must be
// alphanumeric with hyphens or underscores and contain at least one
// alphanumeric character.
func NormalizeName(name string) (string, error) {
	name = strings.ToLower(name)
	if name == "" || !serverNamePattern.MatchString(name) {
		return "", errors.NewValidationError("server name must be alphanumeric with - or _", nil)
	}
	if strings.Trim(name, "-_") == "" {
		return "", errors.NewValidationError("server name must be alphanumeric with - or _", nil)
	}
	return name, nil
}

// ValidatePort checks that a port is inside the allowed range.
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return errors.NewValidationError(
			fmt.Sprintf("port must be between %d and %d", MinPort, MaxPort), nil)
	}
	return nil
}

// ValidateCPULimit checks that a CPU limit is a positive number of cores no
// greater than MaxCPULimit.
func ValidateCPULimit(cpu float64) error {
	if cpu <= 0 || cpu > MaxCPULimit {
		return errors.NewValidationError(
			fmt.Sprintf("cpu_limit must be greater than 0 and at most %g", MaxCPULimit), nil)
	}
	return nil
}

// BuildConfig validates the request and produces a full configuration with
// defaults applied. A zero Port in the result means the registry should
// allocate one.
func (r *CreateServerRequest) BuildConfig() (ServerConfig, error) {
	name, err := NormalizeName(r.Name)
	if err != nil {
		return ServerConfig{}, err
	}

	transport := r.Transport
	if transport == "" {
		transport = DefaultTransport
	}
	if !transport.Valid() {
		return ServerConfig{}, errors.NewValidationError(
			fmt.Sprintf("unknown transport %q", transport), nil)
	}

	port := 0
	if r.Port != nil {
		port = *r.Port
		if err := ValidatePort(port); err != nil {
			return ServerConfig{}, err
		}
	}

	image := r.DockerImage
	if image == "" {
		image = DefaultDockerImage
	}
	memory := r.MemoryLimit
	if memory == "" {
		memory = DefaultMemoryLimit
	}
	cpu := r.CPULimit
	if cpu == 0 {
		cpu = DefaultCPULimit
	}
	if err := ValidateCPULimit(cpu); err != nil {
		return ServerConfig{}, err
	}

	environment := r.Environment
	if environment == nil {
		environment = map[string]string{}
	}
	middleware := r.MiddlewareConfig
	if middleware == nil {
		middleware = map[string]any{}
	}

	return ServerConfig{
		Name:             name,
		Description:      r.Description,
		Transport:        transport,
		Port:             port,
		Environment:      environment,
		DockerImage:      image,
		MemoryLimit:      memory,
		CPULimit:         cpu,
		RestartPolicy:    DefaultRestartPolicy,
		Volumes:          []string{},
		Labels:           map[string]string{},
		MiddlewareConfig: middleware,
	}, nil
}

// Validate checks the fields present in an update patch.
func (r *UpdateServerRequest) Validate() error {
	if r.CPULimit != nil {
		if err := ValidateCPULimit(*r.CPULimit); err != nil {
			return err
		}
	}
	if r.MemoryLimit != nil && *r.MemoryLimit == "" {
		return errors.NewValidationError("memory_limit cannot be empty", nil)
	}
	return nil
}
