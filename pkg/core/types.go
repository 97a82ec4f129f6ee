// Package core contains the shared domain types for the control plane: the
// server record, its declared configuration, its observed status, and the
// lifecycle state machine.
package core

import (
	"time"
)

// State is the lifecycle state of an MCP server.
type State string

// Lifecycle states.
const (
	StateStopped   State = "stopped"
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateStopping  State = "stopping"
	StateError     State = "error"
	StateUnhealthy State = "unhealthy"
)

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StateStopped, StateStarting, StateRunning, StateStopping, StateError, StateUnhealthy:
		return true
	}
	return false
}

// CanStart reports whether a server in this state may be started.
func (s State) CanStart() bool {
	return s == StateStopped || s == StateError
}

// CanStop reports whether a server in this state may be stopped.
func (s State) CanStop() bool {
	return s == StateRunning || s == StateUnhealthy
}

// Transport is how an MCP server is reached by its clients.
type Transport string

// Supported transports.
const (
	TransportStdio Transport = "stdio"
	TransportSSE   Transport = "sse"
	TransportHTTP  Transport = "http"
)

// Valid reports whether t is a known transport.
func (t Transport) Valid() bool {
	switch t {
	case TransportStdio, TransportSSE, TransportHTTP:
		return true
	}
	return false
}

// Configuration defaults applied at registration.
const (
	DefaultTransport     = TransportSSE
	DefaultPort          = 8765
	DefaultDockerImage   = "langconnect-mcp:latest"
	DefaultMemoryLimit   = "512m"
	DefaultCPULimit      = 1.0
	DefaultRestartPolicy = "unless-stopped"
)

// ContainerNamePrefix is prepended to a server's name to form its container name.
const ContainerNamePrefix = "mcp-"

// ServerConfig is the declared shape of an MCP server.
type ServerConfig struct {
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	Transport        Transport         `json:"transport"`
	Port             int               `json:"port"`
	Environment      map[string]string `json:"environment"`
	DockerImage      string            `json:"docker_image"`
	MemoryLimit      string            `json:"memory_limit"`
	CPULimit         float64           `json:"cpu_limit"`
	RestartPolicy    string            `json:"restart_policy"`
	Volumes          []string          `json:"volumes"`
	Labels           map[string]string `json:"labels"`
	MiddlewareConfig map[string]any    `json:"middleware_config"`
}

// ContainerName derives the container name for this configuration.
func (c *ServerConfig) ContainerName() string {
	return ContainerNamePrefix + c.Name
}

// ResourceUsage is a one-shot sample of a container's resource consumption.
// Values are rounded to two decimal places.
type ResourceUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsageMB float64 `json:"memory_usage_mb"`
	MemoryLimitMB float64 `json:"memory_limit_mb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// ServerStatus is the observed runtime snapshot of an MCP server. The State
// field discriminates the JSON document; error details ride alongside it.
type ServerStatus struct {
	ServerID          string         `json:"server_id"`
	State             State          `json:"status"`
	ContainerID       string         `json:"container_id,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	StoppedAt         *time.Time     `json:"stopped_at,omitempty"`
	HealthCheckPassed bool           `json:"health_check_passed"`
	LastHealthCheck   *time.Time     `json:"last_health_check,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	ResourceUsage     *ResourceUsage `json:"resource_usage,omitempty"`
}

// Server is the complete record: declared config plus observed status.
type Server struct {
	ID        string       `json:"id"`
	Config    ServerConfig `json:"config"`
	Status    ServerStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	CreatedBy string       `json:"created_by"`
}

// ContainerName derives the container name for this server.
func (s *Server) ContainerName() string {
	return s.Config.ContainerName()
}

// IsRunning reports whether the server's last observed state is running.
func (s *Server) IsRunning() bool {
	return s.Status.State == StateRunning
}

// CanStart reports whether the server may be started from its current state.
func (s *Server) CanStart() bool {
	return s.Status.State.CanStart()
}

// CanStop reports whether the server may be stopped from its current state.
func (s *Server) CanStop() bool {
	return s.Status.State.CanStop()
}

// CreateServerRequest is the request body for registering a new server.
// A nil Port requests automatic allocation.
type CreateServerRequest struct {
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Transport        Transport         `json:"transport,omitempty"`
	Port             *int              `json:"port,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`
	DockerImage      string            `json:"docker_image,omitempty"`
	MemoryLimit      string            `json:"memory_limit,omitempty"`
	CPULimit         float64           `json:"cpu_limit,omitempty"`
	MiddlewareConfig map[string]any    `json:"middleware_config,omitempty"`
}

// UpdateServerRequest is a field-wise patch of a server's configuration.
// Nil fields are left untouched.
type UpdateServerRequest struct {
	Description      *string           `json:"description,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`
	MemoryLimit      *string           `json:"memory_limit,omitempty"`
	CPULimit         *float64          `json:"cpu_limit,omitempty"`
	MiddlewareConfig map[string]any    `json:"middleware_config,omitempty"`
	RestartPolicy    *string           `json:"restart_policy,omitempty"`
}

// Apply overlays the non-nil patch fields onto cfg.
func (r *UpdateServerRequest) Apply(cfg *ServerConfig) {
	if r.Description != nil {
		cfg.Description = *r.Description
	}
	if r.Environment != nil {
		cfg.Environment = r.Environment
	}
	if r.MemoryLimit != nil {
		cfg.MemoryLimit = *r.MemoryLimit
	}
	if r.CPULimit != nil {
		cfg.CPULimit = *r.CPULimit
	}
	if r.MiddlewareConfig != nil {
		cfg.MiddlewareConfig = r.MiddlewareConfig
	}
	if r.RestartPolicy != nil {
		cfg.RestartPolicy = *r.RestartPolicy
	}
}

// ServerList is one page of server records plus the unpaged total.
type ServerList struct {
	Servers  []*Server `json:"servers"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

// ElicitationRequest is an interactive request a tool makes to the user
// mid-execution.
type ElicitationRequest struct {
	ServerID       string         `json:"server_id"`
	ToolName       string         `json:"tool_name"`
	RequestID      string         `json:"request_id"`
	Prompt         string         `json:"prompt"`
	ResponseSchema map[string]any `json:"response_schema"`
	Timeout        int            `json:"timeout"`
}

// ElicitationResponse is the user's reply to an elicitation request.
type ElicitationResponse struct {
	RequestID      string         `json:"request_id"`
	Accepted       bool           `json:"accepted"`
	Data           map[string]any `json:"data,omitempty"`
	DeclinedReason string         `json:"declined_reason,omitempty"`
}
