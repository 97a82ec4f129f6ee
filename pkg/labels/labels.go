// Package labels provides utilities for managing the container labels that
// mark containers as managed MCP servers.
package labels

import (
	"fmt"
)

const (
	// LabelType marks a container as a managed MCP server
	LabelType = "com.langconnect.type"

	// LabelServerID carries the registry id of the server
	LabelServerID = "com.langconnect.server-id"

	// LabelServerName carries the server's name
	LabelServerName = "com.langconnect.server-name"

	// LabelTypeValue is the value for the LabelType label
	LabelTypeValue = "mcp-server"

	// NetworkLabelApp marks the shared bridge network
	NetworkLabelApp = "app"

	// NetworkLabelComponent marks the network's component
	NetworkLabelComponent = "component"

	// NetworkLabelAppValue is the value for NetworkLabelApp
	NetworkLabelAppValue = "langconnect"

	// NetworkLabelComponentValue is the value for NetworkLabelComponent
	NetworkLabelComponentValue = "mcp"
)

// AddStandardLabels adds the managed-server labels to a container. System
// labels overwrite user-supplied values so a container can never leave the
// managed set.
func AddStandardLabels(labels map[string]string, serverID, serverName string) {
	labels[LabelType] = LabelTypeValue
	labels[LabelServerID] = serverID
	labels[LabelServerName] = serverName
}

// NetworkLabels returns the labels applied to the shared MCP network.
func NetworkLabels() map[string]string {
	return map[string]string{
		NetworkLabelApp:       NetworkLabelAppValue,
		NetworkLabelComponent: NetworkLabelComponentValue,
	}
}

// FormatMCPFilter formats a filter matching managed MCP server containers.
func FormatMCPFilter() string {
	return fmt.Sprintf("%s=%s", LabelType, LabelTypeValue)
}

// IsMCPContainer checks if a container is a managed MCP server.
func IsMCPContainer(labels map[string]string) bool {
	return labels[LabelType] == LabelTypeValue
}

// GetServerID gets the server id from labels.
func GetServerID(labels map[string]string) string {
	return labels[LabelServerID]
}

// GetServerName gets the server name from labels.
func GetServerName(labels map[string]string) string {
	return labels[LabelServerName]
}
