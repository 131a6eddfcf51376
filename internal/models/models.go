// Package models holds the target records the polling engine works on.
package models

import (
	"net"
	"strconv"
)

// OSFamily is the operating system family of a target
type OSFamily string

const (
	OSLinux   OSFamily = "linux"
	OSWindows OSFamily = "windows"
)

// AuthMode is the authentication scheme declared when a target was registered
type AuthMode string

const (
	AuthKey      AuthMode = "key"
	AuthPassword AuthMode = "password"
)

// Default ports per OS family (SSH and WinRM over HTTP)
const (
	DefaultSSHPort   = 22
	DefaultWinRMPort = 5985
)

// Target represents a remote machine registered for monitoring.
// Targets are owned by the registry; the engine never mutates them.
type Target struct {
	ID       string   `json:"id" yaml:"id" validate:"required"`
	Name     string   `json:"name,omitempty" yaml:"name"`
	Address  string   `json:"address" yaml:"address" validate:"required"`
	OSFamily OSFamily `json:"os_family" yaml:"os_family" validate:"required,oneof=linux windows"`
	AuthMode AuthMode `json:"auth_mode" yaml:"auth_mode" validate:"required,oneof=key password"`
	Port     int      `json:"port,omitempty" yaml:"port" validate:"omitempty,min=1,max=65535"`
	Username string   `json:"username,omitempty" yaml:"username"`
	KeyPath  string   `json:"key_path,omitempty" yaml:"key_path"`
}

// DefaultPort returns the stored port, or the protocol default for the OS family
func (t Target) DefaultPort() int {
	if t.Port > 0 {
		return t.Port
	}
	if t.OSFamily == OSWindows {
		return DefaultWinRMPort
	}
	return DefaultSSHPort
}

// Endpoint returns host:port for the given port
func (t Target) Endpoint(port int) string {
	return net.JoinHostPort(t.Address, strconv.Itoa(port))
}

// DisplayName returns Name when set, otherwise the address
func (t Target) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Address
}

// Override is authentication material supplied by the caller for one fetch,
// typically a password the user just typed into a prompt.
// Port 0 means "use the target default".
type Override struct {
	Secret string `json:"secret" validate:"required"`
	Port   int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
}
