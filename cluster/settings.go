// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cluster

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

var (
	ErrEmptyConnectionString = errors.New("connection string is empty")
	ErrSettingsMismatch      = errors.New("settings mismatch")
)

// Settings is the controller configuration. Locally it is loaded from a YAML
// file; on the wire it travels as an XML document inside JoinAttempt and is
// compared field by field during admission. The exact ConnectionString is the
// cluster identity: controllers with different strings refuse each other.
type Settings struct {
	XMLName xml.Name `xml:"Settings" yaml:"-"`

	ConnectionString          string `xml:"ConnectionString" yaml:"connectionString"`
	NodeName                  string `xml:"NodeName" yaml:"nodeName"`
	Port                      uint16 `xml:"Port" yaml:"port"`
	LogLevel                  string `xml:"LogLevel" yaml:"logLevel"`
	MaxChunkItemCount         int    `xml:"MaxChunkItemCount" yaml:"maxChunkItemCount"`
	RedundantNodesPerLocation int    `xml:"RedundantNodesPerLocation" yaml:"redundantNodesPerLocation"`
	WebInterfacePort          uint16 `xml:"WebInterfacePort" yaml:"webInterfacePort"`
}

// LoadSettings reads a YAML configuration file.
func LoadSettings(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := new(Settings)
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Document renders the settings as the XML document exchanged during
// admission.
func (s *Settings) Document() (string, error) {
	b, err := xml.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseDocument parses a settings document received from a joining peer.
func ParseDocument(doc string) (*Settings, error) {
	s := new(Settings)
	if err := xml.Unmarshal([]byte(doc), s); err != nil {
		return nil, err
	}
	return s, nil
}

// Self is the node definition this replica is known by.
func (s *Settings) Self() NodeDefinition {
	return NodeDefinition{Hostname: s.NodeName, Port: s.Port}
}

// Controllers parses the comma-separated controller set. The set is fixed by
// configuration and never changes at runtime.
func (s *Settings) Controllers() ([]NodeDefinition, error) {
	if strings.TrimSpace(s.ConnectionString) == "" {
		return nil, ErrEmptyConnectionString
	}
	parts := strings.Split(s.ConnectionString, ",")
	nodes := make([]NodeDefinition, 0, len(parts))
	for _, part := range parts {
		n, err := ParseNodeDefinition(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// CheckCompatible compares the fields a joining controller must agree on.
// The returned error names the first mismatched field and is sent back
// verbatim as the JoinFailure reason.
func (s *Settings) CheckCompatible(other *Settings) error {
	switch {
	case s.ConnectionString != other.ConnectionString:
		return fmt.Errorf("%w: connection string %q != %q", ErrSettingsMismatch, other.ConnectionString, s.ConnectionString)
	case s.MaxChunkItemCount != other.MaxChunkItemCount:
		return fmt.Errorf("%w: max chunk item count %d != %d", ErrSettingsMismatch, other.MaxChunkItemCount, s.MaxChunkItemCount)
	case s.RedundantNodesPerLocation != other.RedundantNodesPerLocation:
		return fmt.Errorf("%w: redundant nodes per location %d != %d", ErrSettingsMismatch, other.RedundantNodesPerLocation, s.RedundantNodesPerLocation)
	}
	return nil
}

// CheckConnectionString compares only the cluster identity. Query and
// storage joiners must match this but may differ on tuning fields.
func (s *Settings) CheckConnectionString(other *Settings) error {
	if s.ConnectionString != other.ConnectionString {
		return fmt.Errorf("%w: connection string %q != %q", ErrSettingsMismatch, other.ConnectionString, s.ConnectionString)
	}
	return nil
}
