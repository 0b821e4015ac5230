/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the provider's configuration document (§6):
// Proxmox endpoint and credentials, storage/network defaults, k3s
// join parameters, and the list of node groups. Every scalar field may
// be overridden by an environment variable; the node_groups list is
// read from the document only and has no environment override. Missing
// required values fail startup with types.ErrConfig naming the key.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

// GroupConfig is one entry of the node_groups list.
type GroupConfig struct {
	ID       string              `yaml:"id"`
	MinSize  int                 `yaml:"min_size"`
	MaxSize  int                 `yaml:"max_size"`
	Shape    types.InstanceShape `yaml:"shape"`
	Template string              `yaml:"template_payload"`
}

// Config is the full configuration document.
type Config struct {
	ProxmoxURL         string `yaml:"proxmox_url"`
	ProxmoxTokenID     string `yaml:"proxmox_token_id"`
	ProxmoxTokenSecret string `yaml:"proxmox_token_secret"`
	ProxmoxNode        string `yaml:"proxmox_node"`
	ProxmoxInsecureTLS bool   `yaml:"proxmox_insecure_tls"`

	ImportStorage string `yaml:"import_storage"`
	ISOStorage    string `yaml:"iso_storage"`
	VMStorage     string `yaml:"vm_storage"`
	NetworkBridge string `yaml:"network_bridge"`
	CloudImageURL string `yaml:"cloud_image_url"`

	K3sVersion   string `yaml:"k3s_version"`
	K3sServerURL string `yaml:"k3s_server_url"`
	K3sToken     string `yaml:"k3s_token"`
	SSHPublicKey string `yaml:"ssh_public_key"`

	StateFilePath             string `yaml:"state_file_path"`
	PendingVMTimeoutSeconds   int    `yaml:"pending_vm_timeout_seconds"`
	ReconcileIntervalSeconds  int    `yaml:"reconcile_interval_seconds"`
	ProxmoxCallTimeoutSeconds int    `yaml:"proxmox_call_timeout_seconds"`
	KubeNodeCacheTTLSeconds   int    `yaml:"kube_node_cache_ttl_seconds"`

	NodeGroups []GroupConfig `yaml:"node_groups"`
}

// PendingVMTimeout is PendingVMTimeoutSeconds as a duration.
func (c Config) PendingVMTimeout() time.Duration {
	return time.Duration(c.PendingVMTimeoutSeconds) * time.Second
}

// ReconcileInterval is ReconcileIntervalSeconds as a duration.
func (c Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSeconds) * time.Second
}

// ProxmoxCallTimeout is ProxmoxCallTimeoutSeconds as a duration.
func (c Config) ProxmoxCallTimeout() time.Duration {
	return time.Duration(c.ProxmoxCallTimeoutSeconds) * time.Second
}

// KubeNodeCacheTTL is KubeNodeCacheTTLSeconds as a duration.
func (c Config) KubeNodeCacheTTL() time.Duration {
	return time.Duration(c.KubeNodeCacheTTLSeconds) * time.Second
}

func defaults() Config {
	return Config{
		ProxmoxNode:              "pve",
		ImportStorage:            "local",
		ISOStorage:               "local",
		VMStorage:                "local-lvm",
		NetworkBridge:            "vmbr0",
		K3sVersion:               "v1.30.5+k3s1",
		StateFilePath:            "/var/lib/ca-proxmox-provider/state.db",
		PendingVMTimeoutSeconds:  900,
		ReconcileIntervalSeconds: 20,
		ProxmoxCallTimeoutSeconds: 30,
		KubeNodeCacheTTLSeconds:  30,
	}
}

// Load reads the YAML document at path, overlays environment
// variables following the CA_PROXMOX_<UPPER_SNAKE_FIELD> convention,
// and validates the result.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w: %w", path, types.ErrConfig, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w: %w", path, types.ErrConfig, err)
		}
	}

	overlayEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func overlayEnv(cfg *Config) {
	cfg.ProxmoxURL = withDefaultString("CA_PROXMOX_PROXMOX_URL", cfg.ProxmoxURL)
	cfg.ProxmoxTokenID = withDefaultString("CA_PROXMOX_PROXMOX_TOKEN_ID", cfg.ProxmoxTokenID)
	cfg.ProxmoxTokenSecret = withDefaultString("CA_PROXMOX_PROXMOX_TOKEN_SECRET", cfg.ProxmoxTokenSecret)
	cfg.ProxmoxNode = withDefaultString("CA_PROXMOX_PROXMOX_NODE", cfg.ProxmoxNode)
	cfg.ImportStorage = withDefaultString("CA_PROXMOX_IMPORT_STORAGE", cfg.ImportStorage)
	cfg.ISOStorage = withDefaultString("CA_PROXMOX_ISO_STORAGE", cfg.ISOStorage)
	cfg.VMStorage = withDefaultString("CA_PROXMOX_VM_STORAGE", cfg.VMStorage)
	cfg.NetworkBridge = withDefaultString("CA_PROXMOX_NETWORK_BRIDGE", cfg.NetworkBridge)
	cfg.CloudImageURL = withDefaultString("CA_PROXMOX_CLOUD_IMAGE_URL", cfg.CloudImageURL)
	cfg.K3sVersion = withDefaultString("CA_PROXMOX_K3S_VERSION", cfg.K3sVersion)
	cfg.K3sServerURL = withDefaultString("CA_PROXMOX_K3S_SERVER_URL", cfg.K3sServerURL)
	cfg.K3sToken = withDefaultString("CA_PROXMOX_K3S_TOKEN", cfg.K3sToken)
	cfg.SSHPublicKey = withDefaultString("CA_PROXMOX_SSH_PUBLIC_KEY", cfg.SSHPublicKey)
	cfg.StateFilePath = withDefaultString("CA_PROXMOX_STATE_FILE_PATH", cfg.StateFilePath)
	cfg.PendingVMTimeoutSeconds = withDefaultInt("CA_PROXMOX_PENDING_VM_TIMEOUT_SECONDS", cfg.PendingVMTimeoutSeconds)
	cfg.ReconcileIntervalSeconds = withDefaultInt("CA_PROXMOX_RECONCILE_INTERVAL_SECONDS", cfg.ReconcileIntervalSeconds)
	cfg.ProxmoxCallTimeoutSeconds = withDefaultInt("CA_PROXMOX_PROXMOX_CALL_TIMEOUT_SECONDS", cfg.ProxmoxCallTimeoutSeconds)
	cfg.KubeNodeCacheTTLSeconds = withDefaultInt("CA_PROXMOX_KUBE_NODE_CACHE_TTL_SECONDS", cfg.KubeNodeCacheTTLSeconds)
	cfg.ProxmoxInsecureTLS = withDefaultBool("CA_PROXMOX_PROXMOX_INSECURE_TLS", cfg.ProxmoxInsecureTLS)
}

func withDefaultString(envVar, def string) string {
	if v, ok := os.LookupEnv(envVar); ok && v != "" {
		return v
	}

	return def
}

func withDefaultInt(envVar string, def int) int {
	if v, ok := os.LookupEnv(envVar); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}

	return def
}

func withDefaultBool(envVar string, def bool) bool {
	if v, ok := os.LookupEnv(envVar); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}

	return def
}

// Validate checks that every required value is present and internally
// consistent, returning types.ErrConfig naming the first missing or
// invalid key it finds.
func (c Config) Validate() error {
	switch {
	case c.ProxmoxURL == "":
		return fmt.Errorf("%w: proxmox_url is required", types.ErrConfig)
	case c.ProxmoxTokenID == "" || c.ProxmoxTokenSecret == "":
		return fmt.Errorf("%w: proxmox_token_id and proxmox_token_secret are required", types.ErrConfig)
	case c.K3sServerURL == "":
		return fmt.Errorf("%w: k3s_server_url is required", types.ErrConfig)
	case c.K3sToken == "":
		return fmt.Errorf("%w: k3s_token is required", types.ErrConfig)
	case c.SSHPublicKey == "":
		return fmt.Errorf("%w: ssh_public_key is required", types.ErrConfig)
	case c.StateFilePath == "":
		return fmt.Errorf("%w: state_file_path is required", types.ErrConfig)
	case len(c.NodeGroups) == 0:
		return fmt.Errorf("%w: at least one node group is required", types.ErrConfig)
	}

	seen := make(map[string]bool, len(c.NodeGroups))

	for _, g := range c.NodeGroups {
		if g.ID == "" {
			return fmt.Errorf("%w: node_groups[].id is required", types.ErrConfig)
		}

		if seen[g.ID] {
			return fmt.Errorf("%w: node group id %q is duplicated", types.ErrConfig, g.ID)
		}

		seen[g.ID] = true

		if g.MinSize < 0 || g.MaxSize < g.MinSize {
			return fmt.Errorf("%w: node group %q has invalid min_size/max_size (%d/%d)", types.ErrConfig, g.ID, g.MinSize, g.MaxSize)
		}
	}

	return nil
}

// Groups converts the configuration's node group list into the
// runtime types.Group values the rest of the provider consumes.
func (c Config) Groups() []types.Group {
	groups := make([]types.Group, 0, len(c.NodeGroups))

	for _, g := range c.NodeGroups {
		groups = append(groups, types.Group{
			ID:              g.ID,
			MinSize:         g.MinSize,
			MaxSize:         g.MaxSize,
			InstanceShape:   g.Shape,
			TemplatePayload: g.Template,
		})
	}

	return groups
}
