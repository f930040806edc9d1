package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const envPrefix = "PATCHVEC_"

// Config holds all service configuration. It is immutable after Load()
// returns. Sources in ascending precedence: built-in defaults, YAML file at
// $PATCHVEC_CONFIG (default ~/patchvec/config.yml), optional tenants file
// referenced by auth.tenants_file, then PATCHVEC_<SECTION>__<KEY>
// environment variables.
type Config struct {
	DataDir string `yaml:"data_dir"`

	Instance InstanceConfig `yaml:"instance"`

	CommonEnabled    bool   `yaml:"common_enabled"`
	CommonTenant     string `yaml:"common_tenant"`
	CommonCollection string `yaml:"common_collection"`

	Auth        AuthConfig        `yaml:"auth"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Search      SearchConfig      `yaml:"search"`
	Preprocess  PreprocessConfig  `yaml:"preprocess"`
	Tenants     TenantsConfig     `yaml:"tenants"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
}

// InstanceConfig names the deployment in health output.
type InstanceConfig struct {
	Name string `yaml:"name"`
	Desc string `yaml:"desc"`
}

// AuthConfig selects the identity policy.
type AuthConfig struct {
	Mode                string            `yaml:"mode"` // none | static
	GlobalKey           string            `yaml:"global_key"`
	APIKeys             map[string]string `yaml:"api_keys"` // tenant -> key
	TenantsFile         string            `yaml:"tenants_file"`
	DefaultAccessTenant string            `yaml:"default_access_tenant"`
}

// IngestConfig bounds the ingestion path.
type IngestConfig struct {
	MaxFileSizeMB int `yaml:"max_file_size_mb"` // 0 = unlimited
	MaxConcurrent int `yaml:"max_concurrent"`
}

// SearchConfig bounds the search path.
type SearchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	TimeoutMS     int `yaml:"timeout_ms"`
}

// PreprocessConfig tunes the TXT chunker.
type PreprocessConfig struct {
	TxtChunkSize    int `yaml:"txt_chunk_size"`
	TxtChunkOverlap int `yaml:"txt_chunk_overlap"`
}

// TenantLimit carries the per-tenant overrides.
type TenantLimit struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// TenantsConfig mixes the default cap with per-tenant entries:
//
//	tenants:
//	  default_max_concurrent: 4
//	  acme:
//	    max_concurrent: 2
type TenantsConfig struct {
	DefaultMaxConcurrent int
	Limits               map[string]TenantLimit
}

// UnmarshalYAML splits the reserved default_max_concurrent key from tenant
// entries, which use the tenant name itself as the key.
func (t *TenantsConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("config: tenants must be a mapping")
	}
	t.Limits = map[string]TenantLimit{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		if key == "default_max_concurrent" {
			if err := val.Decode(&t.DefaultMaxConcurrent); err != nil {
				return fmt.Errorf("config: tenants.default_max_concurrent: %w", err)
			}
			continue
		}
		var lim TenantLimit
		if err := val.Decode(&lim); err != nil {
			return fmt.Errorf("config: tenants.%s: %w", key, err)
		}
		t.Limits[key] = lim
	}
	return nil
}

// MarshalYAML keeps the round-trip used by the layered merge.
func (t TenantsConfig) MarshalYAML() (interface{}, error) {
	out := map[string]interface{}{"default_max_concurrent": t.DefaultMaxConcurrent}
	for name, lim := range t.Limits {
		out[name] = map[string]interface{}{"max_concurrent": lim.MaxConcurrent}
	}
	return out, nil
}

// Limit returns the concurrency cap for a tenant. 0 means unlimited.
func (t TenantsConfig) Limit(tenant string) int {
	if lim, ok := t.Limits[tenant]; ok {
		return lim.MaxConcurrent
	}
	return t.DefaultMaxConcurrent
}

// ServerConfig holds the bind address.
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	TimeoutKeepAlive int    `yaml:"timeout_keep_alive"`
}

// LogConfig routes application and operation logs.
type LogConfig struct {
	Level     string `yaml:"level"`
	OpsLog    string `yaml:"ops_log"`    // "", "null", "stdout", or file path
	AccessLog string `yaml:"access_log"` // "", "stdout", or file path
}

// VectorStoreConfig selects and tunes the engine.
type VectorStoreConfig struct {
	Type          string         `yaml:"type"` // default | qdrant
	MaxQueryChars int            `yaml:"max_query_chars"`
	Patchidx      PatchidxConfig `yaml:"patchidx"`
	Qdrant        QdrantConfig   `yaml:"qdrant"`
}

// PatchidxConfig tunes the embedded engine.
type PatchidxConfig struct {
	Dimensions int `yaml:"dimensions"`
}

// QdrantConfig points at a qdrant gRPC endpoint.
type QdrantConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"data_dir": "./data",
		"instance": map[string]interface{}{
			"name": "Patchvec",
			"desc": "Vector Search Microservice",
		},
		"auth": map[string]interface{}{
			"mode": "none",
		},
		"ingest": map[string]interface{}{
			"max_file_size_mb": 500,
			"max_concurrent":   4,
		},
		"search": map[string]interface{}{
			"max_concurrent": 8,
			"timeout_ms":     10000,
		},
		"preprocess": map[string]interface{}{
			"txt_chunk_size":    1000,
			"txt_chunk_overlap": 200,
		},
		"server": map[string]interface{}{
			"host":               "127.0.0.1",
			"port":               8086,
			"timeout_keep_alive": 75,
		},
		"log": map[string]interface{}{
			"level": "info",
		},
		"vector_store": map[string]interface{}{
			"type":            "default",
			"max_query_chars": 512,
			"patchidx": map[string]interface{}{
				"dimensions": 256,
			},
			"qdrant": map[string]interface{}{
				"url": "http://localhost:6334",
			},
		},
	}
}

// DefaultPath returns the config file path honoring $PATCHVEC_CONFIG.
func DefaultPath() string {
	if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yml"
	}
	return filepath.Join(home, "patchvec", "config.yml")
}

// Load builds the configuration from the file at path (missing file is not
// an error) layered with environment overrides.
func Load(path string) (*Config, error) {
	tree := defaults()

	fileCfg, err := loadYAMLMap(path)
	if err != nil {
		return nil, err
	}
	tree = deepMerge(tree, fileCfg)

	// Tenants file merges on top of the main file so deployments can keep
	// per-tenant keys and caps out of the primary config.
	if tf := stringAt(tree, "auth", "tenants_file"); tf != "" {
		tcfg, err := loadYAMLMap(expandHome(tf))
		if err != nil {
			return nil, err
		}
		tree = deepMerge(tree, tcfg)
	}

	tree = deepMerge(tree, envOverlay(os.Environ()))

	raw, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Log.OpsLog = expandHome(cfg.Log.OpsLog)
	cfg.Log.AccessLog = expandHome(cfg.Log.AccessLog)
	return &cfg, nil
}

func loadYAMLMap(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config.Load: read %s: %w", path, err)
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config.Load: parse %s: %w", path, err)
	}
	return substEnvTree(m).(map[string]interface{}), nil
}

var envPattern = regexp.MustCompile(`\$\{([^}:|]+)(?:\|([^}]*))?\}`)

// substEnvTree resolves ${VAR} and ${VAR|default} references in string
// values of the parsed YAML tree.
func substEnvTree(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = substEnvTree(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = substEnvTree(val)
		}
		return out
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(m string) string {
			groups := envPattern.FindStringSubmatch(m)
			if val, ok := os.LookupEnv(groups[1]); ok {
				return val
			}
			return groups[2]
		})
	default:
		return v
	}
}

// envOverlay maps PATCHVEC_SECTION__KEY=value pairs into a nested tree,
// coercing booleans and numerics.
func envOverlay(environ []string) map[string]interface{} {
	out := map[string]interface{}{}
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, val := kv[:eq], kv[eq+1:]
		if !strings.HasPrefix(key, envPrefix) || key == envPrefix+"CONFIG" {
			continue
		}
		parts := strings.Split(strings.ToLower(key[len(envPrefix):]), "__")
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = coerce(val)
	}
	return out
}

func coerce(s string) interface{} {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func deepMerge(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if vm, ok := v.(map[string]interface{}); ok {
			if am, ok := out[k].(map[string]interface{}); ok {
				out[k] = deepMerge(am, vm)
				continue
			}
		}
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func stringAt(tree map[string]interface{}, path ...string) string {
	cur := interface{}(tree)
	for _, p := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = m[p]
	}
	s, _ := cur.(string)
	return s
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
