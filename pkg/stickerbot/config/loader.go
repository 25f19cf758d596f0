// Package config – loader.go reads the YAML file, loads .env files and
// expands environment variable references before parsing.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envRef matches ${NAME}, ${NAME:-fallback}, ${NAME:?message} and bare
// $NAME references. Bare references only match upper-case names so prices
// like "$5" survive.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadConfigFromFile reads and parses a YAML configuration file.
// .env files are loaded first and environment variables are expanded.
// Returns an error if any ${VAR:?error} pattern has its variable unset.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)

	return cfg, nil
}

// Load returns the configuration at path, or the defaults when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		return cfg, cfg.Validate()
	}
	return LoadConfigFromFile(path)
}

// ParseConfig parses YAML bytes into a Config.
// Starts with defaults and overlays values from the YAML.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveConfigToFile writes a Config as YAML to the specified path.
// An existing file is backed up to .bak before it is overwritten.
func SaveConfigToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Refuse to write something that would not load back.
	if _, err := ParseConfig(data); err != nil {
		return fmt.Errorf("refusing to write config: %w", err)
	}

	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"stickerbot.yaml",
		"stickerbot.yml",
		"configs/config.yaml",
		"configs/stickerbot.yaml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadEnvFiles loads .env and .env.local from the working directory and the
// config directory. Existing variables are never overwritten.
func loadEnvFiles(configDir string) {
	dirs := []string{"."}
	if configDir != "" && configDir != "." {
		dirs = append(dirs, configDir)
	}
	for _, dir := range dirs {
		for _, name := range []string{".env.local", ".env"} {
			_ = godotenv.Load(filepath.Join(dir, name))
		}
	}
}

// expandEnv substitutes environment references in input. ${NAME:-x} falls
// back to x and ${NAME:?msg} fails with msg when NAME is unset; any other
// unset reference is left as written.
func expandEnv(input string) (string, error) {
	var missing error
	out := envRef.ReplaceAllStringFunc(input, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		name, op, arg := m[1], m[2], m[3]
		if name == "" {
			name = m[4]
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		switch op {
		case "-":
			return arg
		case "?":
			if missing == nil {
				if arg = strings.TrimSpace(arg); arg == "" {
					arg = "required environment variable not set"
				}
				missing = fmt.Errorf("config error: %s - %s", name, arg)
			}
		}
		return ref
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

// resolveRelativePaths anchors relative paths at the config file's
// directory so the daemon behaves the same from any working directory.
// Binary names without a separator stay PATH lookups.
func resolveRelativePaths(cfg *Config, configPath string) {
	configDir := filepath.Dir(configPath)

	for _, p := range []*string{
		&cfg.Sticker.ScratchDir,
		&cfg.Channels.WhatsApp.SessionDir,
		&cfg.Channels.WhatsApp.DatabasePath,
		&cfg.LockFile,
	} {
		*p = resolvePathFromConfig(*p, configDir)
	}
	for _, p := range []*string{&cfg.Sticker.FFmpegPath, &cfg.Sticker.FFprobePath} {
		if strings.ContainsRune(*p, filepath.Separator) {
			*p = resolvePathFromConfig(*p, configDir)
		}
	}
}

// resolvePathFromConfig expands a leading ~/ and makes path absolute
// relative to configDir. Empty paths stay empty.
func resolvePathFromConfig(path, configDir string) string {
	switch {
	case path == "":
		return ""
	case strings.HasPrefix(path, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
		return path
	case filepath.IsAbs(path):
		return path
	}
	joined := filepath.Join(configDir, path)
	if abs, err := filepath.Abs(joined); err == nil {
		return abs
	}
	return joined
}

// checkFilePermissions warns when group or others can read the config.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil || info.Mode().Perm()&0o044 == 0 {
		return
	}
	slog.Warn("config file is readable by other users",
		"path", path,
		"mode", fmt.Sprintf("%04o", info.Mode().Perm()),
		"fix", "chmod 600 "+path)
}
