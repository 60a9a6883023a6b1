package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		setup   func()
		cleanup func()
		wantErr bool
		check   func(t *testing.T)
	}{
		{
			name: "load from settings file",
			setup: func() {
				viper.Reset()
				content := `
server:
  host: "127.0.0.1"
  port: 8081
database:
  path: "./test.db"
`
				_ = os.MkdirAll("./config", 0755)
				_ = os.WriteFile("./config/settings.yaml", []byte(content), 0644)
			},
			cleanup: func() {
				_ = os.RemoveAll("./config")
				viper.Reset()
			},
			wantErr: false,
			check: func(t *testing.T) {
				if GetInt("server.port") != 8081 {
					t.Errorf("Expected server.port to be 8081, got %d", GetInt("server.port"))
				}
			},
		},
		{
			name: "environment variable override",
			setup: func() {
				viper.Reset()
				os.Setenv("PODDIGEST_SERVER_PORT", "9090")
			},
			cleanup: func() {
				os.Unsetenv("PODDIGEST_SERVER_PORT")
				viper.Reset()
			},
			wantErr: false,
			check: func(t *testing.T) {
				if GetInt("server.port") != 9090 {
					t.Errorf("Expected server.port to be overridden to 9090, got %d", GetInt("server.port"))
				}
			},
		},
		{
			name: "missing config file with defaults",
			setup: func() {
				viper.Reset()
			},
			cleanup: func() {
				viper.Reset()
			},
			wantErr: false,
			check: func(t *testing.T) {
				if GetInt("server.port") != 8080 {
					t.Errorf("Expected default server.port to be 8080, got %d", GetInt("server.port"))
				}
				if GetString("storage.backend") != "filesystem" {
					t.Errorf("Expected default storage backend filesystem, got %s", GetString("storage.backend"))
				}
				if GetInt("pipeline.fallback_episode_limit") != 50 {
					t.Errorf("Expected default fallback episode limit 50, got %d", GetInt("pipeline.fallback_episode_limit"))
				}
			},
		},
		{
			name: "invalid storage backend rejected",
			setup: func() {
				viper.Reset()
				os.Setenv("PODDIGEST_STORAGE_BACKEND", "carrier-pigeon")
			},
			cleanup: func() {
				os.Unsetenv("PODDIGEST_STORAGE_BACKEND")
				viper.Reset()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer tt.cleanup()

			err := load()
			if (err != nil) != tt.wantErr {
				t.Errorf("load() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.check != nil && err == nil {
				tt.check(t)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Server: ServerConfig{
					Host: "localhost",
					Port: 8080,
				},
				Storage: StorageConfig{
					Backend: "filesystem",
				},
				Database: DatabaseConfig{
					Path: "./data/poddigest.db",
				},
			},
			wantErr: false,
		},
		{
			name: "invalid port",
			config: &Config{
				Server: ServerConfig{
					Host: "localhost",
					Port: 0,
				},
				Storage: StorageConfig{
					Backend: "filesystem",
				},
			},
			wantErr: true,
		},
		{
			name: "s3 backend without bucket",
			config: &Config{
				Server: ServerConfig{
					Host: "localhost",
					Port: 8080,
				},
				Storage: StorageConfig{
					Backend: "s3",
				},
			},
			wantErr: true,
		},
		{
			name: "s3 backend with bucket",
			config: &Config{
				Server: ServerConfig{
					Host: "localhost",
					Port: 8080,
				},
				Storage: StorageConfig{
					Backend: "s3",
					S3:      S3Config{Bucket: "digests"},
				},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
