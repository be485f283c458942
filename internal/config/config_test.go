package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, name := range []string{EnvClientID, EnvCredentialsPath, EnvServiceAccountKeyFile, EnvDefaultCalendarID, EnvTimezone, EnvListen} {
		t.Setenv(name, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvClientID, "env-client")

	config, err := LoadConfig("", Config{})
	require.NoError(t, err)

	assert.Equal(t, "env-client", config.ClientID)
	assert.Equal(t, "primary", config.DefaultCalendarID)
	assert.Equal(t, "127.0.0.1:3838", config.Listen)
	assert.Equal(t, "127.0.0.1:8080", config.ConsentAddr)
}

func TestLoadConfig_Precedence(t *testing.T) {
	clearEnv(t)
	configPath := writeFile(t, "config.json", `{
		"client_id": "file-client",
		"default_calendar_id": "file-calendar",
		"timezone": "UTC"
	}`)

	config, err := LoadConfig(configPath, Config{})
	require.NoError(t, err)
	assert.Equal(t, "file-client", config.ClientID)
	assert.Equal(t, "file-calendar", config.DefaultCalendarID)

	t.Setenv(EnvClientID, "env-client")
	config, err = LoadConfig(configPath, Config{})
	require.NoError(t, err)
	assert.Equal(t, "env-client", config.ClientID)
	assert.Equal(t, "file-calendar", config.DefaultCalendarID)

	config, err = LoadConfig(configPath, Config{ClientID: "flag-client", DefaultCalendarID: "flag-calendar"})
	require.NoError(t, err)
	assert.Equal(t, "flag-client", config.ClientID)
	assert.Equal(t, "flag-calendar", config.DefaultCalendarID)
}

func TestLoadConfigFromFile_Formats(t *testing.T) {
	cases := map[string]string{
		"config.yaml": "client_id: abc\ndefault_calendar_id: team@example.com\nservice_account_key_file: /keys/sa.json\n",
		"config.toml": "client_id = \"abc\"\ndefault_calendar_id = \"team@example.com\"\nservice_account_key_file = \"/keys/sa.json\"\n",
		"config.json": `{"client_id":"abc","default_calendar_id":"team@example.com","service_account_key_file":"/keys/sa.json"}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			config, err := LoadConfigFromFile(writeFile(t, name, content))
			require.NoError(t, err)
			assert.Equal(t, "abc", config.ClientID)
			assert.Equal(t, "team@example.com", config.DefaultCalendarID)
			assert.Equal(t, "/keys/sa.json", config.ServiceAccountKeyFile)
		})
	}
}

func TestLoadConfigFromFile_UnknownExtension(t *testing.T) {
	_, err := LoadConfigFromFile(writeFile(t, "config.ini", "client_id=abc"))
	assert.Error(t, err)
}

func TestLoadConfig_CredentialsFile(t *testing.T) {
	clearEnv(t)
	credsPath := writeFile(t, "credentials.json", `{"installed":{"client_id":"installed-id","client_secret":"s3cret"}}`)

	config, err := LoadConfig("", Config{CredentialsPath: credsPath})
	require.NoError(t, err)
	assert.Equal(t, "installed-id", config.ClientID)
	assert.Equal(t, "s3cret", config.ClientSecret)

	config, err = LoadConfig("", Config{CredentialsPath: credsPath, ClientID: "explicit"})
	require.NoError(t, err)
	assert.Equal(t, "explicit", config.ClientID)
}

func TestLoadGoogleCredentials_Web(t *testing.T) {
	path := writeFile(t, "credentials.json", `{"web":{"client_id":"web-id","client_secret":"web-secret"}}`)
	id, secret, err := LoadGoogleCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, "web-id", id)
	assert.Equal(t, "web-secret", secret)

	_, _, err = LoadGoogleCredentials(writeFile(t, "empty.json", `{}`))
	assert.Error(t, err)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	err := Config{Timezone: "Mars/Olympus", Listen: "nope", ConsentAddr: "127.0.0.1:8080"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id must be provided")
	assert.Contains(t, err.Error(), "invalid timezone")
	assert.Contains(t, err.Error(), "invalid listen address")
	assert.NotContains(t, err.Error(), "invalid consent address")
}

func TestValidate_ServiceAccountOnly(t *testing.T) {
	err := Config{ServiceAccountKeyFile: "/keys/sa.json", Listen: ":3838", ConsentAddr: ":8080"}.Validate()
	assert.NoError(t, err)
}

func TestMarshalJSON_HidesSecret(t *testing.T) {
	config := Config{ClientID: "abc", ClientSecret: "s3cret"}
	config.SetServiceAccountKeyFile("/keys/sa.json")

	data, err := json.Marshal(config)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "/keys/sa.json")
	assert.NotContains(t, string(data), "s3cret")

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "abc", out["client_id"])
	assert.Equal(t, map[string]any{"service_account_key_file": true}, out["secure_json_fields"])

	config.ResetServiceAccountKeyFile()
	assert.Equal(t, map[string]bool{"service_account_key_file": false}, config.SecureJSONFields())
}

func TestLocation(t *testing.T) {
	loc, err := Config{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	loc, err = Config{Timezone: "UTC"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}
