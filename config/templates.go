package config

import (
	"os"

	"github.com/danmuck/ggipc/ggerr"
)

// Template returns a commented TOML client configuration with the default
// values.
func Template() string {
	return clientTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return ggerr.Errorf(ggerr.Config, "config already exists: %s", path)
		}
	}
	if err := os.WriteFile(path, []byte(clientTemplate), 0o600); err != nil {
		return ggerr.Errorf(ggerr.Failure, "config write failed (%s): %w", path, err)
	}
	return nil
}

const clientTemplate = `# Unix socket of the supervisor. Falls back to
# AWS_GG_NUCLEUS_DOMAIN_SOCKET_FILEPATH_FOR_COMPONENT when empty.
socket_path = ""

# Falls back to SVCUID when empty.
auth_token = ""

response_timeout = "10s"
max_streams = 16
max_message_len = 10000
`
