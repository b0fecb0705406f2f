package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "servers":
		return serversTemplate, nil
	case "bridge":
		return bridgeTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serversTemplate = `[[servers]]
name = "burp"
url = "http://127.0.0.1:9876"
api_key = ""
default = true

[[servers]]
name = "scanner"
url = "http://127.0.0.1:9877"
api_key = "change-me"
enabled = false
`

const bridgeTemplate = `name = "mcpbridge"
addr = ":9200"
catalog = "cmd/mcpbridge/servers.toml"
cors_origins = ["http://localhost:3000"]

[session]
connect_timeout = "10s"
handshake_timeout = "15s"
call_timeout = "30s"

[tls]
ca_file = ""
cert_file = ""
key_file = ""
server_name = ""
insecure_skip_verify = false
`
