package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "gateway":
		return gatewayTemplate, nil
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

const gatewayTemplate = `name = "wapgw"
bind_addr = ":9201"
unit_bind_addr = ":9200"
metrics_addr = ":9280"

[wtp]
ack_interval_ms = 5000
retransmit_interval_ms = 7000
wait_timeout_ms = 30000
max_retransmit = 8
max_ack_waits = 6
seg_size = 1400
group_len = 4
tid_window_s = 300

[wsp]
max_client_sdu_size = 1400
max_server_sdu_size = 1400

[ppg]
max_pending = 1024

[origin]
timeout_ms = 10000
max_attempts = 3
retry_min_ms = 250
retry_max_ms = 5000
max_body = 1048576
`
